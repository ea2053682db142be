package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Database    DatabaseConfig    `yaml:"database"`
	Push        PushConfig        `yaml:"push"`
	WorkerPool  WorkerPoolConfig  `yaml:"worker_pool"`
	Devices     DevicesConfig     `yaml:"devices"`
	Scraper     ScraperConfig     `yaml:"scraper"`
	Cycle       CycleConfig       `yaml:"cycle"`
	Billing     BillingConfig     `yaml:"billing"`
	Reservation ReservationConfig `yaml:"reservation"`
}

// LogConfig selects the zap log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
	Icon       string `yaml:"icon"`
	BaseURL    string `yaml:"base_url"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	CacheTTLSeconds int      `yaml:"cache_ttl_seconds"`
	AllowedOrigins  []string `yaml:"allowed_origins"`

	CacheTTL time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                     string `yaml:"driver"` // postgres | sqlite
	DSN                        string `yaml:"dsn"`
	MaxOpenConns               int    `yaml:"max_open_conns"`
	MaxIdleConns               int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes     int    `yaml:"conn_max_lifetime_minutes"`
	EnableExclusionConstraints bool   `yaml:"enable_exclusion_constraints"`
	LogLevel                   string `yaml:"log_level"`
}

// DevicesConfig groups the relay/meter and appliance endpoints.
type DevicesConfig struct {
	HTTPProxy      string          `yaml:"http_proxy"`
	TimeoutSeconds int             `yaml:"timeout_seconds"`
	Relay          RelayConfig     `yaml:"relay"`
	Appliance      ApplianceConfig `yaml:"appliance"`

	Timeout time.Duration `yaml:"-"`
}

// RelayConfig describes the smart plug that powers the washing machine.
type RelayConfig struct {
	Transport  string `yaml:"transport"` // http | mqtt
	ControlURL string `yaml:"control_url"`
	StatusURL  string `yaml:"status_url"`
	DeviceID   string `yaml:"device_id"`
	Channel    int    `yaml:"channel"`
	AuthKey    string `yaml:"auth_key"`

	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTClientID string `yaml:"mqtt_client_id"`
	MQTTTopic    string `yaml:"mqtt_topic"`
}

// ApplianceConfig describes the vendor telemetry API of the washing machine.
type ApplianceConfig struct {
	StatusURL    string            `yaml:"status_url"`
	TokenURL     string            `yaml:"token_url"`
	ClientID     string            `yaml:"client_id"`
	AccessToken  string            `yaml:"access_token"`
	RefreshToken string            `yaml:"refresh_token"`
	Headers      map[string]string `yaml:"headers"`
	SnapshotTTLS int               `yaml:"snapshot_ttl_seconds"`

	SnapshotTTL time.Duration `yaml:"-"`
}

// ScraperConfig holds the appliance snapshot poller configuration.
type ScraperConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`

	Interval time.Duration `yaml:"-"` // Ignored by YAML parser
}

// CycleConfig holds the lifecycle, monitoring and relay retry settings.
type CycleConfig struct {
	RequireReservation       bool `yaml:"require_reservation"`
	InitialGraceMinutes      int  `yaml:"initial_grace_minutes"`
	LongPollMinutes          int  `yaml:"long_poll_minutes"`
	ShortPollSeconds         int  `yaml:"short_poll_seconds"`
	EscalationGraceMinutes   int  `yaml:"escalation_grace_minutes"`
	ReminderIntervalMinutes  int  `yaml:"reminder_interval_minutes"`
	MaxReminders             int  `yaml:"max_reminders"`
	DoorReleaseHoldSeconds   int  `yaml:"door_release_hold_seconds"`
	RelayRetryAttempts       int  `yaml:"relay_retry_attempts"`
	RelayRetryBackoffSeconds int  `yaml:"relay_retry_backoff_seconds"`

	InitialGrace      time.Duration `yaml:"-"`
	LongPoll          time.Duration `yaml:"-"`
	ShortPoll         time.Duration `yaml:"-"`
	EscalationGrace   time.Duration `yaml:"-"`
	ReminderInterval  time.Duration `yaml:"-"`
	DoorReleaseHold   time.Duration `yaml:"-"`
	RelayRetryBackoff time.Duration `yaml:"-"`
}

// BillingConfig holds the cost recalculation and savings settings.
type BillingConfig struct {
	RecalculationGraceMinutes int     `yaml:"recalculation_grace_minutes"`
	PublicWashCost            float64 `yaml:"public_wash_cost"`

	RecalculationGrace time.Duration `yaml:"-"`
}

// ReservationConfig holds the reservation abuse guard and reminder settings.
type ReservationConfig struct {
	ReminderLeadMinutes int `yaml:"reminder_lead_minutes"`
	MaxRequests         int `yaml:"max_requests"`
	RequestWindowHours  int `yaml:"request_window_hours"`

	ReminderLead  time.Duration `yaml:"-"`
	RequestWindow time.Duration `yaml:"-"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values no default can repair.
func (cfg *Config) Validate() error {
	if cfg.Devices.Relay.Channel < 0 {
		return fmt.Errorf("devices.relay.channel must not be negative, got %d", cfg.Devices.Relay.Channel)
	}
	switch cfg.Devices.Relay.Transport {
	case "http", "mqtt":
	default:
		return fmt.Errorf("devices.relay.transport must be http or mqtt, got %q", cfg.Devices.Relay.Transport)
	}
	return nil
}

// applyEnv lets secrets live outside the YAML file.
func (cfg *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.DSN, "LAUNDRY_DATABASE_DSN")
	override(&cfg.Push.PublicKey, "LAUNDRY_VAPID_PUBLIC_KEY")
	override(&cfg.Push.PrivateKey, "LAUNDRY_VAPID_PRIVATE_KEY")
	override(&cfg.Devices.Relay.AuthKey, "LAUNDRY_RELAY_AUTH_KEY")
	override(&cfg.Devices.Appliance.ClientID, "LAUNDRY_APPLIANCE_CLIENT_ID")
	override(&cfg.Devices.Appliance.AccessToken, "LAUNDRY_APPLIANCE_ACCESS_TOKEN")
	override(&cfg.Devices.Appliance.RefreshToken, "LAUNDRY_APPLIANCE_REFRESH_TOKEN")
}

// ApplyDefaults fills unset values and derives the time.Duration fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 15
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.Push.Icon == "" {
		cfg.Push.Icon = "/static/icons/icon-192x192.png"
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Devices.TimeoutSeconds <= 0 {
		cfg.Devices.TimeoutSeconds = 30
	}
	cfg.Devices.Timeout = time.Duration(cfg.Devices.TimeoutSeconds) * time.Second
	if cfg.Devices.Relay.Transport == "" {
		cfg.Devices.Relay.Transport = "http"
	}
	if cfg.Devices.Relay.MQTTClientID == "" {
		cfg.Devices.Relay.MQTTClientID = "laundryd"
	}
	if cfg.Devices.Appliance.SnapshotTTLS <= 0 {
		cfg.Devices.Appliance.SnapshotTTLS = 120
	}
	cfg.Devices.Appliance.SnapshotTTL = time.Duration(cfg.Devices.Appliance.SnapshotTTLS) * time.Second

	if cfg.Scraper.IntervalSeconds <= 0 {
		cfg.Scraper.IntervalSeconds = 60
	}
	cfg.Scraper.Interval = time.Duration(cfg.Scraper.IntervalSeconds) * time.Second

	c := &cfg.Cycle
	c.InitialGrace = minutesOr(c.InitialGraceMinutes, 10)
	c.LongPoll = minutesOr(c.LongPollMinutes, 5)
	c.ShortPoll = secondsOr(c.ShortPollSeconds, 60)
	c.EscalationGrace = minutesOr(c.EscalationGraceMinutes, 10)
	c.ReminderInterval = minutesOr(c.ReminderIntervalMinutes, 5)
	if c.MaxReminders <= 0 {
		c.MaxReminders = 10
	}
	c.DoorReleaseHold = secondsOr(c.DoorReleaseHoldSeconds, 120)
	if c.RelayRetryAttempts <= 0 {
		c.RelayRetryAttempts = 10
	}
	c.RelayRetryBackoff = secondsOr(c.RelayRetryBackoffSeconds, 2)

	cfg.Billing.RecalculationGrace = minutesOr(cfg.Billing.RecalculationGraceMinutes, 10)

	r := &cfg.Reservation
	r.ReminderLead = minutesOr(r.ReminderLeadMinutes, 5)
	if r.MaxRequests <= 0 {
		r.MaxRequests = 3
	}
	if r.RequestWindowHours <= 0 {
		r.RequestWindowHours = 4
	}
	r.RequestWindow = time.Duration(r.RequestWindowHours) * time.Hour
}

func minutesOr(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Minute
}

func secondsOr(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}
