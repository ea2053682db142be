package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/api"
	"laundry-share-backend/internal/billing"
	"laundry-share-backend/internal/broker"
	"laundry-share-backend/internal/clock"
	"laundry-share-backend/internal/cycle"
	"laundry-share-backend/internal/db"
	"laundry-share-backend/internal/device"
	"laundry-share-backend/internal/logger"
	"laundry-share-backend/internal/monitor"
	"laundry-share-backend/internal/notification"
	"laundry-share-backend/internal/relay"
	"laundry-share-backend/internal/reservation"
	"laundry-share-backend/internal/scraper"
	"laundry-share-backend/internal/store"
	"laundry-share-backend/internal/tasks"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level)
	defer func() { _ = log.Sync() }()
	log.Infow("configuration loaded", "path", configPath)

	if err := run(cfg, log); err != nil {
		log.Fatalw("laundryd stopped with an error", "err", err)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		return errors.New("VAPID keys must be configured")
	}
	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	appStore := store.NewGormStore(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway, closeRelay, err := newGateway(cfg.Devices, log)
	if err != nil {
		return err
	}
	defer closeRelay()

	realClock := clock.Real{}
	events := broker.NewBroker()

	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, &webpushOptions, cfg.Push.Icon, cfg.Push.BaseURL, log)
	workerPool.Start(ctx)

	runner := tasks.NewGoroutineRunner(ctx, log)
	registry := tasks.NewRegistry(appStore, runner, log)

	orchestrator := monitor.New(cfg.Cycle, gateway, appStore, workerPool, realClock, log)
	cycles := cycle.NewManager(cfg.Cycle, cycle.Deps{
		Store:    appStore,
		Relay:    relay.NewController(gateway, realClock, log),
		Meter:    gateway,
		Registry: registry,
		Monitor:  orchestrator,
		Notifier: workerPool,
		Events:   events,
		Clock:    realClock,
		Sleeper:  realClock,
	}, log)
	reservations := reservation.NewManager(cfg.Reservation, appStore, registry, workerPool, realClock, log)
	billingSvc := billing.NewService(cfg.Billing, appStore, registry, realClock, realClock, log)
	scraperSvc := scraper.NewService(cfg.Scraper, cfg.Devices.Appliance.SnapshotTTL, appStore, gateway, realClock, log)

	// Nothing from a previous process is still running.
	if err := registry.Purge(ctx); err != nil {
		return err
	}
	if err := cycles.Resume(ctx); err != nil {
		log.Errorw("failed to resume cycle monitoring", "err", err)
	}
	if err := reservations.Resume(ctx); err != nil {
		log.Errorw("failed to resume reservation reminders", "err", err)
	}

	go scraperSvc.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(appStore, api.Services{
		Cycles:       cycles,
		Reservations: reservations,
		Billing:      billingSvc,
		Appliance:    scraperSvc,
		Events:       events,
		Clock:        realClock,
	}, &webpushOptions, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, cfg.Server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("HTTP server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Infow("shutdown signal received, stopping services", "signal", sig.String())
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown failed", "err", err)
	}

	// Background jobs are cancelled; their ledger rows are purged at next boot.
	cancel()
	runner.Wait()

	log.Info("server gracefully stopped")
	return nil
}

// newGateway builds the device gateway for the configured relay transport.
func newGateway(cfg config.DevicesConfig, log *zap.SugaredLogger) (device.Gateway, func(), error) {
	client := device.NewHTTPClient(cfg.HTTPProxy, cfg.Timeout, log)
	plug := device.NewPlug(cfg.Relay, client)
	appliance := device.NewApplianceClient(cfg.Appliance, client, clock.Real{}, log)

	switch cfg.Relay.Transport {
	case "mqtt":
		pub, err := device.NewPahoPublisher(cfg.Relay, cfg.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		log.Infow("relay driven over MQTT", "broker", cfg.Relay.MQTTBroker, "topic", cfg.Relay.MQTTTopic)
		closer := func() {
			if err := pub.Close(); err != nil {
				log.Warnw("failed to close MQTT connection", "err", err)
			}
		}
		return device.NewGateway(device.NewMQTTRelay(pub, cfg.Relay.MQTTTopic), plug, appliance), closer, nil
	case "http":
		return device.NewGateway(plug, plug, appliance), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported relay transport %q", cfg.Relay.Transport)
	}
}
