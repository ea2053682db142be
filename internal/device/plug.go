package device

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/errs"
)

// Plug drives a cloud-controlled metered smart plug over HTTP. It serves as
// both the Relay and the Meter.
type Plug struct {
	cfg    config.RelayConfig
	client *http.Client
}

// NewPlug creates an HTTP plug client.
func NewPlug(cfg config.RelayConfig, client *http.Client) *Plug {
	return &Plug{cfg: cfg, client: client}
}

type plugEnvelope struct {
	IsOK   bool            `json:"isok"`
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors,omitempty"`
}

type plugStatus struct {
	DeviceStatus struct {
		Meters []struct {
			Power float64 `json:"power"`
			Total float64 `json:"total"` // watt-minutes
		} `json:"meters"`
	} `json:"device_status"`
}

// SetRelay switches the plug channel on or off.
func (p *Plug) SetRelay(ctx context.Context, mode Mode) (int, error) {
	form := url.Values{
		"id":       {p.cfg.DeviceID},
		"channel":  {strconv.Itoa(p.cfg.Channel)},
		"turn":     {string(mode)},
		"auth_key": {p.cfg.AuthKey},
	}
	code, _, err := p.post(ctx, p.cfg.ControlURL, form)
	return code, err
}

// EnergyKWh returns the plug's lifetime energy counter in kWh.
func (p *Plug) EnergyKWh(ctx context.Context) (float64, error) {
	form := url.Values{
		"id":       {p.cfg.DeviceID},
		"auth_key": {p.cfg.AuthKey},
	}
	_, env, err := p.post(ctx, p.cfg.StatusURL, form)
	if err != nil {
		return 0, err
	}

	var status plugStatus
	if err := json.Unmarshal(env.Data, &status); err != nil {
		return 0, errs.Wrap(errs.KindDeviceUnavailable, "malformed meter response", err)
	}
	meters := status.DeviceStatus.Meters
	if p.cfg.Channel < 0 || p.cfg.Channel >= len(meters) {
		return 0, errs.New(errs.KindDeviceUnavailable, fmt.Sprintf("meter channel %d not reported", p.cfg.Channel))
	}
	return meters[p.cfg.Channel].Total / 60000, nil
}

func (p *Plug) post(ctx context.Context, endpoint string, form url.Values) (int, *plugEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, errs.Wrap(errs.KindDeviceUnavailable, "failed to create plug request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, errs.Wrap(errs.KindDeviceUnavailable, "plug request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, nil, errs.New(errs.KindDeviceUnavailable,
			fmt.Sprintf("plug returned status %d", resp.StatusCode))
	}

	var env plugEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, nil, errs.Wrap(errs.KindDeviceUnavailable, "malformed plug response", err)
	}
	if !env.IsOK {
		return resp.StatusCode, nil, errs.New(errs.KindDeviceUnavailable,
			fmt.Sprintf("plug rejected request: %s", string(env.Errors)))
	}
	return resp.StatusCode, &env, nil
}
