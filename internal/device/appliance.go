package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"laundry-share-backend/config"
	"laundry-share-backend/internal/clock"
	"laundry-share-backend/internal/errs"
	"laundry-share-backend/internal/model"
	"laundry-share-backend/internal/parse"
)

var errUnauthorized = errors.New("appliance API rejected the access token")

// ApplianceClient reads the machine status from the vendor cloud API.
// Access tokens are kept in memory and refreshed on demand.
type ApplianceClient struct {
	cfg    config.ApplianceConfig
	client *http.Client
	clock  clock.Clock
	log    *zap.SugaredLogger

	mu    sync.Mutex
	token string
}

// NewApplianceClient creates a client seeded with the configured access token.
func NewApplianceClient(cfg config.ApplianceConfig, client *http.Client, clk clock.Clock, log *zap.SugaredLogger) *ApplianceClient {
	return &ApplianceClient{
		cfg:    cfg,
		client: client,
		clock:  clk,
		log:    log,
		token:  cfg.AccessToken,
	}
}

type applianceResponse struct {
	Appliance struct {
		CurrentStatus           string                 `json:"current_status"`
		CurrentStatusParameters parse.StatusParameters `json:"current_status_parameters"`
	} `json:"appliance"`
}

type tokenResponse struct {
	IDToken string `json:"id_token"`
}

// ApplianceStatus fetches and normalises the current status. A rejected token
// is refreshed once and the request retried once; a second rejection fails.
func (a *ApplianceClient) ApplianceStatus(ctx context.Context) (model.ApplianceSnapshot, error) {
	if a.currentToken() == "" {
		if err := a.refresh(ctx); err != nil {
			return model.ApplianceSnapshot{}, err
		}
	}

	resp, err := a.fetch(ctx)
	if errors.Is(err, errUnauthorized) {
		a.log.Info("appliance token rejected, refreshing")
		if err := a.refresh(ctx); err != nil {
			return model.ApplianceSnapshot{}, err
		}
		resp, err = a.fetch(ctx)
	}
	if errors.Is(err, errUnauthorized) {
		return model.ApplianceSnapshot{}, errs.Wrap(errs.KindDeviceUnavailable, "appliance API still unauthorized after token refresh", err)
	}
	if err != nil {
		return model.ApplianceSnapshot{}, err
	}

	snap, err := parse.ParseStatus(resp.Appliance.CurrentStatusParameters, a.clock.Now().UTC())
	if err != nil {
		return model.ApplianceSnapshot{}, errs.Wrap(errs.KindDeviceUnavailable, "malformed appliance status", err)
	}
	return snap, nil
}

func (a *ApplianceClient) currentToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

func (a *ApplianceClient) fetch(ctx context.Context) (*applianceResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.StatusURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindDeviceUnavailable, "failed to create appliance request", err)
	}
	for key, value := range a.cfg.Headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Authorization", "Bearer "+a.currentToken())

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindDeviceUnavailable, "appliance request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, errUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindDeviceUnavailable, fmt.Sprintf("appliance API returned status %d", resp.StatusCode))
	}

	var out applianceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Wrap(errs.KindDeviceUnavailable, "failed to decode appliance response", err)
	}
	return &out, nil
}

func (a *ApplianceClient) refresh(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"hybrid_refresh"},
		"client_id":     {a.cfg.ClientID},
		"refresh_token": {a.cfg.RefreshToken},
		"format":        {"json"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errs.Wrap(errs.KindDeviceUnavailable, "failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindDeviceUnavailable, "token refresh failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.log.Errorw("appliance token refresh rejected", "status", resp.StatusCode)
		return errs.New(errs.KindDeviceUnavailable, fmt.Sprintf("token endpoint returned status %d", resp.StatusCode))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil || tok.IDToken == "" {
		return errs.New(errs.KindDeviceUnavailable, "token endpoint returned no token")
	}

	a.mu.Lock()
	a.token = tok.IDToken
	a.mu.Unlock()
	a.log.Info("refreshed appliance access token")
	return nil
}
