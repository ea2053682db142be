// Package device talks to the hardware around the shared washing machine:
// a metered smart plug (relay) and the appliance vendor's telemetry API.
package device

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"laundry-share-backend/internal/model"
)

// Mode is the desired relay position.
type Mode string

const (
	On  Mode = "on"
	Off Mode = "off"
)

// Relay switches power to the machine. The returned code is the transport
// status of the request (an HTTP status code for HTTP transports).
type Relay interface {
	SetRelay(ctx context.Context, mode Mode) (int, error)
}

// Meter reports the cumulative energy counter of the plug.
type Meter interface {
	EnergyKWh(ctx context.Context) (float64, error)
}

// Appliance reports the vendor status of the machine.
type Appliance interface {
	ApplianceStatus(ctx context.Context) (model.ApplianceSnapshot, error)
}

// Gateway bundles every device-facing capability.
type Gateway interface {
	Relay
	Meter
	Appliance
}

type gateway struct {
	Relay
	Meter
	Appliance
}

// NewGateway composes independent transports into a Gateway.
func NewGateway(r Relay, m Meter, a Appliance) Gateway {
	return gateway{Relay: r, Meter: m, Appliance: a}
}

// NewHTTPClient builds the client shared by the HTTP transports, honouring
// an optional proxy.
func NewHTTPClient(proxy string, timeout time.Duration, log *zap.SugaredLogger) *http.Client {
	var transport http.RoundTripper = &http.Transport{}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			log.Warnw("invalid proxy URL, devices will be contacted directly", "proxy", proxy, "err", err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}
