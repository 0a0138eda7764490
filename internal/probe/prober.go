// Package probe classifies a single network address as a Moonraker
// controller (optionally of a specific vendor) or not.
package probe

import (
	"context"
	"time"
)

//go:generate mockgen -source=prober.go -destination=mocks/mock_prober.go -package=mocks

// Prober checks one address. Implementations never return errors or panic
// into the caller: every failure is reported as not recognized.
type Prober interface {
	Probe(ctx context.Context, addr string, timeout time.Duration) (*Device, bool)
}

// ProberFunc adapts a plain function to Prober.
type ProberFunc func(ctx context.Context, addr string, timeout time.Duration) (*Device, bool)

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, addr string, timeout time.Duration) (*Device, bool) {
	return f(ctx, addr, timeout)
}

// InterfaceType classifies a network interface by its name.
type InterfaceType string

const (
	InterfaceWired    InterfaceType = "wired"
	InterfaceWireless InterfaceType = "wireless"
	InterfaceUnknown  InterfaceType = "unknown"
)

// Interface is one network interface reported by a device.
type Interface struct {
	Name string        `json:"name"`
	IP   string        `json:"ip"`
	MAC  string        `json:"mac"`
	Type InterfaceType `json:"type"`
}

// Device is the identity of a recognized controller.
type Device struct {
	Address      string      `json:"address"`
	Model        string      `json:"model"`
	Name         string      `json:"name"`
	SerialNumber string      `json:"serialNumber"`
	Version      string      `json:"version"`
	Network      []Interface `json:"network"`
}
