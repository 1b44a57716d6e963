// Package endpoint lazily creates broker endpoints for devices.
//
// A device gets a broker endpoint the first time a message is delivered to
// it. The reference is persisted and reused for every later delivery, so
// a device costs at most one CreatePlatformEndpoint call over its lifetime.
package endpoint

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/pushrelay/internal/broker"
	"github.com/nerrad567/pushrelay/internal/device"
	"github.com/nerrad567/pushrelay/internal/infrastructure/config"
)

// ErrNoApplication is returned when no broker application is configured for
// a device's network.
var ErrNoApplication = errors.New("endpoint: no broker application for network")

// Applications maps each push network to its broker application identity.
type Applications map[device.Network]string

// ApplicationsFromConfig builds the table from configuration. Empty
// identities are left out.
func ApplicationsFromConfig(cfg config.ApplicationsConfig) Applications {
	apps := make(Applications, 3)
	for network, id := range map[device.Network]string{
		device.NetworkFCM:  cfg.FCM,
		device.NetworkAPNS: cfg.APNS,
		device.NetworkWNS:  cfg.WNS,
	} {
		if id != "" {
			apps[network] = id
		}
	}
	return apps
}

// Logger defines the logging interface used by the provisioner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Provisioner ensures devices have a broker endpoint.
//
// Thread Safety: EnsureEndpoint is safe for concurrent use. Concurrent
// first-time calls for the same device share one broker call.
type Provisioner struct {
	broker  broker.Broker
	devices device.Repository
	apps    Applications
	group   singleflight.Group
	logger  Logger
}

// NewProvisioner creates a provisioner.
func NewProvisioner(b broker.Broker, devices device.Repository, apps Applications) *Provisioner {
	return &Provisioner{
		broker:  b,
		devices: devices,
		apps:    apps,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the provisioner.
func (p *Provisioner) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	p.logger = logger
}

// Application returns the broker application identity for network.
func (p *Provisioner) Application(network device.Network) (string, bool) {
	id, ok := p.apps[network]
	return id, ok
}

// Protocol returns the broker protocol tag for network.
func (p *Provisioner) Protocol(network device.Network) (string, error) {
	app, _ := p.Application(network)
	protocol, ok := broker.ProtocolFor(string(network), app)
	if !ok {
		return "", fmt.Errorf("%w: %q", device.ErrInvalidNetwork, network)
	}
	return protocol, nil
}

// EnsureEndpoint returns the device's endpoint reference, creating and
// persisting one if the device has none. On success dev.EndpointRef is set.
//
// Returns:
//   - string: The endpoint reference
//   - error: nil on success, or:
//   - ErrNoApplication if the device's network has no application
//   - the broker or store error otherwise
func (p *Provisioner) EnsureEndpoint(ctx context.Context, dev *device.Device) (string, error) {
	if dev.EndpointRef != "" {
		return dev.EndpointRef, nil
	}

	app, ok := p.Application(dev.Network)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoApplication, dev.Network)
	}

	// The shared call outlives any single caller; each caller stops
	// waiting on its own context.
	detached := context.WithoutCancel(ctx)
	ch := p.group.DoChan(dev.ID, func() (any, error) {
		ref, err := p.broker.CreatePlatformEndpoint(detached, app, dev.RegistrationID)
		if err != nil {
			return "", fmt.Errorf("creating endpoint: %w", err)
		}
		if err := p.devices.SetEndpoint(detached, dev.ID, ref); err != nil {
			return "", fmt.Errorf("storing endpoint: %w", err)
		}
		p.logger.Debug("endpoint created", "device_id", dev.ID, "network", dev.Network)
		return ref, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for endpoint: %w", ctx.Err())
	}
	if res.Err != nil {
		p.logger.Warn("endpoint provisioning failed", "device_id", dev.ID, "network", dev.Network, "error", res.Err)
		return "", res.Err
	}
	if res.Shared {
		p.logger.Debug("endpoint provisioning shared", "device_id", dev.ID)
	}

	ref := res.Val.(string) //nolint:forcetypeassert // group only returns strings
	dev.EndpointRef = ref
	return ref, nil
}
