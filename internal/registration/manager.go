// Package registration binds a device's push network registration to an
// origin address and hands out the dispatch token the origin uses to reach
// it.
//
// Every registration rotates the token: the device row is upserted on
// (network, registration_id) and its listening address is overwritten, so
// tokens issued earlier stop matching.
package registration

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/pushrelay/internal/device"
	"github.com/nerrad567/pushrelay/internal/infrastructure/logging"
)

var (
	// ErrValidation is returned for malformed registration requests.
	ErrValidation = errors.New("registration: invalid request")

	// ErrDependencyUnavailable wraps store failures.
	ErrDependencyUnavailable = errors.New("registration: dependency unavailable")
)

// tokenBytes is the dispatch token entropy; the token is its hex encoding.
const tokenBytes = 16

// Request is one registration call.
type Request struct {
	Network        string          `json:"network"`
	RegistrationID string          `json:"registration_id"`
	Details        json.RawMessage `json:"details,omitempty"`
	Address        *string         `json:"address"`
}

// Result is returned to the registering client.
type Result struct {
	Token        string    `json:"token"`
	CreatedAt    time.Time `json:"ctime"`
	AccessedAt   time.Time `json:"atime"`
	MessageCount int64     `json:"message_count"`
}

// Observer is notified of successful registrations.
type Observer interface {
	ObserveRegistration(network string)
}

// Logger defines the logging interface used by the manager.
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

// Manager handles device registrations.
type Manager struct {
	devices   device.Repository
	observers []Observer
	logger    Logger
	now       func() time.Time
	newToken  func() (string, error)
}

// NewManager creates a registration manager.
func NewManager(devices device.Repository, observers ...Observer) *Manager {
	return &Manager{
		devices:   devices,
		observers: observers,
		logger:    noopLogger{},
		now:       time.Now,
		newToken:  newDispatchToken,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// Register upserts the device and issues a fresh dispatch token.
//
// The network name is matched case-insensitively. Details, when present,
// replace the stored document; otherwise the stored document is kept. No
// broker call is made.
//
// Returns:
//   - *Result: The new token and the device's timestamps and counter
//   - error: nil on success, ErrValidation for malformed input, or the
//     store error
func (m *Manager) Register(ctx context.Context, req Request) (*Result, error) {
	network, err := device.ParseNetwork(req.Network)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	address := req.Address
	if address != nil && *address == "" {
		address = nil
	}

	details := req.Details
	if bytes.Equal(bytes.TrimSpace(details), []byte("null")) {
		details = nil
	}

	token, err := m.newToken()
	if err != nil {
		return nil, fmt.Errorf("generating dispatch token: %w", err)
	}

	reg := device.Registration{
		ID:             uuid.NewString(),
		Network:        network,
		RegistrationID: req.RegistrationID,
		Details:        details,
		Address:        address,
		Token:          token,
		At:             m.now().UTC(),
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	dev, err := m.devices.UpsertRegistration(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("%w: storing registration: %w", ErrDependencyUnavailable, err)
	}

	m.logger.Debug("device registered", "network", network, "device_id", dev.ID,
		"registration_id", logging.Redact(req.RegistrationID))
	for _, o := range m.observers {
		o.ObserveRegistration(string(network))
	}

	return &Result{
		Token:        dev.CurrentToken,
		CreatedAt:    dev.CreatedAt,
		AccessedAt:   dev.AccessedAt,
		MessageCount: dev.MessageCount,
	}, nil
}

func newDispatchToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
