package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/pushrelay/internal/broker"
	"github.com/nerrad567/pushrelay/internal/device"
)

var (
	// ErrValidation is returned for malformed dispatch requests.
	ErrValidation = errors.New("dispatch: invalid request")

	// ErrInvalidSignature is returned when the origin's signature is rejected.
	ErrInvalidSignature = errors.New("dispatch: invalid signature")

	// ErrDependencyUnavailable wraps store failures that fail the request.
	ErrDependencyUnavailable = errors.New("dispatch: dependency unavailable")
)

// Payload is the network-specific content of a message.
type Payload struct {
	// Body is delivered verbatim when it is a JSON string and as its
	// compact JSON text otherwise.
	Body       json.RawMessage             `json:"body"`
	Attributes map[string]broker.Attribute `json:"attributes,omitempty"`
}

// Message is one notification addressed to a set of dispatch tokens, with
// one optional payload per push network.
type Message struct {
	Tokens []string `json:"tokens"`
	FCM    *Payload `json:"fcm,omitempty"`
	APNS   *Payload `json:"apns,omitempty"`
	WNS    *Payload `json:"wns,omitempty"`
}

// PayloadFor returns the payload for network, or nil if there is none.
func (m *Message) PayloadFor(network device.Network) *Payload {
	switch network {
	case device.NetworkFCM:
		return m.FCM
	case device.NetworkAPNS:
		return m.APNS
	case device.NetworkWNS:
		return m.WNS
	}
	return nil
}

// Request is one dispatch call.
type Request struct {
	Signature string    `json:"signature"`
	Address   string    `json:"address"`
	Messages  []Message `json:"messages"`
}

// Validate checks the required fields. An empty (non-nil) message list is
// valid.
func (r *Request) Validate() error {
	switch {
	case r.Signature == "":
		return fmt.Errorf("%w: signature is required", ErrValidation)
	case r.Address == "":
		return fmt.Errorf("%w: address is required", ErrValidation)
	case r.Messages == nil:
		return fmt.Errorf("%w: messages is required", ErrValidation)
	}
	return nil
}

// Result reports the tokens that matched no listening device and the
// distinct delivery errors. Both are omitted when empty.
type Result struct {
	InvalidTokens []string `json:"invalid_tokens,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// Verifier checks an origin's signature.
type Verifier interface {
	Verify(ctx context.Context, address, signature string) (bool, error)
}

// AcceptAll is a Verifier that accepts every signature.
type AcceptAll struct{}

// Verify implements Verifier.
func (AcceptAll) Verify(context.Context, string, string) (bool, error) {
	return true, nil
}

// Summary describes a completed or rejected dispatch for telemetry.
type Summary struct {
	// Outcome is "ok", "partial" (some deliveries failed), "rate_limited",
	// "forbidden" or "failed".
	Outcome       string
	Messages      int
	Devices       int
	Attempted     int
	Delivered     int
	InvalidTokens int
	Errors        int
	Duration      time.Duration
	At            time.Time
}

// Observer receives a Summary for every dispatch that passes validation.
type Observer interface {
	ObserveDispatch(Summary)
}

// Recorder stores attempted message counts per device id.
type Recorder interface {
	Record(ctx context.Context, address string, counts map[string]int) error
}

// Provisioner resolves a device's broker endpoint and protocol.
type Provisioner interface {
	EnsureEndpoint(ctx context.Context, dev *device.Device) (string, error)
	Protocol(network device.Network) (string, error)
}

// Logger defines the logging interface used by the engine.
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
