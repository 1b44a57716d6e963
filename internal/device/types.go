package device

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Network identifies the push network a device is registered with.
type Network string

// Supported push networks.
const (
	NetworkFCM  Network = "fcm"
	NetworkAPNS Network = "apns"
	NetworkWNS  Network = "wns"
)

// AllNetworks returns every supported network.
func AllNetworks() []Network {
	return []Network{NetworkFCM, NetworkAPNS, NetworkWNS}
}

// IsValid reports whether n is a supported network.
func (n Network) IsValid() bool {
	switch n {
	case NetworkFCM, NetworkAPNS, NetworkWNS:
		return true
	}
	return false
}

// ParseNetwork lower-cases s and validates it.
func ParseNetwork(s string) (Network, error) {
	n := Network(strings.ToLower(strings.TrimSpace(s)))
	if !n.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidNetwork, s)
	}
	return n, nil
}

// Device is one registered handset on one push network.
// The pair (Network, RegistrationID) is unique.
type Device struct {
	ID             string  `json:"id"`
	Network        Network `json:"network"`
	RegistrationID string  `json:"registration_id"`

	// Details is an opaque client-supplied JSON object.
	Details json.RawMessage `json:"details"`

	// EndpointRef is the broker-side endpoint, empty until first delivery.
	EndpointRef string `json:"endpoint_arn,omitempty"`

	// CurrentAddress and CurrentToken form the listening address written
	// by the latest registration. CurrentAddress is nil when the client
	// registered without an origin address.
	CurrentAddress *string `json:"current_address,omitempty"`
	CurrentToken   string  `json:"current_token"`

	MessageCount int64     `json:"message_count"`
	CreatedAt    time.Time `json:"ctime"`
	AccessedAt   time.Time `json:"atime"`
}

// Registration is the input of an upsert on (Network, RegistrationID).
type Registration struct {
	// ID is used only when a new row is inserted.
	ID             string
	Network        Network
	RegistrationID string

	// Details replaces the stored document when non-nil. A new row
	// without details gets "{}".
	Details json.RawMessage

	Address *string
	Token   string
	At      time.Time
}

// Validate checks the fields every store relies on.
func (r Registration) Validate() error {
	if !r.Network.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidNetwork, r.Network)
	}
	if strings.TrimSpace(r.RegistrationID) == "" {
		return ErrInvalidRegistration
	}
	if r.Token == "" || r.ID == "" {
		return fmt.Errorf("%w: missing id or token", ErrInvalidRegistration)
	}
	if r.Details != nil && !isJSONObject(r.Details) {
		return ErrInvalidDetails
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}
