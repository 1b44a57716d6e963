// Package broker delivers notifications through a notification broker.
//
// The relay needs two things from a broker: create a per-device endpoint
// from a push network registration token, and publish a message to such an
// endpoint. Three drivers implement Broker:
//
//   - SNS: Amazon SNS mobile push (platform applications per network)
//   - MQTT: hands notifications to self-hosted gateways over MQTT
//   - FCM: sends FCM messages directly through the Firebase Admin SDK
//
// Throttled wraps any driver to pace broker calls.
package broker

import (
	"context"
	"errors"
	"strings"
)

// Protocol tags understood by brokers, one per push network.
const (
	ProtocolGCM         = "GCM"
	ProtocolAPNS        = "APNS"
	ProtocolAPNSSandbox = "APNS_SANDBOX"
	ProtocolWNS         = "WNS"
)

var (
	// ErrEndpointRequired is returned when Publish has no endpoint reference.
	ErrEndpointRequired = errors.New("broker: endpoint reference required")

	// ErrApplicationRequired is returned when CreatePlatformEndpoint has no
	// application identity.
	ErrApplicationRequired = errors.New("broker: application identity required")

	// ErrUnsupportedProtocol is returned by drivers that cannot carry a protocol.
	ErrUnsupportedProtocol = errors.New("broker: unsupported protocol")
)

// Attribute is a typed message attribute, in the SNS wire shape.
type Attribute struct {
	DataType    string `json:"DataType"`
	StringValue string `json:"StringValue,omitempty"`
	BinaryValue []byte `json:"BinaryValue,omitempty"`
}

// PublishInput is one message addressed to one endpoint.
type PublishInput struct {
	EndpointRef string
	Protocol    string
	Body        string
	Attributes  map[string]Attribute
}

// Broker is the notification broker capability.
type Broker interface {
	// CreatePlatformEndpoint registers registrationToken with the broker
	// application applicationID and returns the endpoint reference.
	CreatePlatformEndpoint(ctx context.Context, applicationID, registrationToken string) (string, error)

	// Publish sends one message and returns the broker's delivery id.
	Publish(ctx context.Context, in PublishInput) (string, error)
}

// ProtocolFor returns the protocol tag for a push network name. APNs
// applications whose identity contains "SANDBOX" use the sandbox protocol.
func ProtocolFor(network, applicationID string) (string, bool) {
	switch network {
	case "fcm":
		return ProtocolGCM, true
	case "apns":
		if strings.Contains(applicationID, "SANDBOX") {
			return ProtocolAPNSSandbox, true
		}
		return ProtocolAPNS, true
	case "wns":
		return ProtocolWNS, true
	}
	return "", false
}

func validatePublish(in PublishInput) error {
	if in.EndpointRef == "" {
		return ErrEndpointRequired
	}
	if in.Protocol == "" {
		return ErrUnsupportedProtocol
	}
	return nil
}
