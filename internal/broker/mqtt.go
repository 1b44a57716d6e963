package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/pushrelay/internal/infrastructure/mqtt"
)

// endpointNamespace scopes the deterministic MQTT endpoint references.
var endpointNamespace = uuid.MustParse("6f1c3f2e-6a8e-4c1b-9d0a-3f4b5c6d7e80")

// mqttPublisher is satisfied by *mqtt.Client.
type mqttPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Topics() mqtt.Topics
	QoS() byte
}

// MQTTBroker hands notifications to gateways over MQTT.
//
// Endpoint references are name-based UUIDs of (application, token), so
// re-creating an endpoint for the same device yields the same reference.
type MQTTBroker struct {
	client mqttPublisher
}

// NewMQTT creates a broker publishing through client.
func NewMQTT(client mqttPublisher) *MQTTBroker {
	return &MQTTBroker{client: client}
}

type endpointMessage struct {
	Endpoint    string `json:"endpoint"`
	Application string `json:"application"`
	Token       string `json:"token"`
}

type pushMessage struct {
	DeliveryID string               `json:"delivery_id"`
	Protocol   string               `json:"protocol"`
	Body       string               `json:"body"`
	Attributes map[string]Attribute `json:"attributes,omitempty"`
}

// CreatePlatformEndpoint implements Broker by publishing a retained
// endpoint registration.
func (b *MQTTBroker) CreatePlatformEndpoint(_ context.Context, applicationID, registrationToken string) (string, error) {
	if applicationID == "" {
		return "", ErrApplicationRequired
	}
	ref := uuid.NewSHA1(endpointNamespace, []byte(applicationID+"\x00"+registrationToken)).String()

	payload, err := json.Marshal(endpointMessage{Endpoint: ref, Application: applicationID, Token: registrationToken})
	if err != nil {
		return "", fmt.Errorf("encoding endpoint registration: %w", err)
	}
	if err := b.client.Publish(b.client.Topics().Endpoint(ref), payload, b.client.QoS(), true); err != nil {
		return "", fmt.Errorf("publishing endpoint registration: %w", err)
	}
	return ref, nil
}

// Publish implements Broker.
func (b *MQTTBroker) Publish(ctx context.Context, in PublishInput) (string, error) {
	if err := validatePublish(in); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	payload, err := json.Marshal(pushMessage{
		DeliveryID: id,
		Protocol:   in.Protocol,
		Body:       in.Body,
		Attributes: in.Attributes,
	})
	if err != nil {
		return "", fmt.Errorf("encoding push message: %w", err)
	}
	if err := b.client.Publish(b.client.Topics().Push(in.EndpointRef), payload, b.client.QoS(), false); err != nil {
		return "", fmt.Errorf("publishing push message: %w", err)
	}
	return id, nil
}
