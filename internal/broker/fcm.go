package broker

import (
	"context"
	"encoding/json"
	"fmt"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"

	"github.com/nerrad567/pushrelay/internal/infrastructure/config"
)

// fcmSender is the subset of *messaging.Client used by FCMBroker.
type fcmSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMBroker sends directly to Firebase Cloud Messaging. It only carries the
// GCM protocol; the endpoint reference is the registration token itself.
type FCMBroker struct {
	client fcmSender
}

// NewFCM initialises the Firebase app from a service account file or JSON
// document and returns a broker using its messaging client.
func NewFCM(ctx context.Context, cfg config.FCMConfig) (*FCMBroker, error) {
	var opt option.ClientOption
	if cfg.CredentialsJSON != "" {
		opt = option.WithCredentialsJSON([]byte(cfg.CredentialsJSON))
	} else {
		opt = option.WithCredentialsFile(cfg.CredentialsFile)
	}

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating firebase messaging client: %w", err)
	}
	return &FCMBroker{client: client}, nil
}

// NewFCMWithClient wraps an existing sender.
func NewFCMWithClient(client fcmSender) *FCMBroker {
	return &FCMBroker{client: client}
}

// CreatePlatformEndpoint implements Broker. FCM has no endpoint resource,
// so the token is returned unchanged.
func (b *FCMBroker) CreatePlatformEndpoint(_ context.Context, _, registrationToken string) (string, error) {
	if registrationToken == "" {
		return "", fmt.Errorf("%w: empty registration token", ErrEndpointRequired)
	}
	return registrationToken, nil
}

// gcmBody is the GCM payload shape SNS accepts for the GCM protocol.
type gcmBody struct {
	Notification *struct {
		Title string `json:"title"`
		Body  string `json:"body"`
		Image string `json:"image"`
	} `json:"notification"`
	Data     map[string]string `json:"data"`
	Priority string            `json:"priority"`
}

// Publish implements Broker.
func (b *FCMBroker) Publish(ctx context.Context, in PublishInput) (string, error) {
	if err := validatePublish(in); err != nil {
		return "", err
	}
	if in.Protocol != ProtocolGCM {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedProtocol, in.Protocol)
	}

	id, err := b.client.Send(ctx, buildFCMMessage(in))
	if err != nil {
		return "", fmt.Errorf("fcm send: %w", err)
	}
	return id, nil
}

// buildFCMMessage maps a GCM body onto an FCM message. A body that is not a
// GCM JSON object is delivered as the "message" data field.
func buildFCMMessage(in PublishInput) *messaging.Message {
	msg := &messaging.Message{Token: in.EndpointRef}

	var body gcmBody
	if err := json.Unmarshal([]byte(in.Body), &body); err != nil || (body.Notification == nil && body.Data == nil) {
		msg.Data = map[string]string{"message": in.Body}
	} else {
		msg.Data = body.Data
		if n := body.Notification; n != nil {
			msg.Notification = &messaging.Notification{Title: n.Title, Body: n.Body, ImageURL: n.Image}
		}
		if body.Priority == "high" || body.Priority == "normal" {
			msg.Android = &messaging.AndroidConfig{Priority: body.Priority}
		}
	}

	for name, a := range in.Attributes {
		if a.StringValue == "" {
			continue
		}
		if msg.Data == nil {
			msg.Data = make(map[string]string)
		}
		if _, taken := msg.Data[name]; !taken {
			msg.Data[name] = a.StringValue
		}
	}
	return msg
}
