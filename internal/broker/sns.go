package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// snsAPI is the subset of *sns.Client used by SNSBroker.
type snsAPI interface {
	CreatePlatformEndpoint(ctx context.Context, in *sns.CreatePlatformEndpointInput, optFns ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error)
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSBroker publishes through Amazon SNS mobile push.
type SNSBroker struct {
	client snsAPI
}

// NewSNS loads the default AWS configuration (environment, shared config,
// instance role) for region and returns an SNS-backed broker.
func NewSNS(ctx context.Context, region string) (*SNSBroker, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &SNSBroker{client: sns.NewFromConfig(cfg)}, nil
}

// NewSNSWithClient wraps an existing SNS client.
func NewSNSWithClient(client snsAPI) *SNSBroker {
	return &SNSBroker{client: client}
}

// CreatePlatformEndpoint implements Broker. The returned reference is the
// endpoint ARN.
func (b *SNSBroker) CreatePlatformEndpoint(ctx context.Context, applicationID, registrationToken string) (string, error) {
	if applicationID == "" {
		return "", ErrApplicationRequired
	}
	out, err := b.client.CreatePlatformEndpoint(ctx, &sns.CreatePlatformEndpointInput{
		PlatformApplicationArn: aws.String(applicationID),
		Token:                  aws.String(registrationToken),
	})
	if err != nil {
		return "", fmt.Errorf("sns create platform endpoint: %w", err)
	}
	return aws.ToString(out.EndpointArn), nil
}

// Publish implements Broker. The message uses the JSON message structure
// with a single key, the protocol tag.
func (b *SNSBroker) Publish(ctx context.Context, in PublishInput) (string, error) {
	if err := validatePublish(in); err != nil {
		return "", err
	}

	message, err := json.Marshal(map[string]string{in.Protocol: in.Body})
	if err != nil {
		return "", fmt.Errorf("encoding sns message: %w", err)
	}

	out, err := b.client.Publish(ctx, &sns.PublishInput{
		Message:           aws.String(string(message)),
		MessageStructure:  aws.String("json"),
		TargetArn:         aws.String(in.EndpointRef),
		MessageAttributes: snsAttributes(in.Attributes),
	})
	if err != nil {
		return "", fmt.Errorf("sns publish: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

func snsAttributes(attrs map[string]Attribute) map[string]types.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]types.MessageAttributeValue, len(attrs))
	for name, a := range attrs {
		v := types.MessageAttributeValue{DataType: aws.String(a.DataType)}
		if a.StringValue != "" {
			v.StringValue = aws.String(a.StringValue)
		}
		if a.BinaryValue != nil {
			v.BinaryValue = a.BinaryValue
		}
		out[name] = v
	}
	return out
}
