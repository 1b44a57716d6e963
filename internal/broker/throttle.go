package broker

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled paces calls to a broker with a token bucket.
type Throttled struct {
	next    Broker
	limiter *rate.Limiter
}

// NewThrottled returns next paced to requestsPerSecond calls per second,
// with a burst of the same size. A non-positive rate returns next unchanged.
func NewThrottled(next Broker, requestsPerSecond int) Broker {
	if requestsPerSecond <= 0 {
		return next
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// CreatePlatformEndpoint implements Broker.
func (t *Throttled) CreatePlatformEndpoint(ctx context.Context, applicationID, registrationToken string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("broker throttle: %w", err)
	}
	return t.next.CreatePlatformEndpoint(ctx, applicationID, registrationToken)
}

// Publish implements Broker.
func (t *Throttled) Publish(ctx context.Context, in PublishInput) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("broker throttle: %w", err)
	}
	return t.next.Publish(ctx, in)
}
