package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/pushrelay/internal/broker"
	"github.com/nerrad567/pushrelay/internal/device"
	"github.com/nerrad567/pushrelay/internal/ratelimit"
)

// DefaultMaxConcurrency bounds how many devices are delivered to at once.
const DefaultMaxConcurrency = 8

// Engine executes dispatch requests.
//
// Thread Safety: Dispatch is safe for concurrent use.
type Engine struct {
	devices        device.Repository
	limiter        ratelimit.Limiter
	provisioner    Provisioner
	broker         broker.Broker
	stats          Recorder
	verifier       Verifier
	observers      []Observer
	maxConcurrency int
	logger         Logger
	now            func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithVerifier replaces the AcceptAll signature check.
func WithVerifier(v Verifier) Option {
	return func(e *Engine) {
		if v != nil {
			e.verifier = v
		}
	}
}

// WithObserver adds a telemetry observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// WithMaxConcurrency sets the number of devices delivered to in parallel.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a dispatch engine.
//
// Parameters:
//   - devices: Store used to resolve listening devices
//   - limiter: Per-origin rate limiter, shared by every request
//   - provisioner: Endpoint provisioner for first-time deliveries
//   - b: Broker used to publish messages
//   - stats: Receives attempted message counts per device
func NewEngine(devices device.Repository, limiter ratelimit.Limiter, provisioner Provisioner, b broker.Broker, stats Recorder, opts ...Option) *Engine {
	e := &Engine{
		devices:        devices,
		limiter:        limiter,
		provisioner:    provisioner,
		broker:         b,
		stats:          stats,
		verifier:       AcceptAll{},
		maxConcurrency: DefaultMaxConcurrency,
		logger:         noopLogger{},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// deviceOutcome collects what happened while delivering to one device.
type deviceOutcome struct {
	attempted int
	delivered int
	errors    []string
}

// Dispatch delivers req.Messages to the devices listening on req.Address.
//
// Returns:
//   - *Result: Invalid tokens and distinct delivery errors
//   - error: nil unless the request as a whole fails:
//   - ErrValidation for missing fields
//   - ErrInvalidSignature if the verifier rejects the signature
//   - ratelimit.ErrRateLimitExceeded if the origin is over its ceiling
//   - ErrDependencyUnavailable if the store fails
func (e *Engine) Dispatch(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := e.now()
	summary := Summary{Messages: len(req.Messages), At: start.UTC()}
	defer func() {
		summary.Duration = e.now().Sub(start)
		for _, o := range e.observers {
			o.ObserveDispatch(summary)
		}
	}()

	ok, err := e.verifier.Verify(ctx, req.Address, req.Signature)
	if err != nil {
		summary.Outcome = "failed"
		return nil, fmt.Errorf("verifying signature: %w", err)
	}
	if !ok {
		summary.Outcome = "forbidden"
		return nil, ErrInvalidSignature
	}

	tokens := uniqueTokens(req.Messages)

	if err := e.limiter.CheckAndConsume(req.Address, len(req.Messages)); err != nil {
		summary.Outcome = "rate_limited"
		e.logger.Info("dispatch rate limited", "address", req.Address, "messages", len(req.Messages))
		return nil, err
	}

	var devices []device.Device
	if len(tokens) > 0 {
		devices, err = e.devices.FindListening(ctx, req.Address, tokens)
		if err != nil {
			summary.Outcome = "failed"
			return nil, fmt.Errorf("%w: resolving devices: %w", ErrDependencyUnavailable, err)
		}
	}

	result := &Result{InvalidTokens: invalidTokens(tokens, devices)}
	summary.Devices = len(devices)
	summary.InvalidTokens = len(result.InvalidTokens)

	outcomes := e.deliverAll(ctx, req.Messages, devices)

	counts := make(map[string]int, len(devices))
	seen := make(map[string]struct{})
	for i, o := range outcomes {
		if o.attempted > 0 {
			counts[devices[i].ID] = o.attempted
		}
		summary.Attempted += o.attempted
		summary.Delivered += o.delivered
		for _, msg := range o.errors {
			if _, dup := seen[msg]; dup {
				continue
			}
			seen[msg] = struct{}{}
			result.Errors = append(result.Errors, msg)
		}
	}
	summary.Errors = len(result.Errors)

	if err := e.stats.Record(ctx, req.Address, counts); err != nil {
		summary.Outcome = "failed"
		return nil, fmt.Errorf("%w: recording stats: %w", ErrDependencyUnavailable, err)
	}

	summary.Outcome = "ok"
	if len(result.Errors) > 0 {
		summary.Outcome = "partial"
	}
	e.logger.Debug("dispatch complete",
		"address", req.Address,
		"messages", len(req.Messages),
		"devices", len(devices),
		"attempted", summary.Attempted,
		"errors", len(result.Errors))

	return result, nil
}

// deliverAll runs one goroutine per device, bounded by maxConcurrency. The
// outcome slice is indexed like devices.
func (e *Engine) deliverAll(ctx context.Context, messages []Message, devices []device.Device) []deviceOutcome {
	outcomes := make([]deviceOutcome, len(devices))
	if len(devices) == 0 {
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(e.maxConcurrency)
	for i := range devices {
		g.Go(func() error {
			outcomes[i] = e.deliverToDevice(ctx, messages, &devices[i])
			return nil
		})
	}
	g.Wait() //nolint:errcheck // device goroutines never return errors

	return outcomes
}

// deliverToDevice sends, in order, every message addressed to the device's
// current token. Failures are recorded and do not stop later messages.
func (e *Engine) deliverToDevice(ctx context.Context, messages []Message, dev *device.Device) deviceOutcome {
	var out deviceOutcome
	for i := range messages {
		msg := &messages[i]
		if !addressedTo(msg, dev.CurrentToken) {
			continue
		}
		out.attempted++

		if err := e.deliver(ctx, msg, dev); err != nil {
			e.logger.Warn("delivery failed",
				"device_id", dev.ID,
				"network", dev.Network,
				"error", err)
			out.errors = append(out.errors, err.Error())
			continue
		}
		out.delivered++
	}
	return out
}

func (e *Engine) deliver(ctx context.Context, msg *Message, dev *device.Device) error {
	payload := msg.PayloadFor(dev.Network)
	if payload == nil {
		return fmt.Errorf("missing payload for push network: %s", dev.Network)
	}
	body, err := bodyText(payload.Body)
	if err != nil {
		return fmt.Errorf("invalid body for push network %s: %w", dev.Network, err)
	}
	protocol, err := e.provisioner.Protocol(dev.Network)
	if err != nil {
		return err
	}

	ref, err := e.provisioner.EnsureEndpoint(ctx, dev)
	if err != nil {
		return err
	}

	_, err = e.broker.Publish(ctx, broker.PublishInput{
		EndpointRef: ref,
		Protocol:    protocol,
		Body:        body,
		Attributes:  payload.Attributes,
	})
	return err
}

// bodyText turns a JSON body into the text handed to the broker: strings
// are unquoted, anything else is compacted.
func bodyText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", errors.New("body is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func addressedTo(msg *Message, token string) bool {
	return slices.Contains(msg.Tokens, token)
}

// uniqueTokens returns every recipient token once, in first-seen order.
func uniqueTokens(messages []Message) []string {
	seen := make(map[string]struct{})
	var tokens []string
	for _, m := range messages {
		for _, t := range m.Tokens {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// invalidTokens returns the requested tokens no device is listening on.
func invalidTokens(tokens []string, devices []device.Device) []string {
	found := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		found[d.CurrentToken] = struct{}{}
	}
	var invalid []string
	for _, t := range tokens {
		if _, ok := found[t]; !ok {
			invalid = append(invalid, t)
		}
	}
	return invalid
}
