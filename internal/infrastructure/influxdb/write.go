package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementDispatch     = "dispatch"
	measurementRegistration = "registration"
)

// DispatchSample summarises one accepted dispatch request.
type DispatchSample struct {
	Messages      int
	Devices       int
	Attempted     int
	InvalidTokens int
	Errors        int
	Duration      time.Duration
	Time          time.Time
}

// WriteDispatch records a dispatch summary. Origin addresses are not
// tagged to keep series cardinality bounded.
func (c *Client) WriteDispatch(s DispatchSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(dispatchPoint(s))
}

// WriteRegistration records one registration on network.
func (c *Client) WriteRegistration(network string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(registrationPoint(network, at))
}

func dispatchPoint(s DispatchSample) *write.Point {
	outcome := "ok"
	if s.Errors > 0 {
		outcome = "partial"
	}
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(
		measurementDispatch,
		map[string]string{"outcome": outcome},
		map[string]interface{}{
			"messages":       s.Messages,
			"devices":        s.Devices,
			"attempted":      s.Attempted,
			"invalid_tokens": s.InvalidTokens,
			"errors":         s.Errors,
			"duration_ms":    s.Duration.Milliseconds(),
		},
		ts,
	)
}

func registrationPoint(network string, at time.Time) *write.Point {
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		measurementRegistration,
		map[string]string{"network": network},
		map[string]interface{}{"count": 1},
		at,
	)
}
