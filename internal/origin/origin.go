// Package origin tracks the servers that dispatch notifications and how many
// messages each has sent.
//
// An origin row is created lazily the first time a dispatch from that
// address attempts at least one delivery. The message counter only grows.
package origin

import (
	"context"
	"errors"
	"time"
)

// ErrOriginNotFound is returned when no origin exists for an address.
var ErrOriginNotFound = errors.New("origin: not found")

// Origin is a dispatching server identified by its address.
type Origin struct {
	ID           string    `json:"id"`
	Address      string    `json:"address"`
	MessageCount int64     `json:"message_count"`
	CreatedAt    time.Time `json:"ctime"`
	AccessedAt   time.Time `json:"atime"`
}

// Repository defines origin persistence operations.
type Repository interface {
	// AddMessages adds n to the counter of address, inserting the origin
	// with count n if it does not exist, in a single statement.
	AddMessages(ctx context.Context, address string, n int, at time.Time) error

	// GetByAddress retrieves an origin. Addresses are case-sensitive.
	// Returns ErrOriginNotFound if the origin does not exist.
	GetByAddress(ctx context.Context, address string) (*Origin, error)
}
