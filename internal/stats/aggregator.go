// Package stats folds per-dispatch delivery counts into the origin and
// device usage counters.
package stats

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/pushrelay/internal/device"
	"github.com/nerrad567/pushrelay/internal/origin"
)

// Aggregator records usage statistics.
type Aggregator struct {
	origins origin.Repository
	devices device.Repository
	now     func() time.Time
}

// NewAggregator creates an aggregator over the given stores.
func NewAggregator(origins origin.Repository, devices device.Repository) *Aggregator {
	return &Aggregator{
		origins: origins,
		devices: devices,
		now:     time.Now,
	}
}

// Record adds the attempted message counts of one dispatch.
//
// counts maps device id to the number of messages attempted for it. The
// origin is charged the total; devices with the same count are updated in
// one statement, smallest count first. A zero total writes nothing.
func (a *Aggregator) Record(ctx context.Context, address string, counts map[string]int) error {
	total := 0
	groups := make(map[int][]string)
	for id, n := range counts {
		if n <= 0 {
			continue
		}
		total += n
		groups[n] = append(groups[n], id)
	}
	if total == 0 {
		return nil
	}

	if err := a.origins.AddMessages(ctx, address, total, a.now().UTC()); err != nil {
		return fmt.Errorf("updating origin stats: %w", err)
	}

	sizes := make([]int, 0, len(groups))
	for n := range groups {
		sizes = append(sizes, n)
	}
	slices.Sort(sizes)

	for _, n := range sizes {
		ids := groups[n]
		slices.Sort(ids)
		if err := a.devices.AddMessages(ctx, ids, n); err != nil {
			return fmt.Errorf("updating device stats: %w", err)
		}
	}
	return nil
}
