package stats

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/pushrelay/internal/device"
	"github.com/nerrad567/pushrelay/internal/infrastructure/config"
	"github.com/nerrad567/pushrelay/internal/infrastructure/database"
	"github.com/nerrad567/pushrelay/internal/origin"
	_ "github.com/nerrad567/pushrelay/migrations"
)

type deviceCall struct {
	ids []string
	n   int
}

type mockDevices struct {
	device.Repository
	calls []deviceCall
}

func (m *mockDevices) AddMessages(_ context.Context, ids []string, n int) error {
	m.calls = append(m.calls, deviceCall{ids: append([]string(nil), ids...), n: n})
	return nil
}

type mockOrigins struct {
	origin.Repository
	totals map[string]int
	err    error
}

func (m *mockOrigins) AddMessages(_ context.Context, address string, n int, _ time.Time) error {
	if m.err != nil {
		return m.err
	}
	if m.totals == nil {
		m.totals = make(map[string]int)
	}
	m.totals[address] += n
	return nil
}

func TestRecordGroupsDevicesByCount(t *testing.T) {
	origins := &mockOrigins{}
	devices := &mockDevices{}
	agg := NewAggregator(origins, devices)

	err := agg.Record(context.Background(), "origin-a", map[string]int{"d3": 2, "d1": 1, "d2": 2, "d4": 0})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if origins.totals["origin-a"] != 5 {
		t.Errorf("origin total = %d, want 5", origins.totals["origin-a"])
	}
	if len(devices.calls) != 2 {
		t.Fatalf("device calls = %+v, want 2 groups", devices.calls)
	}
	if c := devices.calls[0]; c.n != 1 || len(c.ids) != 1 || c.ids[0] != "d1" {
		t.Errorf("first group = %+v", c)
	}
	if c := devices.calls[1]; c.n != 2 || len(c.ids) != 2 || c.ids[0] != "d2" || c.ids[1] != "d3" {
		t.Errorf("second group = %+v", c)
	}
}

func TestRecordZeroTotalIsNoop(t *testing.T) {
	origins := &mockOrigins{}
	devices := &mockDevices{}
	agg := NewAggregator(origins, devices)

	for _, counts := range []map[string]int{nil, {}, {"d1": 0}} {
		if err := agg.Record(context.Background(), "origin-a", counts); err != nil {
			t.Fatalf("Record(%v) error = %v", counts, err)
		}
	}
	if len(origins.totals) != 0 || len(devices.calls) != 0 {
		t.Errorf("zero-total dispatch wrote stats: origins=%v devices=%v", origins.totals, devices.calls)
	}
}

func TestRecordOriginFailureSkipsDevices(t *testing.T) {
	origins := &mockOrigins{err: errors.New("disk full")}
	devices := &mockDevices{}
	agg := NewAggregator(origins, devices)

	if err := agg.Record(context.Background(), "origin-a", map[string]int{"d1": 1}); err == nil {
		t.Fatal("Record() should fail")
	}
	if len(devices.calls) != 0 {
		t.Error("devices updated after origin failure")
	}
}

// TestRecordAccumulatesInStore runs two dispatches against SQLite and checks
// that counters add up rather than being overwritten.
func TestRecordAccumulatesInStore(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "relay.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	devices := device.NewSQLiteRepository(db.DB)
	origins := origin.NewSQLiteRepository(db.DB)
	agg := NewAggregator(origins, devices)

	addr := "origin-a"
	for _, id := range []string{"d1", "d2"} {
		_, err := devices.UpsertRegistration(ctx, device.Registration{
			ID: id, Network: device.NetworkFCM, RegistrationID: "reg-" + id,
			Details: json.RawMessage(`{}`), Address: &addr, Token: "tok-" + id, At: time.Now(),
		})
		if err != nil {
			t.Fatalf("UpsertRegistration() error = %v", err)
		}
	}

	if err := agg.Record(ctx, addr, map[string]int{"d1": 2, "d2": 1}); err != nil {
		t.Fatalf("first Record() error = %v", err)
	}
	if err := agg.Record(ctx, addr, map[string]int{"d1": 1}); err != nil {
		t.Fatalf("second Record() error = %v", err)
	}

	o, err := origins.GetByAddress(ctx, addr)
	if err != nil {
		t.Fatalf("GetByAddress() error = %v", err)
	}
	if o.MessageCount != 4 {
		t.Errorf("origin message_count = %d, want 4", o.MessageCount)
	}
	for id, want := range map[string]int64{"d1": 3, "d2": 1} {
		d, err := devices.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		if d.MessageCount != want {
			t.Errorf("%s message_count = %d, want %d", id, d.MessageCount, want)
		}
	}
}
