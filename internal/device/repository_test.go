package device

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/pushrelay/internal/infrastructure/config"
	"github.com/nerrad567/pushrelay/internal/infrastructure/database"
	_ "github.com/nerrad567/pushrelay/migrations"
)

// setupTestDB opens a migrated SQLite database in a temp directory.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "relay.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func strPtr(s string) *string { return &s }

func testRegistration(network Network, regID, address, token string) Registration {
	return Registration{
		ID:             uuid.NewString(),
		Network:        network,
		RegistrationID: regID,
		Address:        strPtr(address),
		Token:          token,
		At:             time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestUpsertRegistration_Insert(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	reg := testRegistration(NetworkAPNS, "apns-reg-1", "origin.example", "tok-1")
	d, err := repo.UpsertRegistration(ctx, reg)
	if err != nil {
		t.Fatalf("UpsertRegistration() error = %v", err)
	}

	if d.ID != reg.ID {
		t.Errorf("ID = %q, want %q", d.ID, reg.ID)
	}
	if string(d.Details) != "{}" {
		t.Errorf("Details = %s, want {}", d.Details)
	}
	if d.MessageCount != 0 {
		t.Errorf("MessageCount = %d, want 0", d.MessageCount)
	}
	if d.EndpointRef != "" {
		t.Errorf("EndpointRef = %q, want empty", d.EndpointRef)
	}
	if !d.CreatedAt.Equal(reg.At) || !d.AccessedAt.Equal(reg.At) {
		t.Errorf("times = %v/%v, want %v", d.CreatedAt, d.AccessedAt, reg.At)
	}
	if d.CurrentAddress == nil || *d.CurrentAddress != "origin.example" {
		t.Errorf("CurrentAddress = %v", d.CurrentAddress)
	}
}

func TestUpsertRegistration_RotatesToken(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	first := testRegistration(NetworkFCM, "fcm-reg", "a.example", "T1")
	first.Details = json.RawMessage(`{"model":"pixel"}`)
	d1, err := repo.UpsertRegistration(ctx, first)
	if err != nil {
		t.Fatalf("first UpsertRegistration() error = %v", err)
	}
	if err := repo.SetEndpoint(ctx, d1.ID, "arn:endpoint/1"); err != nil {
		t.Fatalf("SetEndpoint() error = %v", err)
	}
	if err := repo.AddMessages(ctx, []string{d1.ID}, 3); err != nil {
		t.Fatalf("AddMessages() error = %v", err)
	}

	second := testRegistration(NetworkFCM, "fcm-reg", "b.example", "T2")
	second.At = first.At.Add(time.Hour)
	d2, err := repo.UpsertRegistration(ctx, second)
	if err != nil {
		t.Fatalf("second UpsertRegistration() error = %v", err)
	}

	if d2.ID != d1.ID {
		t.Errorf("ID changed: %q -> %q", d1.ID, d2.ID)
	}
	if d2.CurrentToken != "T2" || *d2.CurrentAddress != "b.example" {
		t.Errorf("listening address = (%v, %q)", *d2.CurrentAddress, d2.CurrentToken)
	}
	if string(d2.Details) != `{"model":"pixel"}` {
		t.Errorf("Details = %s, want preserved", d2.Details)
	}
	if d2.EndpointRef != "arn:endpoint/1" {
		t.Errorf("EndpointRef = %q, want preserved", d2.EndpointRef)
	}
	if d2.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", d2.MessageCount)
	}
	if !d2.CreatedAt.Equal(first.At) || !d2.AccessedAt.Equal(second.At) {
		t.Errorf("ctime/atime = %v/%v", d2.CreatedAt, d2.AccessedAt)
	}

	// The old token no longer matches.
	found, err := repo.FindListening(ctx, "a.example", []string{"T1"})
	if err != nil {
		t.Fatalf("FindListening() error = %v", err)
	}
	if len(found) != 0 {
		t.Errorf("old token still listening: %+v", found)
	}
	found, err = repo.FindListening(ctx, "b.example", []string{"T2"})
	if err != nil {
		t.Fatalf("FindListening() error = %v", err)
	}
	if len(found) != 1 || found[0].ID != d1.ID {
		t.Errorf("FindListening(b, T2) = %+v", found)
	}
}

func TestUpsertRegistration_ReplacesDetails(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	reg := testRegistration(NetworkWNS, "wns-reg", "a.example", "T1")
	reg.Details = json.RawMessage(`{"v":1}`)
	if _, err := repo.UpsertRegistration(ctx, reg); err != nil {
		t.Fatalf("UpsertRegistration() error = %v", err)
	}

	reg.Details = json.RawMessage(`{"v":2}`)
	reg.Token = "T2"
	d, err := repo.UpsertRegistration(ctx, reg)
	if err != nil {
		t.Fatalf("UpsertRegistration() error = %v", err)
	}
	if string(d.Details) != `{"v":2}` {
		t.Errorf("Details = %s, want {\"v\":2}", d.Details)
	}
}

func TestUpsertRegistration_NilAddress(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)

	reg := testRegistration(NetworkFCM, "fcm-reg", "", "T1")
	reg.Address = nil
	d, err := repo.UpsertRegistration(context.Background(), reg)
	if err != nil {
		t.Fatalf("UpsertRegistration() error = %v", err)
	}
	if d.CurrentAddress != nil {
		t.Errorf("CurrentAddress = %q, want nil", *d.CurrentAddress)
	}
}

func TestUpsertRegistration_SameIDAcrossNetworks(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	a, err := repo.UpsertRegistration(ctx, testRegistration(NetworkFCM, "shared", "x", "T1"))
	if err != nil {
		t.Fatalf("UpsertRegistration(fcm) error = %v", err)
	}
	b, err := repo.UpsertRegistration(ctx, testRegistration(NetworkAPNS, "shared", "x", "T2"))
	if err != nil {
		t.Fatalf("UpsertRegistration(apns) error = %v", err)
	}
	if a.ID == b.ID {
		t.Error("different networks must produce different devices")
	}
}

func TestUpsertRegistration_Validation(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(*Registration)
		wantErr error
	}{
		{"bad network", func(r *Registration) { r.Network = "sms" }, ErrInvalidNetwork},
		{"empty registration id", func(r *Registration) { r.RegistrationID = " " }, ErrInvalidRegistration},
		{"details array", func(r *Registration) { r.Details = json.RawMessage(`[1]`) }, ErrInvalidDetails},
		{"details null", func(r *Registration) { r.Details = json.RawMessage(`null`) }, ErrInvalidDetails},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := testRegistration(NetworkFCM, "r", "a", "t")
			tt.mutate(&reg)
			if _, err := repo.UpsertRegistration(ctx, reg); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpsertRegistration_Concurrent(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg := testRegistration(NetworkAPNS, "same-device", "a", uuid.NewString())
			if _, err := repo.UpsertRegistration(ctx, reg); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent upsert error = %v", err)
	}

	var count int
	if err := setupCount(t, repo, &count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("device rows = %d, want 1", count)
	}
}

func setupCount(t *testing.T, repo *SQLiteRepository, count *int) error {
	t.Helper()
	return repo.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM device").Scan(count)
}

func TestFindListening(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	for _, r := range []Registration{
		testRegistration(NetworkFCM, "r1", "origin-a", "A1"),
		testRegistration(NetworkAPNS, "r2", "origin-a", "A2"),
		testRegistration(NetworkWNS, "r3", "origin-b", "A3"),
	} {
		if _, err := repo.UpsertRegistration(ctx, r); err != nil {
			t.Fatalf("UpsertRegistration() error = %v", err)
		}
	}

	tests := []struct {
		name    string
		address string
		tokens  []string
		want    int
	}{
		{"both tokens", "origin-a", []string{"A1", "A2"}, 2},
		{"token bound to other origin", "origin-a", []string{"A3"}, 0},
		{"unknown token", "origin-a", []string{"nope"}, 0},
		{"no tokens", "origin-a", nil, 0},
		{"address is case-sensitive", "ORIGIN-A", []string{"A1"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.FindListening(ctx, tt.address, tt.tokens)
			if err != nil {
				t.Fatalf("FindListening() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestFindListening_ManyTokens(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	for _, tok := range []string{"t7", "t39999"} {
		if _, err := repo.UpsertRegistration(ctx, testRegistration(NetworkFCM, "reg-"+tok, "O", tok)); err != nil {
			t.Fatalf("UpsertRegistration() error = %v", err)
		}
	}

	tokens := make([]string, 40000)
	for i := range tokens {
		tokens[i] = "t" + strconv.Itoa(i)
	}

	got, err := repo.FindListening(ctx, "O", tokens)
	if err != nil {
		t.Fatalf("FindListening() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	ids := make([]string, 0, 40000)
	ids = append(ids, got[0].ID, got[1].ID)
	for i := 0; len(ids) < cap(ids); i++ {
		ids = append(ids, "missing-"+strconv.Itoa(i))
	}
	if err := repo.AddMessages(ctx, ids, 4); err != nil {
		t.Fatalf("AddMessages() error = %v", err)
	}
	d, err := repo.GetByID(ctx, got[0].ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if d.MessageCount != 4 {
		t.Errorf("MessageCount = %d, want 4", d.MessageCount)
	}
}

func TestSetEndpoint_NotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	if err := repo.SetEndpoint(context.Background(), "missing", "arn"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetEndpoint() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestAddMessages(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	ctx := context.Background()

	var ids []string
	for i, tok := range []string{"A", "B", "C"} {
		d, err := repo.UpsertRegistration(ctx, testRegistration(NetworkFCM, "reg-"+tok, "o", tok))
		if err != nil {
			t.Fatalf("UpsertRegistration(%d) error = %v", i, err)
		}
		ids = append(ids, d.ID)
	}

	if err := repo.AddMessages(ctx, ids[:2], 2); err != nil {
		t.Fatalf("AddMessages() error = %v", err)
	}
	if err := repo.AddMessages(ctx, ids, 1); err != nil {
		t.Fatalf("AddMessages() error = %v", err)
	}
	if err := repo.AddMessages(ctx, nil, 5); err != nil {
		t.Fatalf("AddMessages(nil) error = %v", err)
	}

	want := []int64{3, 3, 1}
	for i, id := range ids {
		d, err := repo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if d.MessageCount != want[i] {
			t.Errorf("device %d MessageCount = %d, want %d", i, d.MessageCount, want[i])
		}
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t).DB)
	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
}
