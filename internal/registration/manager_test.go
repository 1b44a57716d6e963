package registration

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
	_ "github.com/nerrad567/pushrelay/migrations"
)

type countingObserver struct {
	networks []string
}

func (o *countingObserver) ObserveRegistration(network string) {
	o.networks = append(o.networks, network)
}

func setupManager(t *testing.T, observers ...Observer) (*Manager, device.Repository) {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "relay.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	repo := device.NewSQLiteRepository(db.DB)
	return NewManager(repo, observers...), repo
}

func strPtr(s string) *string { return &s }

func TestRegisterIssuesToken(t *testing.T) {
	obs := &countingObserver{}
	m, _ := setupManager(t, obs)

	res, err := m.Register(context.Background(), Request{
		Network:        "FCM",
		RegistrationID: "reg-1",
		Address:        strPtr("origin.example"),
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if len(res.Token) != 2*tokenBytes {
		t.Errorf("token %q has length %d, want %d", res.Token, len(res.Token), 2*tokenBytes)
	}
	if res.MessageCount != 0 {
		t.Errorf("MessageCount = %d, want 0", res.MessageCount)
	}
	if res.CreatedAt.IsZero() || res.AccessedAt.Before(res.CreatedAt) {
		t.Errorf("timestamps ctime=%v atime=%v", res.CreatedAt, res.AccessedAt)
	}
	if len(obs.networks) != 1 || obs.networks[0] != "fcm" {
		t.Errorf("observed %v, want [fcm]", obs.networks)
	}
}

func TestRegisterRotatesToken(t *testing.T) {
	m, repo := setupManager(t)
	ctx := context.Background()
	addr := "origin.example"

	first, err := m.Register(ctx, Request{Network: "apns", RegistrationID: "reg-1", Address: &addr})
	if err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	second, err := m.Register(ctx, Request{Network: "apns", RegistrationID: "reg-1", Address: &addr})
	if err != nil {
		t.Fatalf("second Register() error = %v", err)
	}

	if first.Token == second.Token {
		t.Fatal("token was not rotated")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("ctime changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	}

	old, err := repo.FindListening(ctx, addr, []string{first.Token})
	if err != nil {
		t.Fatalf("FindListening(old) error = %v", err)
	}
	if len(old) != 0 {
		t.Errorf("old token still matches %d devices", len(old))
	}
	cur, err := repo.FindListening(ctx, addr, []string{second.Token})
	if err != nil {
		t.Fatalf("FindListening(new) error = %v", err)
	}
	if len(cur) != 1 {
		t.Errorf("new token matches %d devices, want 1", len(cur))
	}
}

func TestRegisterKeepsDetailsUnlessSupplied(t *testing.T) {
	m, repo := setupManager(t)
	ctx := context.Background()
	addr := "origin.example"

	if _, err := m.Register(ctx, Request{Network: "wns", RegistrationID: "reg-1", Address: &addr, Details: json.RawMessage(`{"model":"x"}`)}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	res, err := m.Register(ctx, Request{Network: "wns", RegistrationID: "reg-1", Address: &addr})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	devs, err := repo.FindListening(ctx, addr, []string{res.Token})
	if err != nil || len(devs) != 1 {
		t.Fatalf("FindListening() = %v, %v", devs, err)
	}
	var details map[string]string
	if err := json.Unmarshal(devs[0].Details, &details); err != nil {
		t.Fatalf("details: %v", err)
	}
	if details["model"] != "x" {
		t.Errorf("details = %s, want model x kept", devs[0].Details)
	}
}

func TestRegisterValidation(t *testing.T) {
	m, _ := setupManager(t)

	tests := []struct {
		name string
		req  Request
	}{
		{"unknown network", Request{Network: "sms", RegistrationID: "r"}},
		{"empty network", Request{Network: "", RegistrationID: "r"}},
		{"empty registration id", Request{Network: "fcm", RegistrationID: ""}},
		{"details not an object", Request{Network: "fcm", RegistrationID: "r", Details: json.RawMessage(`[1]`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Register(context.Background(), tt.req)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Register() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestRegisterTokenFailure(t *testing.T) {
	m, _ := setupManager(t)
	m.newToken = func() (string, error) { return "", errors.New("entropy exhausted") }

	_, err := m.Register(context.Background(), Request{Network: "fcm", RegistrationID: "r"})
	if err == nil || errors.Is(err, ErrValidation) {
		t.Errorf("Register() error = %v, want non-validation failure", err)
	}
}

func TestRegisterUsesClock(t *testing.T) {
	m, _ := setupManager(t)
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	m.now = func() time.Time { return at }

	res, err := m.Register(context.Background(), Request{Network: "fcm", RegistrationID: "r"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !res.CreatedAt.Equal(at) || !res.AccessedAt.Equal(at) {
		t.Errorf("timestamps = %v/%v, want %v", res.CreatedAt, res.AccessedAt, at)
	}
}

func TestRegisterNullDetails(t *testing.T) {
	m, _ := setupManager(t)

	_, err := m.Register(context.Background(), Request{Network: "fcm", RegistrationID: "r", Details: json.RawMessage(`null`)})
	if err != nil {
		t.Errorf("Register() with null details error = %v", err)
	}
}

type recordingRepository struct {
	device.Repository
	last device.Registration
}

func (r *recordingRepository) UpsertRegistration(ctx context.Context, reg device.Registration) (*device.Device, error) {
	r.last = reg
	return r.Repository.UpsertRegistration(ctx, reg)
}

func TestRegisterEmptyAddressIsAbsent(t *testing.T) {
	m, repo := setupManager(t)
	rec := &recordingRepository{Repository: repo}
	m.devices = rec

	res, err := m.Register(context.Background(), Request{Network: "wns", RegistrationID: "r", Address: strPtr("")})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if rec.last.Address != nil {
		t.Errorf("stored address = %q, want nil", *rec.last.Address)
	}

	found, err := repo.FindListening(context.Background(), "", []string{res.Token})
	if err != nil {
		t.Fatalf("FindListening() error = %v", err)
	}
	if len(found) != 0 {
		t.Errorf("device reachable at empty address: %+v", found)
	}
}
