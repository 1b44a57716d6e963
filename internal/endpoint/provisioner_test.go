package endpoint

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/pushrelay/internal/broker"
	"github.com/nerrad567/pushrelay/internal/device"
	"github.com/nerrad567/pushrelay/internal/infrastructure/config"
)

// ─── Mock Dependencies ──────────────────────────────────────────────────────

type mockBroker struct {
	calls   atomic.Int32
	err     error
	entered chan struct{}
	release chan struct{}
}

func (m *mockBroker) CreatePlatformEndpoint(ctx context.Context, app, token string) (string, error) {
	if m.calls.Add(1) == 1 && m.entered != nil {
		close(m.entered)
	}
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.err != nil {
		return "", m.err
	}
	return app + "/" + token, nil
}

func (m *mockBroker) Publish(context.Context, broker.PublishInput) (string, error) {
	return "", errors.New("not used")
}

type mockRepository struct {
	device.Repository
	mu        sync.Mutex
	endpoints map[string]string
	err       error
}

func newMockRepository() *mockRepository {
	return &mockRepository{endpoints: make(map[string]string)}
}

func (m *mockRepository) SetEndpoint(_ context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.endpoints[id] = ref
	return nil
}

var testApps = Applications{
	device.NetworkFCM:  "arn:app/GCM/relay",
	device.NetworkAPNS: "arn:app/APNS_SANDBOX/relay",
}

func testDevice(network device.Network) *device.Device {
	return &device.Device{ID: "dev-1", Network: network, RegistrationID: "reg-1"}
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestEnsureEndpointCreatesOnce(t *testing.T) {
	b := &mockBroker{}
	repo := newMockRepository()
	p := NewProvisioner(b, repo, testApps)
	dev := testDevice(device.NetworkFCM)

	ref, err := p.EnsureEndpoint(context.Background(), dev)
	if err != nil {
		t.Fatalf("EnsureEndpoint() error = %v", err)
	}
	if ref != "arn:app/GCM/relay/reg-1" {
		t.Errorf("ref = %q", ref)
	}
	if dev.EndpointRef != ref {
		t.Errorf("device EndpointRef = %q, want %q", dev.EndpointRef, ref)
	}
	if repo.endpoints["dev-1"] != ref {
		t.Errorf("stored ref = %q, want %q", repo.endpoints["dev-1"], ref)
	}

	again, err := p.EnsureEndpoint(context.Background(), dev)
	if err != nil || again != ref {
		t.Fatalf("second EnsureEndpoint() = %q, %v", again, err)
	}
	if got := b.calls.Load(); got != 1 {
		t.Errorf("broker calls = %d, want 1", got)
	}
}

func TestEnsureEndpointExistingReference(t *testing.T) {
	b := &mockBroker{}
	p := NewProvisioner(b, newMockRepository(), testApps)
	dev := testDevice(device.NetworkFCM)
	dev.EndpointRef = "arn:existing"

	ref, err := p.EnsureEndpoint(context.Background(), dev)
	if err != nil || ref != "arn:existing" {
		t.Fatalf("EnsureEndpoint() = %q, %v", ref, err)
	}
	if b.calls.Load() != 0 {
		t.Error("broker called for a device with an endpoint")
	}
}

func TestEnsureEndpointErrors(t *testing.T) {
	tests := []struct {
		name    string
		network device.Network
		brkErr  error
		repoErr error
		wantErr error
	}{
		{"no application", device.NetworkWNS, nil, nil, ErrNoApplication},
		{"broker failure", device.NetworkFCM, errors.New("invalid token"), nil, nil},
		{"store failure", device.NetworkFCM, nil, device.ErrDeviceNotFound, device.ErrDeviceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepository()
			repo.err = tt.repoErr
			p := NewProvisioner(&mockBroker{err: tt.brkErr}, repo, testApps)
			dev := testDevice(tt.network)

			_, err := p.EnsureEndpoint(context.Background(), dev)
			if err == nil {
				t.Fatal("EnsureEndpoint() should fail")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if dev.EndpointRef != "" {
				t.Errorf("EndpointRef set to %q after failure", dev.EndpointRef)
			}
		})
	}
}

func TestEnsureEndpointConcurrentSharesBrokerCall(t *testing.T) {
	b := &mockBroker{entered: make(chan struct{}), release: make(chan struct{})}
	p := NewProvisioner(b, newMockRepository(), testApps)

	const callers = 8
	refs := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refs[i], _ = p.EnsureEndpoint(context.Background(), testDevice(device.NetworkFCM))
		}()
	}

	<-b.entered
	time.Sleep(50 * time.Millisecond)
	close(b.release)
	wg.Wait()

	if got := b.calls.Load(); got != 1 {
		t.Errorf("broker calls = %d, want 1", got)
	}
	for i, ref := range refs {
		if ref != refs[0] || ref == "" {
			t.Errorf("caller %d got %q, want %q", i, ref, refs[0])
		}
	}
}

func TestEnsureEndpointCancelledCallerDoesNotFailOthers(t *testing.T) {
	b := &mockBroker{entered: make(chan struct{}), release: make(chan struct{})}
	repo := newMockRepository()
	p := NewProvisioner(b, repo, testApps)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()

	errA := make(chan error, 1)
	go func() {
		_, err := p.EnsureEndpoint(ctxA, testDevice(device.NetworkFCM))
		errA <- err
	}()
	<-b.entered

	type result struct {
		ref string
		err error
	}
	resB := make(chan result, 1)
	go func() {
		ref, err := p.EnsureEndpoint(context.Background(), testDevice(device.NetworkFCM))
		resB <- result{ref, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller error = %v, want context.Canceled", err)
	}

	close(b.release)
	got := <-resB
	if got.err != nil {
		t.Fatalf("live caller error = %v", got.err)
	}
	if want := "arn:app/GCM/relay/reg-1"; got.ref != want {
		t.Errorf("live caller ref = %q, want %q", got.ref, want)
	}
	if n := b.calls.Load(); n != 1 {
		t.Errorf("broker calls = %d, want 1", n)
	}
	if repo.endpoints["dev-1"] != got.ref {
		t.Errorf("stored endpoint = %q, want %q", repo.endpoints["dev-1"], got.ref)
	}
}

func TestProtocol(t *testing.T) {
	p := NewProvisioner(&mockBroker{}, newMockRepository(), testApps)

	tests := []struct {
		network device.Network
		want    string
	}{
		{device.NetworkFCM, broker.ProtocolGCM},
		{device.NetworkAPNS, broker.ProtocolAPNSSandbox},
		{device.NetworkWNS, broker.ProtocolWNS},
	}
	for _, tt := range tests {
		got, err := p.Protocol(tt.network)
		if err != nil || got != tt.want {
			t.Errorf("Protocol(%s) = %q, %v; want %q", tt.network, got, err, tt.want)
		}
	}
	if _, err := p.Protocol("sms"); !errors.Is(err, device.ErrInvalidNetwork) {
		t.Errorf("Protocol(sms) error = %v", err)
	}
}

func TestApplicationsFromConfig(t *testing.T) {
	apps := ApplicationsFromConfig(config.ApplicationsConfig{FCM: "a", WNS: "c"})
	if len(apps) != 2 || apps[device.NetworkFCM] != "a" || apps[device.NetworkWNS] != "c" {
		t.Errorf("apps = %v", apps)
	}
	if _, ok := apps[device.NetworkAPNS]; ok {
		t.Error("empty APNS identity should be omitted")
	}
}
