package discovery

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lanwarden/directory"
	"lanwarden/models"
	"lanwarden/netinfo"
)

type stubBackend struct {
	name  string
	scan  func(ctx context.Context, r netip.Prefix) ([]models.Observation, error)
	calls int32

	mu     sync.Mutex
	ranges []netip.Prefix
}

func (b *stubBackend) Name() string    { return b.name }
func (b *stubBackend) Available() bool { return true }

func (b *stubBackend) Scan(ctx context.Context, r netip.Prefix) ([]models.Observation, error) {
	atomic.AddInt32(&b.calls, 1)
	b.mu.Lock()
	b.ranges = append(b.ranges, r)
	b.mu.Unlock()
	return b.scan(ctx, r)
}

func fixed(obs ...models.Observation) func(context.Context, netip.Prefix) ([]models.Observation, error) {
	return func(context.Context, netip.Prefix) ([]models.Observation, error) {
		return obs, nil
	}
}

type stubResolver struct {
	names map[string]string
	calls int32
}

func (r *stubResolver) Resolve(_ context.Context, ip string) string {
	atomic.AddInt32(&r.calls, 1)
	if name, ok := r.names[ip]; ok {
		return name
	}
	return models.UnknownHostname
}

func testNetwork() netinfo.Info {
	return netinfo.Info{
		Interface: "wlan0",
		Range:     netip.MustParsePrefix("192.168.1.0/24"),
		LocalIP:   netip.MustParseAddr("192.168.1.2"),
	}
}

func newTestScanner(t *testing.T, cfg ScannerConfig) (*Scanner, *directory.Directory) {
	t.Helper()
	dir := directory.New(directory.Config{})
	if !cfg.Network.Range.IsValid() {
		cfg.Network = testNetwork()
	}
	s, err := NewScanner(cfg, dir)
	if err != nil {
		t.Fatalf("NewScanner failed: %v", err)
	}
	return s, dir
}

func TestLaterBackendWinsMerge(t *testing.T) {
	coarse := &stubBackend{name: "arp-table", scan: fixed(
		models.Observation{MAC: "AA:BB:CC:DD:EE:01", IP: "192.168.1.10", Hostname: "laptop"},
	)}
	rich := &stubBackend{name: "nmap", scan: fixed(
		models.Observation{MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.1.10", Hostname: "laptop-win"},
	)}
	s, _ := newTestScanner(t, ScannerConfig{Backends: []Backend{coarse, rich}})

	devices := s.Scan(context.Background())
	if len(devices) != 1 {
		t.Fatalf("expected 1 merged device, got %d", len(devices))
	}
	if devices[0].Hostname != "laptop-win" {
		t.Fatalf("expected later backend hostname, got %q", devices[0].Hostname)
	}
	if devices[0].Status != models.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", devices[0].Status)
	}
}

func TestInvalidAndSelfEntriesAreFiltered(t *testing.T) {
	b := &stubBackend{name: "arp-table", scan: fixed(
		models.Observation{MAC: "FF:FF:FF:FF:FF:FF", IP: "192.168.1.255"},
		models.Observation{MAC: "AA:BB:CC:DD:EE:00", IP: "192.168.1.2"},
		models.Observation{MAC: "00:00:00:00:00:00", IP: "192.168.1.7"},
		models.Observation{MAC: "AA:BB:CC:DD:EE:05", IP: "192.168.1.5", Hostname: "tv"},
	)}
	s, _ := newTestScanner(t, ScannerConfig{Backends: []Backend{b}})

	devices := s.Scan(context.Background())
	if len(devices) != 1 || devices[0].MAC != "AA:BB:CC:DD:EE:05" {
		t.Fatalf("expected only the valid device, got %+v", devices)
	}
}

func TestFailingAndSlowBackendsAreIsolated(t *testing.T) {
	failing := &stubBackend{name: "arp-table", scan: func(context.Context, netip.Prefix) ([]models.Observation, error) {
		return nil, errors.New("boom")
	}}
	slow := &stubBackend{name: "arp-probe", scan: func(ctx context.Context, _ netip.Prefix) ([]models.Observation, error) {
		time.Sleep(500 * time.Millisecond)
		return []models.Observation{{MAC: "AA:BB:CC:DD:EE:09", IP: "192.168.1.9"}}, nil
	}}
	good := &stubBackend{name: "nmap", scan: fixed(
		models.Observation{MAC: "AA:BB:CC:DD:EE:01", IP: "192.168.1.10", Hostname: "phone"},
	)}
	s, _ := newTestScanner(t, ScannerConfig{
		Backends:    []Backend{failing, slow, good},
		ScanTimeout: 50 * time.Millisecond,
	})

	started := time.Now()
	devices := s.Scan(context.Background())
	if elapsed := time.Since(started); elapsed > 400*time.Millisecond {
		t.Fatalf("expected slow backend to be abandoned, scan took %s", elapsed)
	}
	if len(devices) != 1 || devices[0].MAC != "AA:BB:CC:DD:EE:01" {
		t.Fatalf("expected only the good backend's device, got %+v", devices)
	}

	report := s.LastReport()
	if report.Backends[0].Error == "" || report.Backends[1].Error == "" {
		t.Fatalf("expected errors recorded for failing and slow backends, got %+v", report.Backends)
	}
	if report.Backends[2].Observations != 1 {
		t.Fatalf("expected 1 observation from good backend, got %+v", report.Backends[2])
	}
}

func TestUnavailableBackendIsSkipped(t *testing.T) {
	good := &stubBackend{name: "arp-table", scan: fixed(
		models.Observation{MAC: "AA:BB:CC:DD:EE:01", IP: "192.168.1.10", Hostname: "phone"},
	)}
	s, _ := newTestScanner(t, ScannerConfig{
		Backends: []Backend{good, Unavailable("nmap", "not installed")},
	})

	if devices := s.Scan(context.Background()); len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	report := s.LastReport()
	if report.Backends[1].Available || report.Backends[1].Reason != "not installed" {
		t.Fatalf("unexpected unavailable report %+v", report.Backends[1])
	}
}

func TestZeroResultsTriggerFallbackRanges(t *testing.T) {
	b := &stubBackend{name: "nmap", scan: func(_ context.Context, r netip.Prefix) ([]models.Observation, error) {
		if r == netip.MustParsePrefix("10.0.0.0/24") {
			return []models.Observation{{MAC: "AA:BB:CC:DD:EE:42", IP: "10.0.0.42", Hostname: "nas"}}, nil
		}
		return nil, nil
	}}
	s, _ := newTestScanner(t, ScannerConfig{
		Backends: []Backend{b},
		FallbackRanges: []netip.Prefix{
			netip.MustParsePrefix("192.168.1.0/24"),
			netip.MustParsePrefix("192.168.0.0/24"),
			netip.MustParsePrefix("10.0.0.0/24"),
			netip.MustParsePrefix("172.16.0.0/24"),
		},
	})

	devices := s.Scan(context.Background())
	if len(devices) != 1 || devices[0].IP != "10.0.0.42" {
		t.Fatalf("expected device from fallback range, got %+v", devices)
	}
	// primary, 192.168.0.0/24, 10.0.0.0/24; duplicate primary skipped, 172.16 not needed
	if got := atomic.LoadInt32(&b.calls); got != 3 {
		t.Fatalf("expected 3 backend calls, got %d (%v)", got, b.ranges)
	}
	if s.LastReport().FallbackUsed != "10.0.0.0/24" {
		t.Fatalf("expected fallback recorded, got %+v", s.LastReport())
	}
}

func TestNonEmptyScanSkipsFallback(t *testing.T) {
	b := &stubBackend{name: "nmap", scan: fixed(
		models.Observation{MAC: "AA:BB:CC:DD:EE:01", IP: "192.168.1.10"},
	)}
	s, _ := newTestScanner(t, ScannerConfig{
		Backends:       []Backend{b},
		FallbackRanges: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")},
	})

	s.Scan(context.Background())
	if got := atomic.LoadInt32(&b.calls); got != 1 {
		t.Fatalf("expected no fallback scan, got %d calls", got)
	}
}

func TestEmptyScanKeepsExistingDevices(t *testing.T) {
	var empty atomic.Bool
	b := &stubBackend{name: "nmap", scan: func(context.Context, netip.Prefix) ([]models.Observation, error) {
		if empty.Load() {
			return nil, nil
		}
		return []models.Observation{{MAC: "AA:BB:CC:DD:EE:01", IP: "192.168.1.10"}}, nil
	}}
	s, dir := newTestScanner(t, ScannerConfig{Backends: []Backend{b}})

	s.Scan(context.Background())
	empty.Store(true)
	s.Scan(context.Background())

	if dir.Len() != 1 {
		t.Fatalf("expected empty scan to keep the known device, got %d", dir.Len())
	}
}

func TestMissingHostnamesAreResolved(t *testing.T) {
	b := &stubBackend{name: "arp-table", scan: fixed(
		models.Observation{MAC: "AA:BB:CC:DD:EE:01", IP: "192.168.1.10"},
		models.Observation{MAC: "AA:BB:CC:DD:EE:02", IP: "192.168.1.11", Hostname: "printer"},
		models.Observation{MAC: "AA:BB:CC:DD:EE:03", IP: "192.168.1.12"},
	)}
	resolver := &stubResolver{names: map[string]string{"192.168.1.10": "desktop"}}
	s, _ := newTestScanner(t, ScannerConfig{Backends: []Backend{b}, Resolver: resolver})

	devices := s.Scan(context.Background())
	got := map[string]string{}
	for _, d := range devices {
		got[d.MAC] = d.Hostname
	}
	if got["AA:BB:CC:DD:EE:01"] != "desktop" || got["AA:BB:CC:DD:EE:02"] != "printer" || got["AA:BB:CC:DD:EE:03"] != models.UnknownHostname {
		t.Fatalf("unexpected hostnames %v", got)
	}
	if calls := atomic.LoadInt32(&resolver.calls); calls != 2 {
		t.Fatalf("expected 2 resolver calls, got %d", calls)
	}
}
