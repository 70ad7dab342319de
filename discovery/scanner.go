package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/netip"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lanwarden/models"
	"lanwarden/netinfo"
)

const (
	// DefaultScanTimeout bounds each backend call.
	DefaultScanTimeout = 10 * time.Second
	hostnameWorkers    = 16
)

// Directory receives merged observations.
type Directory interface {
	Update(obs models.Observation)
	List() []models.Device
}

// Resolver fills in missing hostnames.
type Resolver interface {
	Resolve(ctx context.Context, ip string) string
}

// ScannerConfig wires the merge engine.
type ScannerConfig struct {
	// Backends are merged in order; later backends win for the same MAC.
	Backends       []Backend
	Network        netinfo.Info
	FallbackRanges []netip.Prefix
	ScanTimeout    time.Duration
	Resolver       Resolver
}

// BackendReport summarizes one backend call.
type BackendReport struct {
	Name         string `json:"name"`
	Available    bool   `json:"available"`
	Reason       string `json:"reason,omitempty"`
	Observations int    `json:"observations"`
	Error        string `json:"error,omitempty"`
}

// ScanReport summarizes the most recent scan.
type ScanReport struct {
	Range        string          `json:"range"`
	FallbackUsed string          `json:"fallback_used,omitempty"`
	Merged       int             `json:"merged"`
	Backends     []BackendReport `json:"backends"`
	StartedAt    time.Time       `json:"started_at"`
	Duration     time.Duration   `json:"duration"`
}

// Scanner runs every backend, validates and merges their observations and
// feeds the result into the directory.
type Scanner struct {
	cfg ScannerConfig
	dir Directory

	scanMu sync.Mutex

	reportMu sync.RWMutex
	report   ScanReport
}

// NewScanner validates cfg and returns a scanner.
func NewScanner(cfg ScannerConfig, dir Directory) (*Scanner, error) {
	if dir == nil {
		return nil, errors.New("directory is required")
	}
	if !cfg.Network.Range.IsValid() {
		return nil, errors.New("network range is required")
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = DefaultScanTimeout
	}
	for _, b := range cfg.Backends {
		if b.Available() {
			log.Printf("discovery: backend %s available", b.Name())
		} else {
			log.Printf("discovery: backend %s unavailable: %s", b.Name(), Reason(b))
		}
	}
	return &Scanner{cfg: cfg, dir: dir}, nil
}

// Scan runs one full discovery pass and returns the directory contents.
// Backend failures never fail the scan.
func (s *Scanner) Scan(ctx context.Context) []models.Device {
	s.scanMu.Lock()
	defer s.scanMu.Unlock()

	started := time.Now()
	primary := s.cfg.Network.Range.Masked()
	report := ScanReport{Range: primary.String(), StartedAt: started}

	merged, backends := s.collect(ctx, primary)
	report.Backends = backends

	if len(merged) == 0 {
		for _, fallback := range s.fallbackRanges(primary) {
			if ctx.Err() != nil {
				break
			}
			log.Printf("discovery: no devices on %s, trying %s", primary, fallback)
			merged, backends = s.collect(ctx, fallback)
			if len(merged) > 0 {
				report.FallbackUsed = fallback.String()
				report.Backends = backends
				break
			}
		}
	}

	s.resolveHostnames(ctx, merged)

	macs := make([]string, 0, len(merged))
	for mac := range merged {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	for _, mac := range macs {
		s.dir.Update(merged[mac])
	}

	report.Merged = len(merged)
	report.Duration = time.Since(started)
	s.reportMu.Lock()
	s.report = report
	s.reportMu.Unlock()

	return s.dir.List()
}

// LastReport returns the summary of the most recent scan.
func (s *Scanner) LastReport() ScanReport {
	s.reportMu.RLock()
	defer s.reportMu.RUnlock()
	return s.report
}

type backendResult struct {
	observations []models.Observation
	err          error
}

// collect runs all available backends concurrently against scanRange and
// merges their validated observations in backend order.
func (s *Scanner) collect(ctx context.Context, scanRange netip.Prefix) (map[string]models.Observation, []BackendReport) {
	results := make([][]models.Observation, len(s.cfg.Backends))
	reports := make([]BackendReport, len(s.cfg.Backends))

	var g errgroup.Group
	for i, b := range s.cfg.Backends {
		reports[i] = BackendReport{Name: b.Name(), Available: b.Available(), Reason: Reason(b)}
		if !b.Available() {
			continue
		}
		i, b := i, b
		g.Go(func() error {
			obs, err := s.runBackend(ctx, b, scanRange)
			if err != nil {
				log.Printf("discovery: backend %s on %s failed: %v", b.Name(), scanRange, err)
				reports[i].Error = err.Error()
				return nil
			}
			results[i] = obs
			reports[i].Observations = len(obs)
			return nil
		})
	}
	_ = g.Wait()

	merged := make(map[string]models.Observation)
	for _, batch := range results {
		for _, raw := range batch {
			obs, ok := Validate(raw, scanRange, s.cfg.Network.LocalIP)
			if !ok {
				continue
			}
			merged[obs.MAC] = obs
		}
	}
	return merged, reports
}

// runBackend bounds a backend call by the scan timeout even if the backend
// ignores its context.
func (s *Scanner) runBackend(ctx context.Context, b Backend, scanRange netip.Prefix) ([]models.Observation, error) {
	backendCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	done := make(chan backendResult, 1)
	go func() {
		obs, err := b.Scan(backendCtx, scanRange)
		done <- backendResult{observations: obs, err: err}
	}()

	select {
	case res := <-done:
		return res.observations, res.err
	case <-backendCtx.Done():
		return nil, fmt.Errorf("timed out after %s: %w", s.cfg.ScanTimeout, backendCtx.Err())
	}
}

func (s *Scanner) fallbackRanges(primary netip.Prefix) []netip.Prefix {
	seen := map[netip.Prefix]struct{}{primary: {}}
	out := make([]netip.Prefix, 0, len(s.cfg.FallbackRanges))
	for _, r := range s.cfg.FallbackRanges {
		r = r.Masked()
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (s *Scanner) resolveHostnames(ctx context.Context, merged map[string]models.Observation) {
	if s.cfg.Resolver == nil {
		return
	}

	pending := make([]models.Observation, 0, len(merged))
	for _, obs := range merged {
		if obs.Hostname == "" {
			pending = append(pending, obs)
		}
	}

	var g errgroup.Group
	g.SetLimit(hostnameWorkers)
	for i := range pending {
		i := i
		g.Go(func() error {
			pending[i].Hostname = s.cfg.Resolver.Resolve(ctx, pending[i].IP)
			return nil
		})
	}
	_ = g.Wait()

	for _, obs := range pending {
		merged[obs.MAC] = obs
	}
}
