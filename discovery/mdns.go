package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultMDNSDomain is the mDNS browse domain.
	DefaultMDNSDomain = "local."
	// DefaultMDNSRefreshInterval is the background browse interval.
	DefaultMDNSRefreshInterval = time.Minute
	// DefaultMDNSScanTimeout bounds each browse window.
	DefaultMDNSScanTimeout = 3 * time.Second
	// DefaultMDNSStaleAfter drops names not announced for this long.
	DefaultMDNSStaleAfter = 30 * time.Minute
)

// DefaultMDNSServices are browsed when no services are configured.
var DefaultMDNSServices = []string{"_workstation._tcp", "_device-info._tcp"}

type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// MDNSConfig controls the mDNS hostname index.
type MDNSConfig struct {
	Services        []string
	Domain          string
	RefreshInterval time.Duration
	ScanTimeout     time.Duration
	StaleAfter      time.Duration

	browseFn browseFunc
}

func (c MDNSConfig) withDefaults() MDNSConfig {
	out := c
	if len(out.Services) == 0 {
		out.Services = DefaultMDNSServices
	}
	if out.Domain == "" {
		out.Domain = DefaultMDNSDomain
	}
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = DefaultMDNSRefreshInterval
	}
	if out.ScanTimeout <= 0 {
		out.ScanTimeout = DefaultMDNSScanTimeout
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = DefaultMDNSStaleAfter
	}
	if out.browseFn == nil {
		out.browseFn = browseZeroconf
	}
	return out
}

func browseZeroconf(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}
	return resolver.Browse(ctx, service, domain, entries)
}

type mdnsName struct {
	host     string
	lastSeen time.Time
}

type refreshRequest struct {
	ctx  context.Context
	done chan error
}

// MDNSIndex keeps an IP to hostname map learned from periodic mDNS browses.
type MDNSIndex struct {
	cfg MDNSConfig

	mu    sync.RWMutex
	names map[string]mdnsName

	startOnce sync.Once
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	refreshRequests chan refreshRequest
}

// NewMDNSIndex creates an index with config defaults applied.
func NewMDNSIndex(config MDNSConfig) *MDNSIndex {
	return &MDNSIndex{
		cfg:             config.withDefaults(),
		names:           make(map[string]mdnsName),
		refreshRequests: make(chan refreshRequest),
	}
}

// Start begins background browsing.
func (x *MDNSIndex) Start() {
	x.startOnce.Do(func() {
		x.ctx, x.cancel = context.WithCancel(context.Background())
		x.wg.Add(1)
		go x.loop()
	})
}

// Stop stops background browsing.
func (x *MDNSIndex) Stop() {
	x.stopOnce.Do(func() {
		if x.cancel != nil {
			x.cancel()
		}
		x.wg.Wait()
	})
}

// Refresh triggers an immediate browse and waits for it to finish.
func (x *MDNSIndex) Refresh(ctx context.Context) error {
	if x.ctx == nil {
		return errors.New("mdns index is not started")
	}

	req := refreshRequest{ctx: ctx, done: make(chan error, 1)}
	select {
	case x.refreshRequests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-x.ctx.Done():
		return errors.New("mdns index is stopped")
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-x.ctx.Done():
		return errors.New("mdns index is stopped")
	}
}

// LookupHostname returns the announced hostname for ip.
func (x *MDNSIndex) LookupHostname(_ context.Context, ip string) (string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.names[ip].host, nil
}

// Len returns the number of known addresses.
func (x *MDNSIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.names)
}

func (x *MDNSIndex) loop() {
	defer x.wg.Done()

	x.runScan(context.Background())

	ticker := time.NewTicker(x.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			x.runScan(context.Background())
		case req := <-x.refreshRequests:
			req.done <- x.runScan(req.ctx)
		case <-x.ctx.Done():
			return
		}
	}
}

func (x *MDNSIndex) runScan(requestCtx context.Context) error {
	scanCtx, cancel := context.WithTimeout(x.ctx, x.cfg.ScanTimeout)
	defer cancel()

	stopWatch := context.AfterFunc(requestCtx, cancel)
	defer stopWatch()

	var (
		collectedMu sync.Mutex
		collected   = make(map[string]string)
		wg          sync.WaitGroup
		errMu       sync.Mutex
		browseErr   error
	)

	for _, service := range x.cfg.Services {
		entries := make(chan *zeroconf.ServiceEntry, 32)
		wg.Add(2)
		go func(service string) {
			defer wg.Done()
			if err := x.cfg.browseFn(scanCtx, service, x.cfg.Domain, entries); err != nil {
				errMu.Lock()
				browseErr = errors.Join(browseErr, err)
				errMu.Unlock()
			}
		}(service)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-scanCtx.Done():
					return
				case entry, ok := <-entries:
					if !ok {
						return
					}
					if entry == nil {
						continue
					}
					host := entryHostname(entry)
					if host == "" {
						continue
					}
					collectedMu.Lock()
					for _, ip := range entry.AddrIPv4 {
						if ip != nil {
							collected[ip.String()] = host
						}
					}
					collectedMu.Unlock()
				}
			}
		}()
	}

	<-scanCtx.Done()
	wg.Wait()

	x.applySnapshot(collected, time.Now())
	return browseErr
}

func (x *MDNSIndex) applySnapshot(next map[string]string, now time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for ip, host := range next {
		x.names[ip] = mdnsName{host: host, lastSeen: now}
	}
	for ip, name := range x.names {
		if now.Sub(name.lastSeen) > x.cfg.StaleAfter {
			delete(x.names, ip)
		}
	}
}

func entryHostname(entry *zeroconf.ServiceEntry) string {
	host := strings.TrimSpace(entry.HostName)
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimSuffix(host, ".local")
	if host == "" {
		host = strings.TrimSpace(entry.Instance)
	}
	return host
}
