package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"lanwarden/models"
)

const (
	// DefaultHostnameTimeout bounds each lookup step.
	DefaultHostnameTimeout = time.Second
	hostnameCacheTTL       = time.Hour
	negativeCacheTTL       = 5 * time.Minute
	defaultResolvConf      = "/etc/resolv.conf"
)

// HostnameSource answers reverse lookups. An empty name with a nil error
// means the source has no answer.
type HostnameSource interface {
	LookupHostname(ctx context.Context, ip string) (string, error)
}

type cachedName struct {
	name string
	at   time.Time
}

// HostnameResolver asks each source in order and caches the outcome per IP.
type HostnameResolver struct {
	sources []HostnameSource
	timeout time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedName
}

// NewHostnameResolver chains sources in priority order.
func NewHostnameResolver(timeout time.Duration, sources ...HostnameSource) *HostnameResolver {
	if timeout <= 0 {
		timeout = DefaultHostnameTimeout
	}
	filtered := make([]HostnameSource, 0, len(sources))
	for _, src := range sources {
		if src != nil {
			filtered = append(filtered, src)
		}
	}
	return &HostnameResolver{
		sources: filtered,
		timeout: timeout,
		now:     time.Now,
		cache:   make(map[string]cachedName),
	}
}

// Resolve returns the hostname for ip, or "Unknown".
func (r *HostnameResolver) Resolve(ctx context.Context, ip string) string {
	now := r.now()

	r.mu.Lock()
	if hit, ok := r.cache[ip]; ok {
		ttl := hostnameCacheTTL
		if hit.name == "" {
			ttl = negativeCacheTTL
		}
		if now.Sub(hit.at) < ttl {
			r.mu.Unlock()
			return orUnknown(hit.name)
		}
	}
	r.mu.Unlock()

	name := ""
	for _, src := range r.sources {
		lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
		found, err := src.LookupHostname(lookupCtx, ip)
		cancel()
		if err != nil {
			continue
		}
		if found = cleanHostname(found); found != "" {
			name = found
			break
		}
	}
	if ctx.Err() != nil && name == "" {
		return models.UnknownHostname
	}

	r.mu.Lock()
	r.cache[ip] = cachedName{name: name, at: now}
	r.mu.Unlock()
	return orUnknown(name)
}

func orUnknown(name string) string {
	if name == "" {
		return models.UnknownHostname
	}
	return name
}

// PTRResolver sends PTR queries to the configured nameservers.
type PTRResolver struct {
	client  *dns.Client
	servers []string
}

// NewPTRResolver reads nameservers from resolvConf, falling back to
// 1.1.1.1 when none are configured.
func NewPTRResolver(resolvConf string) *PTRResolver {
	if resolvConf == "" {
		resolvConf = defaultResolvConf
	}
	cfg, _ := dns.ClientConfigFromFile(resolvConf)
	if cfg == nil || len(cfg.Servers) == 0 {
		cfg = &dns.ClientConfig{Servers: []string{"1.1.1.1"}, Port: "53", Timeout: 2}
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, server := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(server, cfg.Port))
	}
	return &PTRResolver{client: new(dns.Client), servers: servers}
}

// LookupHostname returns the first PTR answer for ip.
func (p *PTRResolver) LookupHostname(ctx context.Context, ip string) (string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("reverse name for %s: %w", ip, err)
	}
	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)

	var lastErr error
	for _, server := range p.servers {
		resp, _, err := p.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp == nil || resp.Rcode != dns.RcodeSuccess {
			continue
		}
		for _, rr := range resp.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				return ptr.Ptr, nil
			}
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", nil
}

// SystemResolver uses the operating system resolver, which also consults
// the hosts file.
type SystemResolver struct{}

// LookupHostname returns the first name reported for ip.
func (SystemResolver) LookupHostname(ctx context.Context, ip string) (string, error) {
	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return "", nil
		}
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return strings.TrimSuffix(names[0], "."), nil
}
