package actions

import (
	"context"
	"fmt"
	"log"
	"net/netip"
	"os/exec"
	"runtime"
	"strings"

	"lanwarden/config"
)

// Blocker drops traffic to and from an address. Both operations are
// idempotent.
type Blocker interface {
	Name() string
	Block(ctx context.Context, ip string) error
	Unblock(ctx context.Context, ip string) error
}

// NewBlocker returns the firewall backend for kind. "auto" picks the first
// tool found on the host and falls back to "none".
func NewBlocker(kind string, run Runner) (Blocker, error) {
	if run == nil {
		run = ExecRunner
	}
	if kind == "" || kind == config.FirewallAuto {
		kind = detectFirewall(runtime.GOOS, exec.LookPath)
		log.Printf("actions: firewall backend %s selected", kind)
	}

	switch kind {
	case config.FirewallNFT:
		return NewNFT(run), nil
	case config.FirewallIPTables:
		return NewIPTables(run), nil
	case config.FirewallNetsh:
		return NewNetsh(run), nil
	case config.FirewallNone:
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown firewall backend %q", kind)
	}
}

func detectFirewall(goos string, lookPath func(string) (string, error)) string {
	if goos == "windows" {
		if _, err := lookPath("netsh"); err == nil {
			return config.FirewallNetsh
		}
		return config.FirewallNone
	}
	for _, kind := range []string{config.FirewallNFT, config.FirewallIPTables} {
		if _, err := lookPath(kind); err == nil {
			return kind
		}
	}
	return config.FirewallNone
}

func parseIP(ip string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid ip %q: %w", ip, err)
	}
	return addr.Unmap(), nil
}

// Noop only logs requested blocks.
type Noop struct{}

func (Noop) Name() string { return config.FirewallNone }

func (Noop) Block(_ context.Context, ip string) error {
	log.Printf("actions: no firewall configured, not blocking %s", ip)
	return nil
}

func (Noop) Unblock(_ context.Context, ip string) error {
	log.Printf("actions: no firewall configured, not unblocking %s", ip)
	return nil
}
