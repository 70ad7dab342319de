//go:build !pcap

package discovery

import (
	"context"
	"net/netip"
	"os/exec"
	"runtime"

	"lanwarden/config"
	"lanwarden/models"
	"lanwarden/netinfo"
)

// ARPProbe actively solicits every address in the range with a single ping
// so the kernel resolves neighbours, then reads the refreshed address table.
// Build with -tags pcap for raw ARP requests instead.
type ARPProbe struct {
	table *ARPTable
	ping  func(ctx context.Context, ip string) error
}

// NewARPProbe returns the active probe backend. The interface name is only
// used by the pcap build.
func NewARPProbe(_ string, table *ARPTable) Backend {
	if _, err := exec.LookPath("ping"); err != nil {
		return Unavailable(config.BackendARPProbe, "ping not found")
	}
	if table == nil {
		table = NewARPTable()
	}
	return &ARPProbe{table: table, ping: pingOnce}
}

func (p *ARPProbe) Name() string    { return config.BackendARPProbe }
func (p *ARPProbe) Available() bool { return true }

// Scan sweeps scanRange and returns the neighbours that answered.
func (p *ARPProbe) Scan(ctx context.Context, scanRange netip.Prefix) ([]models.Observation, error) {
	sweepCtx, cancel := sweepBudget(ctx)
	forEachHost(sweepCtx, netinfo.Hosts(scanRange, maxProbeHosts), probeWorkers, func(ctx context.Context, addr netip.Addr) {
		_ = p.ping(ctx, addr.String())
	})
	cancel()

	found, err := p.table.Scan(ctx, scanRange)
	if err != nil {
		return nil, err
	}
	for i := range found {
		found[i].Source = config.BackendARPProbe
	}
	return found, nil
}

func pingOnce(ctx context.Context, ip string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "ping", "-n", "1", "-w", "1000", ip)
	case "darwin":
		cmd = exec.CommandContext(ctx, "ping", "-c", "1", "-W", "1000", ip)
	default:
		cmd = exec.CommandContext(ctx, "ping", "-c", "1", "-W", "1", ip)
	}
	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
