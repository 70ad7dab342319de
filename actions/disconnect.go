package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Disconnector forces a device off the network.
type Disconnector interface {
	Disconnect(ctx context.Context, mac, ip string) error
}

// NeighborDisconnector makes sure the address is blocked and then drops the
// host's neighbour cache entry so existing flows stop immediately.
type NeighborDisconnector struct {
	blocker Blocker
	run     Runner
	goos    string
}

// NewNeighborDisconnector returns a disconnector that uses blocker for the
// firewall half of the job.
func NewNeighborDisconnector(goos string, blocker Blocker, run Runner) *NeighborDisconnector {
	if run == nil {
		run = ExecRunner
	}
	return &NeighborDisconnector{blocker: blocker, run: run, goos: goos}
}

func (d *NeighborDisconnector) Disconnect(ctx context.Context, mac, ip string) error {
	addr, err := parseIP(ip)
	if err != nil {
		return err
	}

	var errs []error
	if d.blocker != nil {
		if err := d.blocker.Block(ctx, addr.String()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.flushNeighbor(ctx, addr.String()); err != nil {
		errs = append(errs, fmt.Errorf("flush neighbour %s (%s): %w", addr, mac, err))
	}
	return errors.Join(errs...)
}

func (d *NeighborDisconnector) flushNeighbor(ctx context.Context, ip string) error {
	if d.goos == "linux" {
		if _, err := d.run(ctx, "", "ip", "neigh", "flush", "to", ip); err == nil {
			return nil
		}
	}
	out, err := d.run(ctx, "", "arp", "-d", ip)
	if err != nil {
		return fmt.Errorf("arp -d: %v: %s", err, strings.TrimSpace(out))
	}
	return nil
}
