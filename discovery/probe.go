package discovery

import (
	"context"
	"net/netip"
	"time"
)

const (
	// maxProbeHosts caps how many addresses one active probe touches.
	maxProbeHosts = 1024
	probeWorkers  = 64
)

// sweepBudget returns a context that ends early enough to leave time for
// collecting results before the caller's deadline.
func sweepBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithTimeout(ctx, 5*time.Second)
	}
	remaining := time.Until(deadline)
	return context.WithTimeout(ctx, remaining*4/5)
}

// forEachHost runs fn for every probe target with a bounded worker pool.
// It returns when all targets were handed out and finished, or ctx ends.
func forEachHost(ctx context.Context, hosts []netip.Addr, workers int, fn func(context.Context, netip.Addr)) {
	if workers > len(hosts) {
		workers = len(hosts)
	}
	if workers <= 0 {
		return
	}

	targets := make(chan netip.Addr)
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for addr := range targets {
				fn(ctx, addr)
			}
		}()
	}

feed:
	for _, addr := range hosts {
		select {
		case <-ctx.Done():
			break feed
		case targets <- addr:
		}
	}
	close(targets)
	for i := 0; i < workers; i++ {
		<-done
	}
}
