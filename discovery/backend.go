// Package discovery finds devices on the local segment. Several scan
// backends are run side by side, their raw observations are validated and
// merged, and the result is fed into the device directory.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"

	"lanwarden/models"
)

// ErrUnavailable is returned by backends that could not be set up.
var ErrUnavailable = errors.New("discovery: backend unavailable")

// Backend produces raw observations for one address range.
type Backend interface {
	Name() string
	// Available is decided once at construction and never changes.
	Available() bool
	Scan(ctx context.Context, scanRange netip.Prefix) ([]models.Observation, error)
}

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

type unavailable struct {
	name   string
	reason string
}

// Unavailable returns a backend that reports itself unavailable and never
// produces observations.
func Unavailable(name, reason string) Backend {
	return unavailable{name: name, reason: reason}
}

func (u unavailable) Name() string    { return u.name }
func (u unavailable) Available() bool { return false }

func (u unavailable) Scan(context.Context, netip.Prefix) ([]models.Observation, error) {
	return nil, fmt.Errorf("%w: %s: %s", ErrUnavailable, u.name, u.reason)
}

// Reason explains why a backend is unavailable. It is empty for available
// backends.
func Reason(b Backend) string {
	if u, ok := b.(unavailable); ok {
		return u.reason
	}
	return ""
}
