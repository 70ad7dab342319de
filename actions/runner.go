// Package actions applies enforcement decisions to the network: firewall
// blocks, device notifications and forced disconnects.
package actions

import (
	"context"
	"os/exec"
	"strings"
)

// Runner executes a command with optional standard input and returns its
// combined output.
type Runner func(ctx context.Context, stdin, name string, args ...string) (string, error)

// ExecRunner runs commands on the host.
func ExecRunner(ctx context.Context, stdin, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}
