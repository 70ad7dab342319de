package actions

import (
	"context"
	"fmt"
	"strings"

	"lanwarden/config"
)

// NetshRulePrefix names Windows firewall rules created for blocked addresses.
const NetshRulePrefix = "Block_WiFi_Manager_"

// Netsh manages Windows advanced firewall rules, one inbound and one
// outbound rule per blocked address.
type Netsh struct {
	run Runner
}

// NewNetsh returns a Windows firewall blocker.
func NewNetsh(run Runner) *Netsh {
	return &Netsh{run: run}
}

func (n *Netsh) Name() string { return config.FirewallNetsh }

// Block replaces any existing rules for ip with fresh block rules.
func (n *Netsh) Block(ctx context.Context, ip string) error {
	addr, err := parseIP(ip)
	if err != nil {
		return err
	}
	name := NetshRulePrefix + addr.String()

	_, _ = n.run(ctx, "", "netsh", "advfirewall", "firewall", "delete", "rule", "name="+name)
	for _, dir := range []string{"in", "out"} {
		out, err := n.run(ctx, "", "netsh", "advfirewall", "firewall", "add", "rule",
			"name="+name,
			"dir="+dir,
			"action=block",
			"remoteip="+addr.String(),
			"enable=yes",
			"profile=any",
		)
		if err != nil {
			return fmt.Errorf("netsh add rule %s dir=%s: %v: %s", name, dir, err, strings.TrimSpace(out))
		}
	}
	return nil
}

// Unblock deletes the rules for ip. A missing rule is not an error.
func (n *Netsh) Unblock(ctx context.Context, ip string) error {
	addr, err := parseIP(ip)
	if err != nil {
		return err
	}
	name := NetshRulePrefix + addr.String()

	out, err := n.run(ctx, "", "netsh", "advfirewall", "firewall", "delete", "rule", "name="+name)
	if err != nil && !strings.Contains(out, "No rules match") {
		return fmt.Errorf("netsh delete rule %s: %v: %s", name, err, strings.TrimSpace(out))
	}
	return nil
}
