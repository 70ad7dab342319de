package actions

import (
	"context"
	"fmt"
	"strings"

	"lanwarden/config"
)

// maxRuleDeletes bounds the delete loop when duplicate rules exist.
const maxRuleDeletes = 8

// IPTables inserts DROP rules for blocked addresses, checking first so
// repeated blocks do not stack duplicate rules.
type IPTables struct {
	run Runner
}

// NewIPTables returns an iptables blocker.
func NewIPTables(run Runner) *IPTables {
	return &IPTables{run: run}
}

func (t *IPTables) Name() string { return config.FirewallIPTables }

func ruleSpecs(ip string) [][]string {
	return [][]string{
		{"INPUT", "-s", ip, "-j", "DROP"},
		{"FORWARD", "-s", ip, "-j", "DROP"},
		{"FORWARD", "-d", ip, "-j", "DROP"},
		{"OUTPUT", "-d", ip, "-j", "DROP"},
	}
}

// Block adds any missing DROP rules for ip.
func (t *IPTables) Block(ctx context.Context, ip string) error {
	addr, err := parseIP(ip)
	if err != nil {
		return err
	}
	bin := iptablesBinary(addr.Is4())

	for _, rule := range ruleSpecs(addr.String()) {
		if _, err := t.run(ctx, "", bin, append([]string{"-C"}, rule...)...); err == nil {
			continue
		}
		if out, err := t.run(ctx, "", bin, append([]string{"-I"}, rule...)...); err != nil {
			return fmt.Errorf("%s insert %s: %v: %s", bin, strings.Join(rule, " "), err, strings.TrimSpace(out))
		}
	}
	return nil
}

// Unblock removes every DROP rule for ip. A rule that is already absent is
// not an error; a failing check or delete is.
func (t *IPTables) Unblock(ctx context.Context, ip string) error {
	addr, err := parseIP(ip)
	if err != nil {
		return err
	}
	bin := iptablesBinary(addr.Is4())

	for _, rule := range ruleSpecs(addr.String()) {
		for i := 0; ; i++ {
			out, err := t.run(ctx, "", bin, append([]string{"-C"}, rule...)...)
			if err != nil {
				if isMissingRule(out) {
					break
				}
				return fmt.Errorf("%s check %s: %v: %s", bin, strings.Join(rule, " "), err, strings.TrimSpace(out))
			}
			if i == maxRuleDeletes {
				return fmt.Errorf("%s delete %s: rule still present after %d deletes", bin, strings.Join(rule, " "), maxRuleDeletes)
			}
			if out, err := t.run(ctx, "", bin, append([]string{"-D"}, rule...)...); err != nil {
				return fmt.Errorf("%s delete %s: %v: %s", bin, strings.Join(rule, " "), err, strings.TrimSpace(out))
			}
		}
	}
	return nil
}

// isMissingRule reports whether iptables -C output means the rule does not
// exist, as opposed to the command itself failing.
func isMissingRule(out string) bool {
	return strings.Contains(out, "Bad rule") ||
		strings.Contains(out, "does a matching rule exist") ||
		strings.Contains(out, "No chain/target/match by that name")
}

func iptablesBinary(v4 bool) string {
	if v4 {
		return "iptables"
	}
	return "ip6tables"
}
