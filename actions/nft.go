package actions

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"lanwarden/config"
)

const (
	nftFamily = "inet"
	nftTable  = "lanwarden"
	nftSetV4  = "blocked_v4"
	nftSetV6  = "blocked_v6"
)

// NFT keeps blocked addresses in nftables sets referenced by drop rules in
// a dedicated table.
type NFT struct {
	run Runner

	mu    sync.Mutex
	ready bool
}

// NewNFT returns an nftables blocker.
func NewNFT(run Runner) *NFT {
	return &NFT{run: run}
}

func (n *NFT) Name() string { return config.FirewallNFT }

// EnsureBase creates the table, sets, chains and rules. Re-running it
// rebuilds the rules without duplicating them and keeps set contents.
func (n *NFT) EnsureBase(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ready {
		return nil
	}

	script := strings.Join([]string{
		fmt.Sprintf("add table %s %s", nftFamily, nftTable),
		fmt.Sprintf("add set %s %s %s { type ipv4_addr; }", nftFamily, nftTable, nftSetV4),
		fmt.Sprintf("add set %s %s %s { type ipv6_addr; }", nftFamily, nftTable, nftSetV6),
		fmt.Sprintf("add chain %s %s input { type filter hook input priority filter; policy accept; }", nftFamily, nftTable),
		fmt.Sprintf("add chain %s %s forward { type filter hook forward priority filter; policy accept; }", nftFamily, nftTable),
		fmt.Sprintf("add chain %s %s output { type filter hook output priority filter; policy accept; }", nftFamily, nftTable),
		fmt.Sprintf("flush chain %s %s input", nftFamily, nftTable),
		fmt.Sprintf("flush chain %s %s forward", nftFamily, nftTable),
		fmt.Sprintf("flush chain %s %s output", nftFamily, nftTable),
		fmt.Sprintf("add rule %s %s input ip saddr @%s drop", nftFamily, nftTable, nftSetV4),
		fmt.Sprintf("add rule %s %s input ip6 saddr @%s drop", nftFamily, nftTable, nftSetV6),
		fmt.Sprintf("add rule %s %s forward ip saddr @%s drop", nftFamily, nftTable, nftSetV4),
		fmt.Sprintf("add rule %s %s forward ip daddr @%s drop", nftFamily, nftTable, nftSetV4),
		fmt.Sprintf("add rule %s %s forward ip6 saddr @%s drop", nftFamily, nftTable, nftSetV6),
		fmt.Sprintf("add rule %s %s forward ip6 daddr @%s drop", nftFamily, nftTable, nftSetV6),
		fmt.Sprintf("add rule %s %s output ip daddr @%s drop", nftFamily, nftTable, nftSetV4),
		fmt.Sprintf("add rule %s %s output ip6 daddr @%s drop", nftFamily, nftTable, nftSetV6),
	}, "\n") + "\n"

	if out, err := n.run(ctx, script, "nft", "-f", "-"); err != nil {
		return fmt.Errorf("nft base setup: %v: %s", err, strings.TrimSpace(out))
	}
	n.ready = true
	return nil
}

// Block adds ip to the blocked set.
func (n *NFT) Block(ctx context.Context, ip string) error {
	addr, err := parseIP(ip)
	if err != nil {
		return err
	}
	if err := n.EnsureBase(ctx); err != nil {
		return err
	}

	out, err := n.run(ctx, "", "nft", "add", "element", nftFamily, nftTable, nftSet(addr.Is4()), "{", addr.String(), "}")
	if err != nil && !strings.Contains(out, "already exists") && !strings.Contains(out, "File exists") {
		return fmt.Errorf("nft block %s: %v: %s", addr, err, strings.TrimSpace(out))
	}
	return nil
}

// Unblock removes ip from the blocked set. Missing elements are not an error.
func (n *NFT) Unblock(ctx context.Context, ip string) error {
	addr, err := parseIP(ip)
	if err != nil {
		return err
	}

	out, err := n.run(ctx, "", "nft", "delete", "element", nftFamily, nftTable, nftSet(addr.Is4()), "{", addr.String(), "}")
	if err != nil && !isMissingElement(out) {
		return fmt.Errorf("nft unblock %s: %v: %s", addr, err, strings.TrimSpace(out))
	}
	return nil
}

func nftSet(v4 bool) string {
	if v4 {
		return nftSetV4
	}
	return nftSetV6
}

func isMissingElement(out string) bool {
	return strings.Contains(out, "No such file or directory") ||
		strings.Contains(out, "Could not delete element") ||
		strings.Contains(out, "does not exist")
}
