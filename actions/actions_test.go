package actions

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"lanwarden/config"
)

type call struct {
	stdin string
	line  string
}

// fakeRunner records commands and fails those whose line starts with a
// configured prefix.
type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]string
}

func (f *fakeRunner) run(_ context.Context, stdin, name string, args ...string) (string, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{stdin: stdin, line: line})
	for prefix, out := range f.fail {
		if strings.HasPrefix(line, prefix) {
			return out, errors.New("exit status 1")
		}
	}
	return "", nil
}

func (f *fakeRunner) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.line)
	}
	return out
}

func TestNFTBlockSetsUpBaseOnce(t *testing.T) {
	f := &fakeRunner{}
	n := NewNFT(f.run)

	if err := n.Block(context.Background(), "192.168.1.20"); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	if err := n.Block(context.Background(), "fe80::1"); err != nil {
		t.Fatalf("Block v6 failed: %v", err)
	}

	lines := f.lines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 commands, got %d: %v", len(lines), lines)
	}
	if lines[0] != "nft -f -" {
		t.Fatalf("expected base script first, got %q", lines[0])
	}
	if !strings.Contains(f.calls[0].stdin, "add table inet lanwarden") {
		t.Fatalf("base script missing table: %q", f.calls[0].stdin)
	}
	if lines[1] != "nft add element inet lanwarden blocked_v4 { 192.168.1.20 }" {
		t.Fatalf("unexpected v4 block command %q", lines[1])
	}
	if lines[2] != "nft add element inet lanwarden blocked_v6 { fe80::1 }" {
		t.Fatalf("unexpected v6 block command %q", lines[2])
	}
}

func TestNFTUnblockToleratesMissingElement(t *testing.T) {
	f := &fakeRunner{fail: map[string]string{
		"nft delete element": "Error: Could not process rule: No such file or directory",
	}}
	n := NewNFT(f.run)

	if err := n.Unblock(context.Background(), "192.168.1.20"); err != nil {
		t.Fatalf("Unblock failed: %v", err)
	}
}

func TestNFTBlockReportsBaseFailure(t *testing.T) {
	f := &fakeRunner{fail: map[string]string{"nft -f": "Error: permission denied"}}
	n := NewNFT(f.run)

	err := n.Block(context.Background(), "192.168.1.20")
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("expected base setup error, got %v", err)
	}
}

func TestIPTablesBlockSkipsExistingRules(t *testing.T) {
	f := &fakeRunner{fail: map[string]string{
		"iptables -C OUTPUT": "iptables: Bad rule",
	}}
	ipt := NewIPTables(f.run)

	if err := ipt.Block(context.Background(), "10.0.0.9"); err != nil {
		t.Fatalf("Block failed: %v", err)
	}

	var inserts []string
	for _, line := range f.lines() {
		if strings.HasPrefix(line, "iptables -I") {
			inserts = append(inserts, line)
		}
	}
	if len(inserts) != 1 || inserts[0] != "iptables -I OUTPUT -d 10.0.0.9 -j DROP" {
		t.Fatalf("expected only the missing OUTPUT rule inserted, got %v", inserts)
	}
}

// ruleTable emulates iptables -C/-D against per-rule counts.
type ruleTable struct {
	counts  map[string]int
	deletes int
	deny    string
}

func (r *ruleTable) run(_ context.Context, _, _ string, args ...string) (string, error) {
	if r.deny != "" {
		return r.deny, errors.New("exit status 4")
	}
	key := strings.Join(args[1:], " ")
	switch args[0] {
	case "-C":
		if r.counts[key] > 0 {
			return "", nil
		}
		return "iptables: Bad rule (does a matching rule exist in that chain?).", errors.New("exit status 1")
	case "-D":
		r.deletes++
		if r.counts[key] == 0 {
			return "iptables: Bad rule (does a matching rule exist in that chain?).", errors.New("exit status 1")
		}
		r.counts[key]--
	}
	return "", nil
}

func TestIPTablesUnblockDeletesUntilGone(t *testing.T) {
	table := &ruleTable{counts: map[string]int{
		"INPUT -s 10.0.0.9 -j DROP":   2,
		"FORWARD -s 10.0.0.9 -j DROP": 1,
		"OUTPUT -d 10.0.0.9 -j DROP":  1,
	}}
	ipt := NewIPTables(table.run)

	if err := ipt.Unblock(context.Background(), "10.0.0.9"); err != nil {
		t.Fatalf("Unblock failed: %v", err)
	}
	if table.deletes != 4 {
		t.Fatalf("expected 4 deletes for the present rules, got %d", table.deletes)
	}
	for rule, n := range table.counts {
		if n != 0 {
			t.Fatalf("rule %q still present %d times", rule, n)
		}
	}

	if err := ipt.Unblock(context.Background(), "10.0.0.9"); err != nil {
		t.Fatalf("Unblock of absent rules should succeed: %v", err)
	}
}

func TestIPTablesUnblockReportsExecutionErrors(t *testing.T) {
	denied := &ruleTable{deny: "iptables v1.8.9: can't initialize iptables table `filter': Permission denied (you must be root)"}
	err := NewIPTables(denied.run).Unblock(context.Background(), "10.0.0.9")
	if err == nil || !strings.Contains(err.Error(), "Permission denied") {
		t.Fatalf("expected permission error, got %v", err)
	}

	f := &fakeRunner{fail: map[string]string{"iptables -D": "iptables: Resource temporarily unavailable."}}
	err = NewIPTables(f.run).Unblock(context.Background(), "10.0.0.9")
	if err == nil || !strings.Contains(err.Error(), "Resource temporarily unavailable") {
		t.Fatalf("expected delete error, got %v", err)
	}
}

func TestIPTablesUsesIP6TablesForIPv6(t *testing.T) {
	f := &fakeRunner{fail: map[string]string{"ip6tables -C": "Bad rule"}}
	ipt := NewIPTables(f.run)

	if err := ipt.Block(context.Background(), "fd00::5"); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	for _, line := range f.lines() {
		if !strings.HasPrefix(line, "ip6tables ") {
			t.Fatalf("expected ip6tables command, got %q", line)
		}
	}
}

func TestNetshBlockReplacesRule(t *testing.T) {
	f := &fakeRunner{fail: map[string]string{"netsh advfirewall firewall delete": "No rules match the specified criteria."}}
	ns := NewNetsh(f.run)

	if err := ns.Block(context.Background(), "192.168.1.30"); err != nil {
		t.Fatalf("Block failed: %v", err)
	}
	lines := f.lines()
	if len(lines) != 3 {
		t.Fatalf("expected delete plus two adds, got %v", lines)
	}
	want := "netsh advfirewall firewall add rule name=Block_WiFi_Manager_192.168.1.30 dir=out action=block remoteip=192.168.1.30 enable=yes profile=any"
	if lines[2] != want {
		t.Fatalf("unexpected add command\n got %q\nwant %q", lines[2], want)
	}

	if err := ns.Unblock(context.Background(), "192.168.1.30"); err != nil {
		t.Fatalf("Unblock with no rule should succeed: %v", err)
	}
}

func TestBlockRejectsInvalidIP(t *testing.T) {
	f := &fakeRunner{}
	for _, b := range []Blocker{NewNFT(f.run), NewIPTables(f.run), NewNetsh(f.run)} {
		if err := b.Block(context.Background(), "not-an-ip"); err == nil {
			t.Fatalf("%s: expected error for invalid ip", b.Name())
		}
	}
	if len(f.lines()) != 0 {
		t.Fatalf("expected no commands, got %v", f.lines())
	}
}

func TestNewBlockerKinds(t *testing.T) {
	f := &fakeRunner{}
	for _, kind := range []string{config.FirewallNFT, config.FirewallIPTables, config.FirewallNetsh, config.FirewallNone} {
		b, err := NewBlocker(kind, f.run)
		if err != nil {
			t.Fatalf("NewBlocker(%q) failed: %v", kind, err)
		}
		if b.Name() != kind {
			t.Fatalf("expected %q, got %q", kind, b.Name())
		}
	}
	if _, err := NewBlocker("pf", f.run); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestDetectFirewall(t *testing.T) {
	only := func(names ...string) func(string) (string, error) {
		return func(name string) (string, error) {
			for _, n := range names {
				if n == name {
					return "/usr/sbin/" + name, nil
				}
			}
			return "", errors.New("not found")
		}
	}

	if got := detectFirewall("linux", only("nft", "iptables")); got != config.FirewallNFT {
		t.Fatalf("expected nft, got %q", got)
	}
	if got := detectFirewall("linux", only("iptables")); got != config.FirewallIPTables {
		t.Fatalf("expected iptables, got %q", got)
	}
	if got := detectFirewall("linux", only()); got != config.FirewallNone {
		t.Fatalf("expected none, got %q", got)
	}
	if got := detectFirewall("windows", only("netsh", "nft")); got != config.FirewallNetsh {
		t.Fatalf("expected netsh, got %q", got)
	}
}

func TestUDPNotifierSendsDatagram(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer conn.Close()
	port := conn.LocalAddr().(*net.UDPAddr).Port

	n := UDPNotifier{Port: port, Timeout: time.Second}
	if err := n.Notify(context.Background(), "127.0.0.1", "blocked"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	nr, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf[:nr]) != "blocked" {
		t.Fatalf("expected message %q, got %q", "blocked", buf[:nr])
	}
}

func TestPopupNotifierCommand(t *testing.T) {
	f := &fakeRunner{}
	p := PopupNotifier{Run: f.run}
	if err := p.Notify(context.Background(), "192.168.1.40", "hello there"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if got := f.lines(); len(got) != 1 || got[0] != "msg * /SERVER:192.168.1.40 hello there" {
		t.Fatalf("unexpected command %v", got)
	}
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Notify(context.Context, string, string) error {
	s.calls++
	return s.err
}

func TestFallbackNotifier(t *testing.T) {
	first := &stubNotifier{err: errors.New("popup failed")}
	second := &stubNotifier{}
	third := &stubNotifier{}

	if err := (FallbackNotifier{first, second, third}).Notify(context.Background(), "10.0.0.1", "x"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if first.calls != 1 || second.calls != 1 || third.calls != 0 {
		t.Fatalf("unexpected call counts %d %d %d", first.calls, second.calls, third.calls)
	}

	failing := FallbackNotifier{&stubNotifier{err: errors.New("a")}, &stubNotifier{err: errors.New("b")}}
	err := failing.Notify(context.Background(), "10.0.0.1", "x")
	if err == nil || !strings.Contains(err.Error(), "a") || !strings.Contains(err.Error(), "b") {
		t.Fatalf("expected joined errors, got %v", err)
	}
}

func TestNewNotifierByPlatform(t *testing.T) {
	if _, ok := NewNotifier("linux", 9999, time.Second, nil).(UDPNotifier); !ok {
		t.Fatalf("expected UDP notifier on linux")
	}
	chain, ok := NewNotifier("windows", 9999, time.Second, nil).(FallbackNotifier)
	if !ok || len(chain) != 2 {
		t.Fatalf("expected popup+udp chain on windows, got %#v", chain)
	}
	if _, ok := chain[0].(PopupNotifier); !ok {
		t.Fatalf("expected popup first, got %T", chain[0])
	}
}

func TestNeighborDisconnectorLinux(t *testing.T) {
	f := &fakeRunner{}
	d := NewNeighborDisconnector("linux", Noop{}, f.run)

	if err := d.Disconnect(context.Background(), "AA:BB:CC:DD:EE:01", "192.168.1.50"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if got := f.lines(); len(got) != 1 || got[0] != "ip neigh flush to 192.168.1.50" {
		t.Fatalf("unexpected commands %v", got)
	}
}

func TestNeighborDisconnectorFallsBackToARP(t *testing.T) {
	f := &fakeRunner{fail: map[string]string{"ip neigh": "not found"}}
	d := NewNeighborDisconnector("linux", nil, f.run)

	if err := d.Disconnect(context.Background(), "AA:BB:CC:DD:EE:01", "192.168.1.50"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	got := f.lines()
	if len(got) != 2 || got[1] != "arp -d 192.168.1.50" {
		t.Fatalf("expected arp fallback, got %v", got)
	}
}

type failingBlocker struct{ Noop }

func (failingBlocker) Block(context.Context, string) error { return errors.New("firewall down") }

func TestNeighborDisconnectorReportsBlockError(t *testing.T) {
	f := &fakeRunner{}
	d := NewNeighborDisconnector("windows", failingBlocker{}, f.run)

	err := d.Disconnect(context.Background(), "AA:BB:CC:DD:EE:01", "192.168.1.50")
	if err == nil || !strings.Contains(err.Error(), "firewall down") {
		t.Fatalf("expected block error, got %v", err)
	}
	if got := f.lines(); len(got) != 1 || got[0] != "arp -d 192.168.1.50" {
		t.Fatalf("neighbour flush should still run, got %v", got)
	}
}
