package discovery

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"runtime"
	"strings"

	"lanwarden/config"
	"lanwarden/models"
)

const procNetARP = "/proc/net/arp"

var (
	bsdARPLine     = regexp.MustCompile(`^(\S+)\s+\((\d+\.\d+\.\d+\.\d+)\)\s+at\s+(([0-9a-fA-F]{1,2}:){5}[0-9a-fA-F]{1,2})\b`)
	windowsARPLine = regexp.MustCompile(`^\s*(\d+\.\d+\.\d+\.\d+)\s+([0-9a-fA-F]{2}(-[0-9a-fA-F]{2}){5})\s+\w+`)
)

// ARPTable walks the operating system's neighbour table. It only sees
// devices the host has recently talked to.
type ARPTable struct {
	goos     string
	readFile func(name string) ([]byte, error)
	run      CommandRunner
}

// NewARPTable returns the address table backend for the running OS.
func NewARPTable() *ARPTable {
	return &ARPTable{
		goos:     runtime.GOOS,
		readFile: os.ReadFile,
		run:      execRunner,
	}
}

func (a *ARPTable) Name() string    { return config.BackendARPTable }
func (a *ARPTable) Available() bool { return true }

// Scan returns the table entries inside scanRange.
func (a *ARPTable) Scan(ctx context.Context, scanRange netip.Prefix) ([]models.Observation, error) {
	entries, err := a.entries(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.Observation, 0, len(entries))
	for _, obs := range entries {
		ip, err := netip.ParseAddr(obs.IP)
		if err != nil || !scanRange.Contains(ip) {
			continue
		}
		obs.Source = config.BackendARPTable
		out = append(out, obs)
	}
	return out, nil
}

func (a *ARPTable) entries(ctx context.Context) ([]models.Observation, error) {
	if a.goos == "linux" {
		raw, err := a.readFile(procNetARP)
		if err == nil {
			return parseProcNetARP(raw)
		}
	}

	raw, err := a.run(ctx, "arp", "-a")
	if err != nil {
		return nil, fmt.Errorf("arp -a: %w", err)
	}
	return parseARPCommand(raw)
}

// parseProcNetARP reads the Linux /proc/net/arp layout:
// IP address, HW type, Flags, HW address, Mask, Device.
func parseProcNetARP(raw []byte) ([]models.Observation, error) {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	out := make([]models.Observation, 0, 16)
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		// Flags 0x0 marks an incomplete entry.
		if fields[2] == "0x0" {
			continue
		}
		out = append(out, models.Observation{IP: fields[0], MAC: fields[3]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read arp table: %w", err)
	}
	return out, nil
}

// parseARPCommand reads `arp -a` output in BSD/macOS or Windows form.
func parseARPCommand(raw []byte) ([]models.Observation, error) {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	out := make([]models.Observation, 0, 16)
	for sc.Scan() {
		line := sc.Text()
		if m := bsdARPLine.FindStringSubmatch(line); m != nil {
			out = append(out, models.Observation{Hostname: cleanHostname(m[1]), IP: m[2], MAC: m[3]})
			continue
		}
		if m := windowsARPLine.FindStringSubmatch(line); m != nil {
			out = append(out, models.Observation{IP: m[1], MAC: m[2]})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read arp output: %w", err)
	}
	return out, nil
}
