package blacklist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"lanwarden/models"
)

type fakeLocator map[string]string

func (f fakeLocator) Lookup(mac string) (models.Device, bool) {
	ip, ok := f[mac]
	if !ok {
		return models.Device{}, false
	}
	return models.Device{MAC: mac, IP: ip}, true
}

type recordingFirewall struct {
	mu        sync.Mutex
	blocked   []string
	unblocked []string
}

func (f *recordingFirewall) Block(_ context.Context, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = append(f.blocked, ip)
	return nil
}

func (f *recordingFirewall) Unblock(_ context.Context, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unblocked = append(f.unblocked, ip)
	return nil
}

type failingStore struct {
	entries map[string]models.BlacklistEntry
	saveErr error
}

func (s *failingStore) Load() (map[string]models.BlacklistEntry, error) {
	return cloneEntries(s.entries), nil
}

func (s *failingStore) Save(entries map[string]models.BlacklistEntry) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.entries = cloneEntries(entries)
	return nil
}

func newFileManager(t *testing.T, locator Locator, fw Firewall) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blacklist.json")
	m, err := NewManager(Config{Store: NewFileStore(path), Locator: locator, Firewall: fw})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m, path
}

func TestAddCapturesDirectoryIPAndBlocks(t *testing.T) {
	fw := &recordingFirewall{}
	m, path := newFileManager(t, fakeLocator{"AA:BB:CC:DD:EE:01": "192.168.1.50"}, fw)

	entry, err := m.Add(context.Background(), "aa-bb-cc-dd-ee-01", "")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if entry.MAC != "AA:BB:CC:DD:EE:01" || entry.IP != "192.168.1.50" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Reason != DefaultReason {
		t.Fatalf("expected default reason, got %q", entry.Reason)
	}
	if len(fw.blocked) != 1 || fw.blocked[0] != "192.168.1.50" {
		t.Fatalf("expected one block for captured ip, got %v", fw.blocked)
	}

	reloaded, err := NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded["AA:BB:CC:DD:EE:01"].IP != "192.168.1.50" {
		t.Fatalf("expected persisted ip, got %+v", reloaded)
	}
}

func TestAddUnknownDeviceStoresNullIP(t *testing.T) {
	fw := &recordingFirewall{}
	m, path := newFileManager(t, fakeLocator{}, fw)

	if _, err := m.Add(context.Background(), "AA:BB:CC:DD:EE:09", "guest"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if len(fw.blocked) != 0 {
		t.Fatalf("expected no block without an ip, got %v", fw.blocked)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read blacklist: %v", err)
	}
	if !strings.Contains(string(raw), `"ip": null`) {
		t.Fatalf("expected null ip in persisted file, got %s", raw)
	}
}

func TestAddRemoveRoundTripRestoresStore(t *testing.T) {
	fw := &recordingFirewall{}
	m, path := newFileManager(t, fakeLocator{"AA:BB:CC:DD:EE:01": "192.168.1.50"}, fw)

	if _, err := m.Add(context.Background(), "AA:BB:CC:DD:EE:02", "kept"); err != nil {
		t.Fatalf("Add kept failed: %v", err)
	}
	before, err := NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("Load before failed: %v", err)
	}

	if _, err := m.Add(context.Background(), "AA:BB:CC:DD:EE:01", "temp"); err != nil {
		t.Fatalf("Add temp failed: %v", err)
	}
	if _, err := m.Remove(context.Background(), "AA:BB:CC:DD:EE:01"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	after, err := NewFileStore(path).Load()
	if err != nil {
		t.Fatalf("Load after failed: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("expected %d entries after round trip, got %d", len(before), len(after))
	}
	for mac, entry := range before {
		got, ok := after[mac]
		if !ok || got.Reason != entry.Reason || got.IP != entry.IP || !got.Timestamp.Equal(entry.Timestamp) {
			t.Fatalf("entry %s changed: before=%+v after=%+v", mac, entry, got)
		}
	}
}

func TestRemoveUnblocksAddTimeIPExactlyOnce(t *testing.T) {
	locator := fakeLocator{"AA:BB:CC:DD:EE:01": "192.168.1.50"}
	fw := &recordingFirewall{}
	m, _ := newFileManager(t, locator, fw)

	if _, err := m.Add(context.Background(), "AA:BB:CC:DD:EE:01", "curfew"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	// The device moves to another address after being blacklisted.
	locator["AA:BB:CC:DD:EE:01"] = "192.168.1.77"

	if _, err := m.Remove(context.Background(), "AA:BB:CC:DD:EE:01"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if len(fw.unblocked) != 1 || fw.unblocked[0] != "192.168.1.50" {
		t.Fatalf("expected one unblock of 192.168.1.50, got %v", fw.unblocked)
	}
	if m.Contains("AA:BB:CC:DD:EE:01") {
		t.Fatalf("expected entry to be gone")
	}
}

func TestRemoveUnknownReturnsNotFound(t *testing.T) {
	m, _ := newFileManager(t, nil, nil)
	if _, err := m.Remove(context.Background(), "AA:BB:CC:DD:EE:01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.Add(context.Background(), "not-a-mac", ""); !errors.Is(err, ErrInvalidMAC) {
		t.Fatalf("expected ErrInvalidMAC, got %v", err)
	}
}

func TestSaveFailureIsSurfacedAndStateUnchanged(t *testing.T) {
	store := &failingStore{entries: map[string]models.BlacklistEntry{
		"AA:BB:CC:DD:EE:01": {MAC: "AA:BB:CC:DD:EE:01", Reason: "old", IP: "192.168.1.5", Timestamp: time.Now()},
	}}
	fw := &recordingFirewall{}
	m, err := NewManager(Config{Store: store, Firewall: fw})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	store.saveErr = errors.New("disk full")
	if _, err := m.Add(context.Background(), "AA:BB:CC:DD:EE:02", "new"); err == nil {
		t.Fatalf("expected Add to surface save failure")
	}
	if m.Contains("AA:BB:CC:DD:EE:02") {
		t.Fatalf("expected failed add to leave state unchanged")
	}

	if _, err := m.Remove(context.Background(), "AA:BB:CC:DD:EE:01"); err == nil {
		t.Fatalf("expected Remove to surface save failure")
	}
	if !m.Contains("AA:BB:CC:DD:EE:01") {
		t.Fatalf("expected failed remove to keep the entry")
	}
	if len(fw.unblocked) != 0 || len(fw.blocked) != 0 {
		t.Fatalf("expected no firewall calls after failed saves, got block=%v unblock=%v", fw.blocked, fw.unblocked)
	}
}

func TestCorruptFileLoadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blacklist.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	m, err := NewManager(Config{Store: NewFileStore(path)})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if got := m.List(); len(got) != 0 {
		t.Fatalf("expected empty blacklist, got %v", got)
	}
	if err := m.Reload(); err == nil {
		t.Fatalf("expected Reload to report the corrupt file")
	}
}
