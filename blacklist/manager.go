package blacklist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"lanwarden/models"
)

// DefaultReason is stored when Add is called without a reason.
const DefaultReason = "Manual blacklist"

var (
	// ErrNotFound indicates the MAC is not blacklisted.
	ErrNotFound = errors.New("blacklist: entry not found")
	// ErrInvalidMAC indicates the MAC could not be parsed.
	ErrInvalidMAC = errors.New("blacklist: invalid mac address")
)

// Locator returns the current directory record for a MAC.
type Locator interface {
	Lookup(mac string) (models.Device, bool)
}

// Firewall applies and lifts per-address blocks.
type Firewall interface {
	Block(ctx context.Context, ip string) error
	Unblock(ctx context.Context, ip string) error
}

// Config wires a Manager to its collaborators. Locator and Firewall are optional.
type Config struct {
	Store    Store
	Locator  Locator
	Firewall Firewall
	Now      func() time.Time
}

// Manager serializes blacklist mutations and keeps the in-memory view in
// step with the store. A failed save leaves the in-memory view unchanged.
type Manager struct {
	store    Store
	locator  Locator
	firewall Firewall
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]models.BlacklistEntry
}

// NewManager creates a manager and loads the stored entries. An unreadable
// store starts the manager empty.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("blacklist store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	m := &Manager{
		store:    cfg.Store,
		locator:  cfg.Locator,
		firewall: cfg.Firewall,
		now:      now,
		entries:  make(map[string]models.BlacklistEntry),
	}
	m.entries = m.load()
	return m, nil
}

// SetLocator attaches the directory used to capture device addresses.
func (m *Manager) SetLocator(locator Locator) {
	m.mu.Lock()
	m.locator = locator
	m.mu.Unlock()
}

func (m *Manager) load() map[string]models.BlacklistEntry {
	entries, err := m.store.Load()
	if err != nil {
		log.Printf("warning: blacklist load failed, starting empty: %v", err)
		return make(map[string]models.BlacklistEntry)
	}
	if entries == nil {
		entries = make(map[string]models.BlacklistEntry)
	}
	return entries
}

// reloadTimeout bounds the firewall calls made for an external edit.
const reloadTimeout = 30 * time.Second

// Reload replaces the in-memory entries with the stored ones. On error the
// current entries are kept.
func (m *Manager) Reload() error {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	return m.ReloadContext(ctx)
}

// ReloadContext re-reads the store while holding the mutation lock, then
// applies the difference to the firewall: addresses of dropped entries are
// unblocked and addresses of new entries are blocked.
func (m *Manager) ReloadContext(ctx context.Context) error {
	m.mu.Lock()
	entries, err := m.store.Load()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("reload blacklist: %w", err)
	}
	if entries == nil {
		entries = make(map[string]models.BlacklistEntry)
	}
	unblock, block := diffAddresses(m.entries, entries)
	m.entries = entries
	m.mu.Unlock()

	if m.firewall == nil {
		return nil
	}
	for _, ip := range unblock {
		log.Printf("blacklist: entry for ip=%s removed externally, unblocking", ip)
		if err := m.firewall.Unblock(ctx, ip); err != nil {
			log.Printf("blacklist: unblock ip=%s failed: %v", ip, err)
		}
	}
	for _, ip := range block {
		log.Printf("blacklist: entry for ip=%s added externally, blocking", ip)
		if err := m.firewall.Block(ctx, ip); err != nil {
			log.Printf("blacklist: block ip=%s failed: %v", ip, err)
		}
	}
	return nil
}

// diffAddresses returns the stored addresses that disappear and appear when
// moving from prev to next. An entry whose address changed shows up in both.
func diffAddresses(prev, next map[string]models.BlacklistEntry) (gone, added []string) {
	for mac, old := range prev {
		cur, ok := next[mac]
		if old.IP != "" && (!ok || cur.IP != old.IP) {
			gone = append(gone, old.IP)
		}
	}
	for mac, cur := range next {
		old, ok := prev[mac]
		if cur.IP != "" && (!ok || old.IP != cur.IP) {
			added = append(added, cur.IP)
		}
	}
	sort.Strings(gone)
	sort.Strings(added)
	return gone, added
}

// Add blacklists mac, capturing the device's current address from the
// directory, persists the snapshot and blocks the captured address.
func (m *Manager) Add(ctx context.Context, mac, reason string) (models.BlacklistEntry, error) {
	canonical, err := models.NormalizeMAC(mac)
	if err != nil {
		return models.BlacklistEntry{}, fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultReason
	}

	m.mu.RLock()
	locator := m.locator
	m.mu.RUnlock()

	ip := ""
	if locator != nil {
		if dev, ok := locator.Lookup(canonical); ok {
			ip = dev.IP
		}
	}

	entry := models.BlacklistEntry{
		MAC:       canonical,
		Reason:    reason,
		Timestamp: m.now(),
		IP:        ip,
	}

	m.mu.Lock()
	next := cloneEntries(m.entries)
	next[canonical] = entry
	if err := m.store.Save(next); err != nil {
		m.mu.Unlock()
		return models.BlacklistEntry{}, fmt.Errorf("save blacklist: %w", err)
	}
	m.entries = next
	m.mu.Unlock()

	log.Printf("blacklist: added mac=%s ip=%q reason=%q", canonical, ip, reason)
	if ip != "" && m.firewall != nil {
		if err := m.firewall.Block(ctx, ip); err != nil {
			log.Printf("blacklist: block ip=%s failed: %v", ip, err)
		}
	}
	return entry, nil
}

// Remove deletes mac from the blacklist, persists the snapshot and lifts the
// block on the address recorded when the entry was added.
func (m *Manager) Remove(ctx context.Context, mac string) (models.BlacklistEntry, error) {
	canonical, err := models.NormalizeMAC(mac)
	if err != nil {
		return models.BlacklistEntry{}, fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}

	m.mu.Lock()
	entry, ok := m.entries[canonical]
	if !ok {
		m.mu.Unlock()
		return models.BlacklistEntry{}, ErrNotFound
	}
	next := cloneEntries(m.entries)
	delete(next, canonical)
	if err := m.store.Save(next); err != nil {
		m.mu.Unlock()
		return models.BlacklistEntry{}, fmt.Errorf("save blacklist: %w", err)
	}
	m.entries = next
	m.mu.Unlock()

	log.Printf("blacklist: removed mac=%s ip=%q", canonical, entry.IP)
	if entry.IP != "" && m.firewall != nil {
		if err := m.firewall.Unblock(ctx, entry.IP); err != nil {
			log.Printf("blacklist: unblock ip=%s failed: %v", entry.IP, err)
		}
	}
	return entry, nil
}

// Contains reports whether mac is blacklisted.
func (m *Manager) Contains(mac string) bool {
	canonical, err := models.NormalizeMAC(mac)
	if err != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[canonical]
	return ok
}

// Get returns the entry for mac.
func (m *Manager) Get(mac string) (models.BlacklistEntry, bool) {
	canonical, err := models.NormalizeMAC(mac)
	if err != nil {
		return models.BlacklistEntry{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[canonical]
	return entry, ok
}

// List returns all entries ordered by MAC.
func (m *Manager) List() []models.BlacklistEntry {
	m.mu.RLock()
	out := make([]models.BlacklistEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// Snapshot returns a copy of the current entries.
func (m *Manager) Snapshot() map[string]models.BlacklistEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneEntries(m.entries)
}

func cloneEntries(in map[string]models.BlacklistEntry) map[string]models.BlacklistEntry {
	out := make(map[string]models.BlacklistEntry, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
