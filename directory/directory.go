// Package directory keeps the in-memory record of every device seen on the
// segment.
package directory

import (
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"lanwarden/models"
)

// DefaultActiveWindow is how recently a device must be seen to be ACTIVE.
const DefaultActiveWindow = 300 * time.Second

// Membership answers whether a MAC is currently blacklisted.
type Membership interface {
	Contains(mac string) bool
}

// Config controls status derivation.
type Config struct {
	ActiveWindow time.Duration
	// TimeLimit feeds the informational over_time_limit field. Zero disables it.
	TimeLimit time.Duration
	Now       func() time.Time
}

func (c Config) withDefaults() Config {
	out := c
	if out.ActiveWindow <= 0 {
		out.ActiveWindow = DefaultActiveWindow
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	return out
}

type record struct {
	mac       string
	ip        string
	hostname  string
	firstSeen time.Time
	lastSeen  time.Time
}

// Directory is the MAC-keyed device table. Records are never removed.
type Directory struct {
	cfg Config

	mu      sync.RWMutex
	records map[string]*record

	membershipMu sync.RWMutex
	membership   Membership
}

// New creates an empty directory.
func New(cfg Config) *Directory {
	return &Directory{
		cfg:     cfg.withDefaults(),
		records: make(map[string]*record),
	}
}

// SetMembership attaches the blacklist used to derive is_blacklisted.
func (d *Directory) SetMembership(m Membership) {
	d.membershipMu.Lock()
	d.membership = m
	d.membershipMu.Unlock()
}

// Update inserts or refreshes the record for obs.MAC. The first update sets
// first_seen; every update moves last_seen forward and replaces ip and
// hostname.
func (d *Directory) Update(obs models.Observation) {
	mac := strings.ToUpper(strings.TrimSpace(obs.MAC))
	if mac == "" {
		return
	}
	hostname := strings.TrimSpace(obs.Hostname)
	if hostname == "" {
		hostname = models.UnknownHostname
	}
	now := d.cfg.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[mac]
	if !ok {
		rec = &record{mac: mac, firstSeen: now, lastSeen: now}
		d.records[mac] = rec
	}
	rec.ip = strings.TrimSpace(obs.IP)
	rec.hostname = hostname
	if now.After(rec.lastSeen) {
		rec.lastSeen = now
	}
}

// List returns every known device with derived fields computed now.
func (d *Directory) List() []models.Device {
	d.mu.RLock()
	snapshot := make([]record, 0, len(d.records))
	for _, rec := range d.records {
		snapshot = append(snapshot, *rec)
	}
	d.mu.RUnlock()

	membership := d.currentMembership()
	now := d.cfg.Now()

	out := make([]models.Device, 0, len(snapshot))
	for _, rec := range snapshot {
		out = append(out, d.derive(rec, now, membership))
	}

	sort.Slice(out, func(i, j int) bool {
		a, errA := netip.ParseAddr(out[i].IP)
		b, errB := netip.ParseAddr(out[j].IP)
		if errA == nil && errB == nil && a != b {
			return a.Less(b)
		}
		if out[i].IP != out[j].IP {
			return out[i].IP < out[j].IP
		}
		return out[i].MAC < out[j].MAC
	})
	return out
}

// Lookup returns the current record for mac.
func (d *Directory) Lookup(mac string) (models.Device, bool) {
	mac = strings.ToUpper(strings.TrimSpace(mac))

	d.mu.RLock()
	rec, ok := d.records[mac]
	var snapshot record
	if ok {
		snapshot = *rec
	}
	d.mu.RUnlock()

	if !ok {
		return models.Device{}, false
	}
	return d.derive(snapshot, d.cfg.Now(), d.currentMembership()), true
}

// ExceedsTimeLimit reports whether the device has been connected for longer
// than limitMinutes. Unknown devices never exceed the limit.
func (d *Directory) ExceedsTimeLimit(mac string, limitMinutes int) bool {
	mac = strings.ToUpper(strings.TrimSpace(mac))

	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.records[mac]
	if !ok {
		return false
	}
	return rec.lastSeen.Sub(rec.firstSeen) > time.Duration(limitMinutes)*time.Minute
}

// Len returns the number of known devices.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

func (d *Directory) currentMembership() Membership {
	d.membershipMu.RLock()
	defer d.membershipMu.RUnlock()
	return d.membership
}

func (d *Directory) derive(rec record, now time.Time, membership Membership) models.Device {
	status := models.StatusOffline
	if now.Sub(rec.lastSeen) < d.cfg.ActiveWindow {
		status = models.StatusActive
	}

	duration := rec.lastSeen.Sub(rec.firstSeen)
	return models.Device{
		MAC:                rec.mac,
		IP:                 rec.ip,
		Hostname:           rec.hostname,
		FirstSeen:          rec.firstSeen,
		LastSeen:           rec.lastSeen,
		ConnectionDuration: duration,
		IsBlacklisted:      membership != nil && membership.Contains(rec.mac),
		Status:             status,
		OverTimeLimit:      d.cfg.TimeLimit > 0 && duration > d.cfg.TimeLimit,
	}
}
