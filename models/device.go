package models

import (
	"fmt"
	"time"
)

// Status is the derived presence state of a device.
type Status string

const (
	// StatusActive means the device was observed within the active window.
	StatusActive Status = "ACTIVE"
	// StatusOffline means the device has not been observed recently.
	StatusOffline Status = "OFFLINE"
)

// FirstSeenLayout is the display layout for first_seen timestamps.
const FirstSeenLayout = "2006-01-02 15:04:05"

// UnknownHostname is used when no hostname source answers for an address.
const UnknownHostname = "Unknown"

// Observation is one raw sighting reported by a scan backend.
type Observation struct {
	MAC      string `json:"mac"`
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	Source   string `json:"source,omitempty"`
}

// Device is a directory record with derived fields filled in at read time.
type Device struct {
	MAC                string        `json:"mac"`
	IP                 string        `json:"ip"`
	Hostname           string        `json:"hostname"`
	FirstSeen          time.Time     `json:"-"`
	LastSeen           time.Time     `json:"-"`
	ConnectionDuration time.Duration `json:"-"`
	IsBlacklisted      bool          `json:"is_blacklisted"`
	Status             Status        `json:"status"`
	OverTimeLimit      bool          `json:"over_time_limit"`
}

// DeviceView is the operator-facing rendering of a Device.
type DeviceView struct {
	MAC                string `json:"mac"`
	IP                 string `json:"ip"`
	Hostname           string `json:"hostname"`
	ConnectionDuration string `json:"connection_duration"`
	IsBlacklisted      bool   `json:"is_blacklisted"`
	FirstSeen          string `json:"first_seen"`
	LastSeen           string `json:"last_seen"`
	Status             Status `json:"status"`
	OverTimeLimit      bool   `json:"over_time_limit"`
}

// View formats timestamps and duration for display.
func (d Device) View() DeviceView {
	return DeviceView{
		MAC:                d.MAC,
		IP:                 d.IP,
		Hostname:           d.Hostname,
		ConnectionDuration: FormatDuration(d.ConnectionDuration),
		IsBlacklisted:      d.IsBlacklisted,
		FirstSeen:          d.FirstSeen.Format(FirstSeenLayout),
		LastSeen:           d.LastSeen.Format(FirstSeenLayout),
		Status:             d.Status,
		OverTimeLimit:      d.OverTimeLimit,
	}
}

// FormatDuration renders d as HH:MM:SS. Hours are not wrapped at 24.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
