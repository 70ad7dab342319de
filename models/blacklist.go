package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// naiveTimestampLayout accepts ISO-8601 timestamps written without a zone.
const naiveTimestampLayout = "2006-01-02T15:04:05.999999999"

// BlacklistEntry is one persisted blacklist record. MAC is the map key in
// the persisted layout and is not part of the encoded value.
type BlacklistEntry struct {
	MAC       string    `json:"-"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip"`
}

type blacklistEntryJSON struct {
	Timestamp string  `json:"timestamp"`
	Reason    string  `json:"reason"`
	IP        *string `json:"ip"`
}

// MarshalJSON writes the entry with a null ip when no address was known.
func (e BlacklistEntry) MarshalJSON() ([]byte, error) {
	out := blacklistEntryJSON{
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		Reason:    e.Reason,
	}
	if ip := strings.TrimSpace(e.IP); ip != "" {
		out.IP = &ip
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts RFC 3339 and zone-less ISO-8601 timestamps.
func (e *BlacklistEntry) UnmarshalJSON(raw []byte) error {
	var in blacklistEntryJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}

	ts, err := ParseTimestamp(in.Timestamp)
	if err != nil {
		return err
	}

	e.Timestamp = ts
	e.Reason = in.Reason
	e.IP = ""
	if in.IP != nil {
		e.IP = strings.TrimSpace(*in.IP)
	}
	return nil
}

// ParseTimestamp parses an ISO-8601 timestamp with or without a zone offset.
// Zone-less values are read as local time. An empty value yields zero time.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(naiveTimestampLayout, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return ts, nil
}
