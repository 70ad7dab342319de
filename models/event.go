package models

// Enforcement actions recorded in the event log.
const (
	ActionBlock      = "block"
	ActionUnblock    = "unblock"
	ActionNotify     = "notify"
	ActionDisconnect = "disconnect"
)

// Outcomes of an enforcement action.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// EnforcementEvent records one action taken against a device.
type EnforcementEvent struct {
	ID        string `json:"id"`
	CycleID   string `json:"cycle_id"`
	MAC       string `json:"mac"`
	IP        string `json:"ip"`
	Action    string `json:"action"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail"`
	Timestamp int64  `json:"timestamp"`
}
