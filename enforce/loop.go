// Package enforce runs the periodic scan-and-block cycle.
package enforce

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lanwarden/actions"
	"lanwarden/models"
)

const (
	// DefaultInterval is the pause between cycles.
	DefaultInterval = 30 * time.Second
	// DefaultGraceDelay separates the notification from the disconnect.
	DefaultGraceDelay = 5 * time.Second
	// actionTimeout bounds a single block, notify or disconnect.
	actionTimeout = 15 * time.Second
)

// ErrAlreadyRunning is returned when Run is called on a running loop.
var ErrAlreadyRunning = errors.New("enforcement loop already running")

// State is the loop's coarse activity.
type State int32

const (
	StateIdle State = iota
	StateScanning
)

func (s State) String() string {
	if s == StateScanning {
		return "SCANNING"
	}
	return "IDLE"
}

// Scanner produces the current device list.
type Scanner interface {
	Scan(ctx context.Context) []models.Device
}

// EventRecorder persists enforcement events.
type EventRecorder interface {
	RecordEvent(event models.EnforcementEvent) error
}

// Config wires a Loop.
type Config struct {
	Scanner      Scanner
	Blocker      actions.Blocker
	Notifier     actions.Notifier
	Disconnector actions.Disconnector
	// Recorder is optional.
	Recorder EventRecorder

	Interval   time.Duration
	GraceDelay time.Duration
	Message    string

	// Privileged gates the disconnect step. Defaults to actions.IsPrivileged.
	Privileged func() bool
	Now        func() time.Time
}

// ActionFailure is one failed action inside a cycle.
type ActionFailure struct {
	MAC    string `json:"mac"`
	IP     string `json:"ip"`
	Action string `json:"action"`
	Error  string `json:"error"`
}

// CycleReport summarizes one enforcement cycle.
type CycleReport struct {
	ID           string          `json:"id"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	DevicesSeen  int             `json:"devices_seen"`
	Blocked      []string        `json:"blocked"`
	Disconnected []string        `json:"disconnected"`
	Failures     []ActionFailure `json:"failures"`
}

// Loop scans on a fixed interval and enforces the blacklist on every
// active blacklisted device.
type Loop struct {
	cfg Config

	state   atomic.Int32
	running atomic.Bool
	cycleMu sync.Mutex

	reportMu sync.RWMutex
	last     *CycleReport
}

// NewLoop validates cfg and returns a loop.
func NewLoop(cfg Config) (*Loop, error) {
	if cfg.Scanner == nil {
		return nil, errors.New("scanner is required")
	}
	if cfg.Blocker == nil {
		return nil, errors.New("blocker is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.GraceDelay < 0 {
		cfg.GraceDelay = 0
	}
	if cfg.Privileged == nil {
		cfg.Privileged = actions.IsPrivileged
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Loop{cfg: cfg}, nil
}

// State returns SCANNING while a cycle is in flight, from the scan through
// the last disconnect, and IDLE otherwise.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// LastReport returns the most recent completed cycle.
func (l *Loop) LastReport() (CycleReport, bool) {
	l.reportMu.RLock()
	defer l.reportMu.RUnlock()
	if l.last == nil {
		return CycleReport{}, false
	}
	return *l.last, true
}

// Run executes a cycle immediately and then on every tick until ctx is
// cancelled. Cancellation is observed between cycles.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.running.Store(false)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		report := l.RunCycle(ctx)
		log.Printf("enforce: cycle %s saw %d devices, blocked %d, %d failures",
			report.ID, report.DevicesSeen, len(report.Blocked), len(report.Failures))

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type target struct {
	mac string
	ip  string
}

// RunCycle performs one scan and enforcement pass. Blocks are issued even if
// ctx is cancelled mid-cycle; a cancel during the grace delay skips the
// pending disconnects.
func (l *Loop) RunCycle(ctx context.Context) CycleReport {
	l.cycleMu.Lock()
	defer l.cycleMu.Unlock()

	report := CycleReport{
		ID:           uuid.NewString(),
		StartedAt:    l.cfg.Now(),
		Blocked:      []string{},
		Disconnected: []string{},
		Failures:     []ActionFailure{},
	}

	l.state.Store(int32(StateScanning))
	defer l.state.Store(int32(StateIdle))

	devices := l.cfg.Scanner.Scan(ctx)
	report.DevicesSeen = len(devices)

	actionCtx := context.WithoutCancel(ctx)
	var targets []target
	for _, device := range devices {
		if !device.IsBlacklisted || device.Status != models.StatusActive || device.IP == "" {
			continue
		}
		t := target{mac: device.MAC, ip: device.IP}
		targets = append(targets, t)

		if err := l.act(actionCtx, func(c context.Context) error { return l.cfg.Blocker.Block(c, t.ip) }); err != nil {
			l.fail(&report, t, models.ActionBlock, err)
		} else {
			report.Blocked = append(report.Blocked, t.mac)
			l.record(report.ID, t, models.ActionBlock, models.OutcomeOK, "")
		}

		if l.cfg.Notifier == nil {
			continue
		}
		if err := l.act(actionCtx, func(c context.Context) error { return l.cfg.Notifier.Notify(c, t.ip, l.cfg.Message) }); err != nil {
			// Notification is best effort and does not count as a failure.
			log.Printf("enforce: notify %s (%s) failed: %v", t.ip, t.mac, err)
			l.record(report.ID, t, models.ActionNotify, models.OutcomeFailed, err.Error())
		} else {
			l.record(report.ID, t, models.ActionNotify, models.OutcomeOK, "")
		}
	}

	if len(targets) > 0 && l.cfg.Disconnector != nil {
		l.disconnect(ctx, actionCtx, &report, targets)
	}

	report.FinishedAt = l.cfg.Now()
	l.reportMu.Lock()
	l.last = &report
	l.reportMu.Unlock()
	return report
}

func (l *Loop) disconnect(ctx, actionCtx context.Context, report *CycleReport, targets []target) {
	if !l.cfg.Privileged() {
		for _, t := range targets {
			l.record(report.ID, t, models.ActionDisconnect, models.OutcomeSkipped, "not privileged")
		}
		return
	}

	if !l.sleep(ctx, l.cfg.GraceDelay) {
		log.Printf("enforce: stopped during grace delay, skipping %d disconnects", len(targets))
		for _, t := range targets {
			l.record(report.ID, t, models.ActionDisconnect, models.OutcomeSkipped, "stopped")
		}
		return
	}

	for _, t := range targets {
		if err := l.act(actionCtx, func(c context.Context) error { return l.cfg.Disconnector.Disconnect(c, t.mac, t.ip) }); err != nil {
			l.fail(report, t, models.ActionDisconnect, err)
			continue
		}
		report.Disconnected = append(report.Disconnected, t.mac)
		l.record(report.ID, t, models.ActionDisconnect, models.OutcomeOK, "")
	}
}

func (l *Loop) act(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	return fn(ctx)
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (l *Loop) fail(report *CycleReport, t target, action string, err error) {
	log.Printf("enforce: %s %s (%s) failed: %v", action, t.ip, t.mac, err)
	report.Failures = append(report.Failures, ActionFailure{
		MAC:    t.mac,
		IP:     t.ip,
		Action: action,
		Error:  err.Error(),
	})
	l.record(report.ID, t, action, models.OutcomeFailed, err.Error())
}

func (l *Loop) record(cycleID string, t target, action, outcome, detail string) {
	if l.cfg.Recorder == nil {
		return
	}
	event := models.EnforcementEvent{
		CycleID:   cycleID,
		MAC:       t.mac,
		IP:        t.ip,
		Action:    action,
		Outcome:   outcome,
		Detail:    detail,
		Timestamp: l.cfg.Now().UnixMilli(),
	}
	if err := l.cfg.Recorder.RecordEvent(event); err != nil {
		log.Printf("enforce: record %s event for %s failed: %v", action, t.mac, err)
	}
}
