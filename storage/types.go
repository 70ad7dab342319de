package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lanwarden/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

// EventFilter narrows GetEvents results.
type EventFilter struct {
	MAC           string
	CycleID       string
	Action        string
	FromTimestamp *int64
	Limit         int
	Offset        int
}

type scanner interface {
	Scan(dest ...any) error
}

func validateAction(action string) error {
	switch action {
	case models.ActionBlock, models.ActionUnblock, models.ActionNotify, models.ActionDisconnect:
		return nil
	default:
		return fmt.Errorf("invalid action %q", action)
	}
}

func validateOutcome(outcome string) error {
	switch outcome {
	case models.OutcomeOK, models.OutcomeFailed, models.OutcomeSkipped:
		return nil
	default:
		return fmt.Errorf("invalid outcome %q", outcome)
	}
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
