package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"lanwarden/models"
)

// SetEventRetention configures automatic enforcement-event pruning horizon.
func (s *Store) SetEventRetention(retention time.Duration) {
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	s.eventRetention.Store(int64(retention))
}

func (s *Store) retention() time.Duration {
	return time.Duration(s.eventRetention.Load())
}

// RecordEvent inserts an enforcement event and applies retention pruning.
func (s *Store) RecordEvent(event models.EnforcementEvent) error {
	if strings.TrimSpace(event.MAC) == "" {
		return errors.New("mac is required")
	}
	if strings.TrimSpace(event.CycleID) == "" {
		return errors.New("cycle_id is required")
	}
	if err := validateAction(event.Action); err != nil {
		return err
	}
	if event.Outcome == "" {
		event.Outcome = models.OutcomeOK
	}
	if err := validateOutcome(event.Outcome); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp == 0 {
		event.Timestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO enforcement_events (
			id,
			cycle_id,
			mac,
			ip,
			action,
			outcome,
			detail,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.CycleID,
		event.MAC,
		nullString(event.IP),
		event.Action,
		event.Outcome,
		event.Detail,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert enforcement event %q: %w", event.Action, err)
	}

	if retention := s.retention(); retention > 0 {
		cutoff := time.Now().Add(-retention).UnixMilli()
		if _, err := s.PruneEvents(cutoff); err != nil {
			return fmt.Errorf("prune enforcement events: %w", err)
		}
	}

	return nil
}

// GetEvents returns recent enforcement events, newest first.
func (s *Store) GetEvents(filter EventFilter) ([]models.EnforcementEvent, error) {
	if filter.Action != "" {
		if err := validateAction(filter.Action); err != nil {
			return nil, err
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := strings.Builder{}
	query.WriteString(`SELECT
		id,
		cycle_id,
		mac,
		ip,
		action,
		outcome,
		detail,
		timestamp
	FROM enforcement_events`)

	where := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if filter.MAC != "" {
		where = append(where, "mac = ?")
		args = append(args, strings.ToUpper(filter.MAC))
	}
	if filter.CycleID != "" {
		where = append(where, "cycle_id = ?")
		args = append(args, filter.CycleID)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.FromTimestamp != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.FromTimestamp)
	}

	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY timestamp DESC, id LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get enforcement events: %w", err)
	}
	defer rows.Close()

	events := make([]models.EnforcementEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enforcement event row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enforcement event rows: %w", err)
	}

	return events, nil
}

// GetEvent returns one event by ID.
func (s *Store) GetEvent(id string) (models.EnforcementEvent, error) {
	row := s.db.QueryRow(`SELECT id, cycle_id, mac, ip, action, outcome, detail, timestamp
		FROM enforcement_events WHERE id = ?`, id)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.EnforcementEvent{}, ErrNotFound
		}
		return models.EnforcementEvent{}, fmt.Errorf("get enforcement event %q: %w", id, err)
	}
	return event, nil
}

// PruneEvents removes enforcement events older than cutoffTimestamp.
func (s *Store) PruneEvents(cutoffTimestamp int64) (int64, error) {
	if cutoffTimestamp <= 0 {
		return 0, errors.New("cutoff timestamp must be > 0")
	}

	res, err := s.db.Exec(`DELETE FROM enforcement_events WHERE timestamp < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune enforcement events: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for enforcement event prune: %w", err)
	}

	return rowsAffected, nil
}

func scanEvent(row scanner) (models.EnforcementEvent, error) {
	var (
		event models.EnforcementEvent
		ip    sql.NullString
	)
	if err := row.Scan(
		&event.ID,
		&event.CycleID,
		&event.MAC,
		&ip,
		&event.Action,
		&event.Outcome,
		&event.Detail,
		&event.Timestamp,
	); err != nil {
		return models.EnforcementEvent{}, err
	}
	event.IP = ip.String
	return event, nil
}
