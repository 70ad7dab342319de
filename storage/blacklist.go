package storage

import (
	"database/sql"
	"fmt"
	"time"

	"lanwarden/models"
)

// Load returns every blacklist row keyed by MAC.
func (s *Store) Load() (map[string]models.BlacklistEntry, error) {
	rows, err := s.db.Query(`SELECT mac, reason, ip, created_at FROM blacklist`)
	if err != nil {
		return nil, fmt.Errorf("load blacklist: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]models.BlacklistEntry)
	for rows.Next() {
		var (
			entry     models.BlacklistEntry
			ip        sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&entry.MAC, &entry.Reason, &ip, &createdAt); err != nil {
			return nil, fmt.Errorf("scan blacklist row: %w", err)
		}
		entry.IP = ip.String
		entry.Timestamp = time.Unix(0, createdAt)
		entries[entry.MAC] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blacklist rows: %w", err)
	}
	return entries, nil
}

// Save replaces the blacklist table with entries in one transaction.
func (s *Store) Save(entries map[string]models.BlacklistEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin blacklist transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`DELETE FROM blacklist`); err != nil {
		return fmt.Errorf("clear blacklist: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO blacklist (mac, reason, ip, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare blacklist insert: %w", err)
	}
	defer stmt.Close()

	for mac, entry := range entries {
		if mac == "" {
			continue
		}
		if _, err := stmt.Exec(mac, entry.Reason, nullString(entry.IP), entry.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("insert blacklist %q: %w", mac, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit blacklist transaction: %w", err)
	}
	return nil
}
