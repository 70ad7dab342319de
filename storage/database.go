// Package storage keeps the blacklist and the enforcement event log in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDBFileName is the SQLite filename under the data directory.
	DefaultDBFileName = "lanwarden.db"
	// DefaultMaintenanceInterval spaces WAL truncation and event pruning.
	DefaultMaintenanceInterval = 6 * time.Hour
	// DefaultEventRetention is how long enforcement events are kept.
	DefaultEventRetention = 30 * 24 * time.Hour
)

type migration struct {
	name string
	stmt string
}

// schema is append-only; PRAGMA user_version counts applied entries.
var schema = []migration{
	{
		name: "blacklist table",
		stmt: `CREATE TABLE IF NOT EXISTS blacklist (
  mac        TEXT PRIMARY KEY,
  reason     TEXT NOT NULL,
  ip         TEXT,
  created_at INTEGER NOT NULL
)`,
	},
	{
		name: "enforcement events table",
		stmt: `CREATE TABLE IF NOT EXISTS enforcement_events (
  id        TEXT PRIMARY KEY,
  cycle_id  TEXT NOT NULL,
  mac       TEXT NOT NULL,
  ip        TEXT,
  action    TEXT NOT NULL CHECK(action IN ('block','unblock','notify','disconnect')),
  outcome   TEXT NOT NULL CHECK(outcome IN ('ok','failed','skipped')),
  detail    TEXT NOT NULL DEFAULT '',
  timestamp INTEGER NOT NULL
)`,
	},
	{
		name: "enforcement events time index",
		stmt: `CREATE INDEX IF NOT EXISTS idx_enforcement_events_time
ON enforcement_events (timestamp DESC, id)`,
	},
	{
		name: "enforcement events mac index",
		stmt: `CREATE INDEX IF NOT EXISTS idx_enforcement_events_mac
ON enforcement_events (mac, timestamp DESC, id)`,
	},
}

// Store owns the SQLite handle and a background maintenance goroutine.
type Store struct {
	db *sql.DB
	// eventRetention holds a time.Duration; the maintenance goroutine reads it.
	eventRetention atomic.Int64

	stopMaintenance context.CancelFunc
	maintenanceDone chan struct{}
	closeOnce       sync.Once
}

// Open creates dataDir if needed and opens lanwarden.db inside it.
func Open(dataDir string) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create storage directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DefaultDBFileName)
	store, err := OpenPath(dbPath)
	if err != nil {
		return nil, "", err
	}
	return store, dbPath, nil
}

// OpenPath opens the database at dbPath, switches it to WAL and brings the
// schema up to date.
func OpenPath(dbPath string) (*Store, error) {
	dsn := "file:" + filepath.ToSlash(dbPath) + "?_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &Store{db: db}
	s.eventRetention.Store(int64(DefaultEventRetention))
	for _, step := range []func() error{s.ping, s.useWAL, s.migrate, s.checkpointWAL} {
		if err := step(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	s.startMaintenance(DefaultMaintenanceInterval)
	return s, nil
}

// Close stops maintenance and closes the database. Safe to call twice.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		if s.stopMaintenance != nil {
			s.stopMaintenance()
			<-s.maintenanceDone
		}
		err = s.db.Close()
	})
	return err
}

// SchemaVersion returns the number of applied migrations.
func (s *Store) SchemaVersion() (int, error) {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) ping() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping sqlite database: %w", err)
	}
	return nil
}

func (s *Store) useWAL() error {
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("enable WAL mode: journal mode is %q", mode)
	}
	return nil
}

// migrate applies each pending migration in its own transaction so a
// failure leaves the earlier ones committed.
func (s *Store) migrate() error {
	version, err := s.SchemaVersion()
	if err != nil {
		return err
	}

	for i := version; i < len(schema); i++ {
		m := schema[i]
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %q: %w", m.name, err)
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %q: %w", m.name, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %q: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %q: %w", m.name, err)
		}
	}
	return nil
}

func (s *Store) checkpointWAL() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

func (s *Store) startMaintenance(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopMaintenance = cancel
	s.maintenanceDone = make(chan struct{})

	go func() {
		defer close(s.maintenanceDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.maintain()
			}
		}
	}()
}

func (s *Store) maintain() {
	if retention := s.retention(); retention > 0 {
		cutoff := time.Now().Add(-retention).UnixMilli()
		if n, err := s.PruneEvents(cutoff); err != nil {
			log.Printf("storage: %v", err)
		} else if n > 0 {
			log.Printf("storage: pruned %d enforcement events", n)
		}
	}
	if err := s.checkpointWAL(); err != nil {
		log.Printf("storage: %v", err)
	}
}
