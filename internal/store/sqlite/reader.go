package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"sched-systemv1/internal/model"
	"sched-systemv1/internal/schedule"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to the firing journal for history
// queries and snapshot restore. It implements model.FiringReader.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

const firingColumns = `event, scheduled_at, fired_at, mode, duration_us, error, seq`

func scanFiring(rows *sql.Rows) (model.Firing, error) {
	var f model.Firing
	var schedUs, firedUs int64
	err := rows.Scan(&f.Event, &schedUs, &firedUs, &f.Mode, &f.DurationUs, &f.Error, &f.Seq)
	if err != nil {
		return model.Firing{}, err
	}
	f.ScheduledAt = time.UnixMicro(schedUs).UTC()
	f.FiredAt = time.UnixMicro(firedUs).UTC()
	return f, nil
}

// ReadRecent returns the most recent firings for an event, newest first.
func (r *Reader) ReadRecent(event string, limit int) ([]model.Firing, error) {
	rows, err := r.db.Query(`
		SELECT `+firingColumns+`
		FROM firings
		WHERE event = ?
		ORDER BY fired_at DESC, seq DESC
		LIMIT ?
	`, event, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query firings: %w", err)
	}
	defer rows.Close()

	var firings []model.Firing
	for rows.Next() {
		f, err := scanFiring(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan firing: %w", err)
		}
		firings = append(firings, f)
	}
	return firings, rows.Err()
}

// ReadSince returns all firings fired at or after since, in fired-at order.
func (r *Reader) ReadSince(since time.Time) ([]model.Firing, error) {
	rows, err := r.db.Query(`
		SELECT `+firingColumns+`
		FROM firings
		WHERE fired_at >= ?
		ORDER BY fired_at ASC, seq ASC
	`, since.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("sqlite query firings since: %w", err)
	}
	defer rows.Close()

	var firings []model.Firing
	for rows.Next() {
		f, err := scanFiring(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan firing: %w", err)
		}
		firings = append(firings, f)
	}
	return firings, rows.Err()
}

// LastFired returns the most recent firing for an event, or nil, nil if the
// event has never fired.
func (r *Reader) LastFired(event string) (*model.Firing, error) {
	fs, err := r.ReadRecent(event, 1)
	if err != nil {
		return nil, err
	}
	if len(fs) == 0 {
		return nil, nil
	}
	return &fs[0], nil
}

// ReadLatestSnapshot loads the most recent schedule snapshot from SQLite.
// Returns nil, nil when none has been saved.
func (r *Reader) ReadLatestSnapshot() (*schedule.Snapshot, error) {
	var data string
	err := r.db.QueryRow(`
		SELECT data FROM schedule_snapshots
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // no snapshot
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}

	var snap schedule.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
