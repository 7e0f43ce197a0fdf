package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"sched-systemv1/internal/model"
	"sched-systemv1/internal/schedule"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite journal writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/firings.db"
}

// Writer is a single-goroutine SQLite journal writer with transaction batching.
// It implements model.FiringWriter.
type Writer struct {
	db *sql.DB

	// OnCommit, when set, observes each successful batch commit (for
	// metrics).
	OnCommit func(rows int, d time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Create table if not exists
	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS firings (
			event        TEXT    NOT NULL,
			scheduled_at INTEGER NOT NULL,
			fired_at     INTEGER NOT NULL,
			mode         TEXT    NOT NULL,
			duration_us  INTEGER NOT NULL,
			error        TEXT    NOT NULL DEFAULT '',
			seq          INTEGER NOT NULL,
			PRIMARY KEY (event, scheduled_at, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_firings_fired_at ON firings (fired_at);

		CREATE TABLE IF NOT EXISTS schedule_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// Run reads firings from firingCh and inserts them in batched transactions.
// Flushes every batchSize firings OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or firingCh is closed.
func (w *Writer) Run(ctx context.Context, firingCh <-chan model.Firing) {
	batch := make([]model.Firing, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else {
			log.Printf("[sqlite] committed %d firings in %v", len(batch), time.Since(start))
			if w.OnCommit != nil {
				w.OnCommit(len(batch), time.Since(start))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case firing, ok := <-firingCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, firing)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of firings in a single transaction.
func (w *Writer) insertBatch(firings []model.Firing) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO firings (event, scheduled_at, fired_at, mode, duration_us, error, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, f := range firings {
		_, err := stmt.Exec(f.Event, f.ScheduledAt.UnixMicro(), f.FiredAt.UnixMicro(),
			f.Mode, f.DurationUs, f.Error, f.Seq)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SaveSnapshot persists a pending-events snapshot so the daemon's schedule
// state survives restarts. Keeps the last 10 snapshots.
func (w *Writer) SaveSnapshot(snap *schedule.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = w.db.Exec(`INSERT INTO schedule_snapshots (data) VALUES (?)`, string(data))
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	// Prune old snapshots — keep last 10
	_, err = w.db.Exec(`DELETE FROM schedule_snapshots WHERE id NOT IN (SELECT id FROM schedule_snapshots ORDER BY created_at DESC LIMIT 10)`)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}

	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
