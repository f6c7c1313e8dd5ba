// Package recorder persists sampled object properties to SQLite. Recorders
// are observer objects: they read their target at commit and never lock.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

const (
	retryBase = 20 * time.Millisecond
	retryMax  = 5
)

// Sample is one recorded property value.
type Sample struct {
	Instant  int64
	Object   string
	Property string
	Value    float64
}

// Store owns the SQLite database holding runs and samples.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and initializes the schema.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id      TEXT PRIMARY KEY,
		started TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS samples (
		run_id   TEXT NOT NULL REFERENCES runs(id),
		instant  INTEGER NOT NULL,
		object   TEXT NOT NULL,
		property TEXT NOT NULL,
		value    REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_samples_object ON samples(run_id, object, property, instant);
	`
	_, err := s.db.Exec(schema)
	return err
}

// BeginRun records a new run.
func (s *Store) BeginRun(ctx context.Context, runID string) error {
	return withRetry(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO runs (id, started) VALUES (?, ?)`,
			runID, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

// Write stores a batch of samples in one transaction.
func (s *Store) Write(ctx context.Context, runID string, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	return withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples (run_id, instant, object, property, value) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, smp := range samples {
			if _, err := stmt.ExecContext(ctx, runID, smp.Instant, smp.Object, smp.Property, smp.Value); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// Samples returns one property series of an object ordered by instant.
func (s *Store) Samples(ctx context.Context, runID, object, property string) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instant, object, property, value FROM samples
		WHERE run_id = ? AND object = ? AND property = ?
		ORDER BY instant`, runID, object, property)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()
	var out []Sample
	for rows.Next() {
		var smp Sample
		if err := rows.Scan(&smp.Instant, &smp.Object, &smp.Property, &smp.Value); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

// Runs returns the ids of all recorded runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY started, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// withRetry retries fn with exponential backoff while it fails with a
// transient SQLite error.
func withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	expRetry := retry.NewExponential(retryBase)
	return retry.Do(ctx, retry.WithMaxRetries(retryMax, expRetry), func(ctx context.Context) error {
		err := fn(ctx)
		if isTransientSQLiteErr(err) {
			logrus.Debugf("transient sqlite error, retrying: %v", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// isTransientSQLiteErr reports whether err is a lock or WAL contention error
// that may succeed when retried.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
