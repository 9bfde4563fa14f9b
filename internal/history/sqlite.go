package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLiteRepository stores field history and the command log in SQLite.
//
// Thread Safety:
//   - Safe for concurrent use; database/sql serialises access.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository returns a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// RecordFieldChanges inserts a batch of field changes in one transaction.
// Changes without a source are recorded as SourcePoll.
func (r *SQLiteRepository) RecordFieldChanges(ctx context.Context, changes []FieldChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO state_history (field, value, kind, source, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	ts := formatTime(r.now())
	for _, c := range changes {
		if c.Field == "" {
			return ErrFieldRequired
		}
		source := c.Source
		if source == "" {
			source = SourcePoll
		}
		if _, err := stmt.ExecContext(ctx, c.Field, c.Value, c.Kind, source, ts); err != nil {
			return fmt.Errorf("inserting change for %s: %w", c.Field, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing field changes: %w", err)
	}
	return nil
}

// GetFieldHistory returns the most recent changes of one field, newest first.
// The limit defaults to 50 and is capped at 500.
func (r *SQLiteRepository) GetFieldHistory(ctx context.Context, field string, limit int) ([]FieldChange, error) {
	if field == "" {
		return nil, ErrFieldRequired
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, field, value, kind, source, created_at
		 FROM state_history
		 WHERE field = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		field, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	changes := make([]FieldChange, 0, limit)
	for rows.Next() {
		var (
			c         FieldChange
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.Field, &c.Value, &c.Kind, &c.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return changes, nil
}

// RecordCommand appends rec to the command log. A missing ID is filled
// with a new UUID and a zero CreatedAt with the current time; the stored
// record is returned.
func (r *SQLiteRepository) RecordCommand(ctx context.Context, rec CommandRecord) (CommandRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, device, native, desired, outcome, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Device, rec.Native, rec.Desired, rec.Outcome, rec.Error, formatTime(rec.CreatedAt),
	)
	if err != nil {
		return CommandRecord{}, fmt.Errorf("inserting command record: %w", err)
	}
	return rec, nil
}

// ListCommands returns the most recent command records, newest first.
func (r *SQLiteRepository) ListCommands(ctx context.Context, limit int) ([]CommandRecord, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device, native, desired, outcome, error, created_at
		 FROM command_log
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	records := make([]CommandRecord, 0, limit)
	for rows.Next() {
		var (
			rec       CommandRecord
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Device, &rec.Native, &rec.Desired, &rec.Outcome, &rec.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command log: %w", err)
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}
	return records, nil
}

// Prune deletes field history and command log rows older than olderThan
// and returns the number of rows removed.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	cutoff := formatTime(r.now().Add(-olderThan))

	var total int64
	for _, table := range []string{"state_history", "command_log"} {
		result, err := r.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE created_at < ?", cutoff) // #nosec G202 -- fixed table names
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("checking rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}
