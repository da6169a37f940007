// Package events keeps a queryable history of ledger notifications.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/budgetly/budgetly/pkg/models"
)

// Log writes and queries ledger events in a dedicated SQLite database.
type Log struct {
	db   *sql.DB
	cfg  models.EventConfig
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New opens the event database and creates the schema. A retention loop runs
// only when RetentionDays is positive.
func New(cfg models.EventConfig) (*Log, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open event db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate event db: %w", err)
	}

	l := &Log{
		db:   db,
		cfg:  cfg,
		done: make(chan struct{}),
	}
	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS ledger_events (
		id          TEXT PRIMARY KEY,
		seq         INTEGER NOT NULL,
		kind        TEXT NOT NULL,
		budget      TEXT,
		caller      TEXT,
		payload     TEXT NOT NULL,
		created_at  DATETIME NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_budget ON ledger_events(budget, seq)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_created ON ledger_events(created_at)`)
	return err
}

// Record appends events in order, assigning IDs to those without one.
func (l *Log) Record(ctx context.Context, evs ...models.Event) error {
	if l == nil || l.db == nil || len(evs) == 0 {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record events: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_events`).Scan(&seq); err != nil {
		return fmt.Errorf("record events: %w", err)
	}

	for _, ev := range evs {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.CreatedAt.IsZero() {
			ev.CreatedAt = time.Now().UTC()
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		seq++
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_events (id, seq, kind, budget, caller, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, seq, string(ev.Kind), ev.Budget, ev.Caller, string(payload), ev.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return tx.Commit()
}

// Query returns events matching opts, newest first.
func (l *Log) Query(ctx context.Context, opts models.EventQueryOpts) ([]models.Event, error) {
	q := `SELECT payload FROM ledger_events WHERE 1=1`
	var args []any

	if opts.Budget != "" {
		q += " AND budget = ?"
		args = append(args, opts.Budget)
	}
	if opts.Kind != "" {
		q += " AND kind = ?"
		args = append(args, string(opts.Kind))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}

	q += " ORDER BY seq DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Stats returns event counts grouped by kind and day.
func (l *Log) Stats(ctx context.Context) ([]models.EventStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT kind, date(created_at) AS day, count(*) AS cnt
		 FROM ledger_events GROUP BY kind, day ORDER BY day DESC, kind`)
	if err != nil {
		return nil, fmt.Errorf("event stats: %w", err)
	}
	defer rows.Close()

	var stats []models.EventStat
	for rows.Next() {
		var s models.EventStat
		var kind string
		var day sql.NullString
		if err := rows.Scan(&kind, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan event stat: %w", err)
		}
		s.Kind = models.EventKind(kind)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes events older than the retention period. It is a no-op when
// retention is disabled.
func (l *Log) Cleanup(ctx context.Context) (int64, error) {
	if l.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx, `DELETE FROM ledger_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("event cleanup: %w", err)
	}
	return res.RowsAffected()
}

// RunRetention prunes expired events hourly until ctx is done or the log is
// closed.
func (l *Log) RunRetention(ctx context.Context) error {
	if l.cfg.RetentionDays <= 0 {
		return nil
	}
	l.wg.Add(1)
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.done:
			return nil
		case <-ticker.C:
			_, _ = l.Cleanup(ctx)
		}
	}
}

// Close stops the retention loop and closes the database.
func (l *Log) Close() error {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
	return l.db.Close()
}
