package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cycle_events (
    id          BIGSERIAL PRIMARY KEY,
    run_id      TEXT NOT NULL,
    cycle       CHAR(10) NOT NULL,
    stage       TEXT,
    event       TEXT NOT NULL,
    detail      TEXT,
    at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycle_events_cycle ON cycle_events(cycle, at DESC);
CREATE INDEX IF NOT EXISTS idx_cycle_events_run ON cycle_events(run_id);

INSERT INTO schema_version (version) VALUES (1) ON CONFLICT DO NOTHING;
`

// Postgres stores events in PostgreSQL.
type Postgres struct {
	db    DB
	close func()
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	p := &Postgres{db: pool, close: pool.Close}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgres wraps an existing connection.
func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate applies the schema. It is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaV1); err != nil {
		return fmt.Errorf("apply journal schema v1: %w", err)
	}
	return nil
}

// Record inserts e.
func (p *Postgres) Record(ctx context.Context, e Event) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO cycle_events (run_id, cycle, stage, event, detail, at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.RunID, e.Cycle, nullable(e.Stage), e.Event, nullable(e.Detail), e.At,
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", e.Event, err)
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty cycle means
// every cycle.
func (p *Postgres) Recent(ctx context.Context, cycle string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.Query(ctx,
		`SELECT run_id, cycle, stage, event, detail, at
		 FROM cycle_events WHERE ($1 = '' OR cycle = $1) ORDER BY at DESC, id DESC LIMIT $2`,
		cycle, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query cycle events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var stage, detail *string
		if err := rows.Scan(&e.RunID, &e.Cycle, &stage, &e.Event, &detail, &e.At); err != nil {
			return nil, fmt.Errorf("scan cycle event: %w", err)
		}
		if stage != nil {
			e.Stage = *stage
		}
		if detail != nil {
			e.Detail = *detail
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close releases the pool.
func (p *Postgres) Close() {
	if p.close != nil {
		p.close()
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
