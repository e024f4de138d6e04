package audit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the slice of pgx the repository needs; satisfied by *pgxpool.Pool
// and by pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository is the append-only trail of mutation attempts. AccessDenied is
// kept distinct from NotFound precisely so denials can land here.
type Repository struct {
	db DB
}

type Entry struct {
	ActorID       string
	TenantID      string
	Action        string
	AppointmentID string
	Outcome       string
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the audit table on startup. The audit trail is the
// only relational table this service owns, so there is no migration tooling.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS appointment_audit (
			id BIGSERIAL PRIMARY KEY,
			actor_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			action TEXT NOT NULL,
			appointment_id TEXT,
			outcome TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (r *Repository) Record(ctx context.Context, e Entry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointment_audit (actor_id, tenant_id, action, appointment_id, outcome)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`, e.ActorID, e.TenantID, e.Action, e.AppointmentID, e.Outcome)
	return err
}

// OpenPool connects and pings so a bad DSN fails at startup.
func OpenPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 5
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func ReadyCheck(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		if pool == nil {
			return errors.New("audit db not configured")
		}
		return pool.Ping(ctx)
	}
}
