package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shoplist.app/internal/audit"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store implements the credential and broadcast stores on Postgres. Every
// statement goes through the audit wrapper.
type Store struct {
	db *audit.DB
}

// Open connects to dsn and wraps the pool for auditing.
func Open(dsn string, maxOpenConns int, opts ...audit.Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns / 2)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(audit.NewDB(db, opts...)), nil
}

// New builds a Store over an existing audited handle.
func New(db *audit.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// Audit exposes the audited handle for log reads and retention.
func (s *Store) Audit() *audit.DB { return s.db }

// Ping reports database reachability for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// Stats are the aggregate counts shown to administrators.
type Stats struct {
	TotalUsers         int64 `json:"total_users"`
	AdminUsers         int64 `json:"admin_users"`
	TotalBroadcasts    int64 `json:"total_broadcasts"`
	ActiveBroadcasts   int64 `json:"active_broadcasts"`
	TotalConfirmations int64 `json:"total_confirmations"`
	AuditRecords       int64 `json:"audit_records"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.Get(ctx, []any{
		&st.TotalUsers, &st.AdminUsers, &st.TotalBroadcasts,
		&st.ActiveBroadcasts, &st.TotalConfirmations, &st.AuditRecords,
	}, `
		select
			(select count(*) from users),
			(select count(*) from users where is_admin),
			(select count(*) from broadcasts),
			(select count(*) from broadcasts where active),
			(select count(*) from broadcast_confirmations),
			(select count(*) from db_logs)
	`)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isPgCode(err error, code string) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == code
}
