package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
	DefaultRetention = 30
)

// SQLSink appends records to db_logs. It talks to the pool directly so that
// writing a record is never itself recorded.
type SQLSink struct {
	db *sql.DB
}

func NewSQLSink(db *sql.DB) *SQLSink { return &SQLSink{db: db} }

func (s *SQLSink) WriteRecord(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		insert into db_logs(id, kind, method, statement, params, elapsed_ms, error, user_id, origin, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, rec.ID, string(rec.Kind), string(rec.Method), rec.Statement, rec.Params, rec.ElapsedMS,
		nullIfEmpty(rec.Error), nullIfEmpty(rec.UserID), rec.Origin, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// Entry is a record as shown to administrators.
type Entry struct {
	Record
	Username string `json:"username,omitempty"`
}

// PurgeOlderThan deletes records created more than days ago and reports how many
// were removed. The purge is itself recorded.
func (d *DB) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("%w: older_than_days must not be negative", ErrInvalidInput)
	}
	cutoff := d.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	res, err := d.Exec(ctx, `delete from db_logs where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClampPage normalises a list window: limit defaults to DefaultListLimit and is
// capped at MaxListLimit.
func ClampPage(limit, offset int) (int, int, error) {
	if limit < 0 || offset < 0 {
		return 0, 0, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidInput)
	}
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, offset, nil
}

// List returns records newest first, joined with the acting username.
func (d *DB) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	limit, offset, err := ClampPage(limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, limit)
	err = d.All(ctx, func(rows *sql.Rows) error {
		var (
			e        Entry
			kind     string
			method   string
			errText  sql.NullString
			userID   sql.NullString
			username sql.NullString
		)
		if err := rows.Scan(&e.ID, &kind, &method, &e.Statement, &e.Params, &e.ElapsedMS,
			&errText, &userID, &username, &e.Origin, &e.CreatedAt); err != nil {
			return err
		}
		e.Kind = Kind(kind)
		e.Method = Method(method)
		e.Error = errText.String
		e.UserID = userID.String
		e.Username = username.String
		out = append(out, e)
		return nil
	}, `
		select l.id, l.kind, l.method, l.statement, l.params, l.elapsed_ms,
		       l.error, l.user_id, u.username, l.origin, l.created_at
		from db_logs l
		left join users u on u.id = l.user_id
		order by l.created_at desc, l.id desc
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of stored records.
func (d *DB) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := d.Get(ctx, []any{&n}, `select count(*) from db_logs`); err != nil {
		return 0, err
	}
	return n, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
