package audit

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"shoplist.app/internal/ids"
	"shoplist.app/internal/obs"
)

const (
	MaxStatementLen = 1000
	MaxParamsLen    = 500
	MaxErrorLen     = 500

	DefaultStatementTimeout = 5 * time.Second
)

var ErrInvalidInput = errors.New("audit: invalid input")

type Kind string

const (
	KindRead  Kind = "read"
	KindWrite Kind = "write"
)

type Method string

const (
	MethodExec Method = "exec"
	MethodGet  Method = "get"
	MethodAll  Method = "all"
)

// Record is one row of the persistence audit trail.
type Record struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Method    Method    `json:"method"`
	Statement string    `json:"statement"`
	Params    string    `json:"params"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Error     string    `json:"error,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// Failed reports whether the audited call returned an error.
func (r Record) Failed() bool { return r.Error != "" }

// Sink persists audit records.
type Sink interface {
	WriteRecord(ctx context.Context, rec Record) error
}

// WriteFailure describes a record the sink could not persist. It never replaces
// the result of the audited call.
type WriteFailure struct {
	Record Record
	Err    error
}

type FailureHandler func(WriteFailure)

// LogFailure is the default FailureHandler.
func LogFailure(f WriteFailure) {
	obs.AuditWriteFailures.Inc()
	obs.Error("audit_write_failed", map[string]any{
		"record_id": f.Record.ID,
		"kind":      string(f.Record.Kind),
		"method":    string(f.Record.Method),
		"origin":    f.Record.Origin,
		"error":     f.Err.Error(),
	})
}

// DB wraps a *sql.DB so that every statement yields exactly one audit record,
// whatever its outcome.
type DB struct {
	db        *sql.DB
	sink      Sink
	onFailure FailureHandler
	timeout   time.Duration
	now       func() time.Time
}

type Option func(*DB)

// WithSink overrides the record destination. The default writes into db_logs
// through the wrapped connection pool.
func WithSink(s Sink) Option {
	return func(d *DB) {
		if s != nil {
			d.sink = s
		}
	}
}

func WithFailureHandler(h FailureHandler) Option {
	return func(d *DB) {
		if h != nil {
			d.onFailure = h
		}
	}
}

// WithStatementTimeout bounds each statement and each sink write. Zero disables.
func WithStatementTimeout(timeout time.Duration) Option {
	return func(d *DB) {
		if timeout >= 0 {
			d.timeout = timeout
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *DB) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDB wraps db.
func NewDB(db *sql.DB, opts ...Option) *DB {
	d := &DB{
		db:        db,
		onFailure: LogFailure,
		timeout:   DefaultStatementTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sink == nil {
		d.sink = NewSQLSink(db)
	}
	return d
}

// Ping checks connectivity. Health probes are not audited.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *DB) Close() error { return d.db.Close() }

// Exec runs a statement that returns no rows.
func (d *DB) Exec(ctx context.Context, statement string, args ...any) (res sql.Result, err error) {
	start := d.now()
	defer func() { d.record(ctx, MethodExec, statement, args, start, err) }()

	qctx, cancel := d.statementContext(ctx)
	defer cancel()
	return d.db.ExecContext(qctx, statement, args...)
}

// Get scans the first row into dest. A missing row is returned as sql.ErrNoRows
// but recorded as a successful read.
func (d *DB) Get(ctx context.Context, dest []any, statement string, args ...any) (err error) {
	start := d.now()
	defer func() {
		recErr := err
		if errors.Is(err, sql.ErrNoRows) {
			recErr = nil
		}
		d.record(ctx, MethodGet, statement, args, start, recErr)
	}()

	qctx, cancel := d.statementContext(ctx)
	defer cancel()
	return d.db.QueryRowContext(qctx, statement, args...).Scan(dest...)
}

// All calls scan once per result row.
func (d *DB) All(ctx context.Context, scan func(*sql.Rows) error, statement string, args ...any) (err error) {
	start := d.now()
	defer func() { d.record(ctx, MethodAll, statement, args, start, err) }()

	qctx, cancel := d.statementContext(ctx)
	defer cancel()
	rows, err := d.db.QueryContext(qctx, statement, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (d *DB) statementContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.timeout)
}

func (d *DB) record(ctx context.Context, method Method, statement string, args []any, start time.Time, callErr error) {
	now := d.now()
	elapsed := now.Sub(start)
	rec := Record{
		ID:        ids.NewAt(now),
		Kind:      kindOf(statement),
		Method:    method,
		Statement: truncate(strings.TrimSpace(statement), MaxStatementLen),
		Params:    truncate(encodeParams(args), MaxParamsLen),
		ElapsedMS: elapsed.Milliseconds(),
		Origin:    OriginFromContext(ctx),
		CreatedAt: now.UTC(),
	}
	if actor, ok := ActorFromContext(ctx); ok {
		rec.UserID = actor
	}
	outcome := "ok"
	if callErr != nil {
		rec.Error = truncate(callErr.Error(), MaxErrorLen)
		outcome = "error"
	}
	obs.AuditStatementDuration.WithLabelValues(string(rec.Kind)).Observe(elapsed.Seconds())
	obs.AuditRecordsTotal.WithLabelValues(string(rec.Kind), outcome).Inc()

	// the record must land even when the client has gone away
	wctx := context.WithoutCancel(ctx)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(wctx, d.timeout)
		defer cancel()
	}
	if err := d.sink.WriteRecord(wctx, rec); err != nil {
		d.onFailure(WriteFailure{Record: rec, Err: err})
	}
}

func kindOf(statement string) Kind {
	s := strings.ToLower(strings.TrimSpace(statement))
	if strings.HasPrefix(s, "select") || strings.HasPrefix(s, "with") {
		return KindRead
	}
	return KindWrite
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	const ellipsis = "..."
	r := []rune(s)
	return string(r[:max-len(ellipsis)]) + ellipsis
}

func encodeParams(args []any) string {
	if len(args) == 0 {
		return "[]"
	}
	out := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case Redacted:
			out[i] = redactedMarker
		case []byte:
			out[i] = fmt.Sprintf("<%d bytes>", len(v))
		case time.Time:
			out[i] = v.UTC().Format(time.RFC3339Nano)
		default:
			out[i] = v
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprint(args...)
	}
	return string(data)
}

const redactedMarker = "[redacted]"

// Redacted marks a statement argument whose value must not appear in the audit
// trail, such as a password digest. The driver still receives the value.
type Redacted struct {
	v string
}

func Redact(v string) Redacted { return Redacted{v: v} }

// Value implements driver.Valuer.
func (r Redacted) Value() (driver.Value, error) { return r.v, nil }
