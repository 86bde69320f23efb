package audit

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/DATA-DOG/go-sqlmock"
)

type recordingSink struct {
	mu      sync.Mutex
	records []Record
	ctxErrs []error
	err     error
}

func (s *recordingSink) WriteRecord(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return s.err
}

func (s *recordingSink) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func newMockDB(t *testing.T, opts ...Option) (*DB, sqlmock.Sqlmock, *recordingSink) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	sink := &recordingSink{}
	opts = append([]Option{WithSink(sink)}, opts...)
	return NewDB(db, opts...), mock, sink
}

func TestExecWritesOneRecordOnSuccess(t *testing.T) {
	adb, mock, sink := newMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("update users set is_admin")).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := WithOrigin(WithActor(context.Background(), "admin-7"), "POST /admin/toggle-admin")
	res, err := adb.Exec(ctx, "update users set is_admin = not is_admin where id = $1", "u-1")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("unexpected rows affected: %d", n)
	}

	recs := sink.all()
	if len(recs) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Kind != KindWrite || rec.Method != MethodExec {
		t.Fatalf("unexpected classification: %s/%s", rec.Kind, rec.Method)
	}
	if rec.Failed() {
		t.Fatalf("expected success record, got error %q", rec.Error)
	}
	if rec.UserID != "admin-7" || rec.Origin != "POST /admin/toggle-admin" {
		t.Fatalf("actor or origin missing: %+v", rec)
	}
	if rec.Params != `["u-1"]` {
		t.Fatalf("unexpected params: %s", rec.Params)
	}
	if rec.ID == "" || rec.CreatedAt.IsZero() {
		t.Fatalf("record id or timestamp missing: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExecWritesOneRecordOnFailure(t *testing.T) {
	adb, mock, sink := newMockDB(t)
	boom := errors.New("unique violation")
	mock.ExpectExec("insert into users").WillReturnError(boom)

	_, err := adb.Exec(context.Background(), "insert into users(id) values ($1)", "u-1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	recs := sink.all()
	if len(recs) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(recs))
	}
	if recs[0].Error != "unique violation" {
		t.Fatalf("expected error text recorded, got %q", recs[0].Error)
	}
	if recs[0].UserID != "" {
		t.Fatalf("expected no actor, got %q", recs[0].UserID)
	}
}

func TestGetNoRowsIsNotAFailure(t *testing.T) {
	adb, mock, sink := newMockDB(t)
	mock.ExpectQuery("select username from users").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"username"}))

	var name string
	err := adb.Get(context.Background(), []any{&name}, "select username from users where id = $1", "missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
	recs := sink.all()
	if len(recs) != 1 || recs[0].Failed() || recs[0].Kind != KindRead || recs[0].Method != MethodGet {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestAllScansEveryRow(t *testing.T) {
	adb, mock, sink := newMockDB(t)
	mock.ExpectQuery("select id from broadcasts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)).AddRow(int64(2)).AddRow(int64(1)))

	var got []int64
	err := adb.All(context.Background(), func(rows *sql.Rows) error {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		got = append(got, id)
		return nil
	}, "select id from broadcasts order by id desc")
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != 3 || got[0] != 3 {
		t.Fatalf("unexpected rows: %v", got)
	}
	if recs := sink.all(); len(recs) != 1 || recs[0].Method != MethodAll {
		t.Fatalf("expected one all-record, got %+v", recs)
	}
}

func TestAllRecordsScanFailure(t *testing.T) {
	adb, mock, sink := newMockDB(t)
	mock.ExpectQuery("select id from broadcasts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	scanErr := errors.New("scan exploded")
	err := adb.All(context.Background(), func(*sql.Rows) error { return scanErr }, "select id from broadcasts")
	if !errors.Is(err, scanErr) {
		t.Fatalf("expected scan error, got %v", err)
	}
	if recs := sink.all(); len(recs) != 1 || recs[0].Error != "scan exploded" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestRecordFieldsAreCapped(t *testing.T) {
	adb, mock, sink := newMockDB(t)
	longStatement := "select " + strings.Repeat("x", 2000)
	longParam := strings.Repeat("p", 800)
	longErr := errors.New(strings.Repeat("e", 2000))
	mock.ExpectExec("select").WillReturnError(longErr)

	_, err := adb.Exec(context.Background(), longStatement, longParam)
	if !errors.Is(err, longErr) {
		t.Fatalf("expected original error, got %v", err)
	}
	rec := sink.all()[0]
	if n := utf8.RuneCountInString(rec.Statement); n > MaxStatementLen {
		t.Fatalf("statement not capped: %d", n)
	}
	if n := utf8.RuneCountInString(rec.Params); n > MaxParamsLen {
		t.Fatalf("params not capped: %d", n)
	}
	if n := utf8.RuneCountInString(rec.Error); n > MaxErrorLen {
		t.Fatalf("error not capped: %d", n)
	}
	if !strings.HasPrefix(rec.Statement, "select xxx") {
		t.Fatalf("statement prefix lost: %q", rec.Statement[:20])
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	s := strings.Repeat("ж", 600)
	got := truncate(s, MaxParamsLen)
	if n := utf8.RuneCountInString(got); n != MaxParamsLen {
		t.Fatalf("expected %d runes, got %d", MaxParamsLen, n)
	}
	if !utf8.ValidString(got) {
		t.Fatal("truncation split a rune")
	}
	if truncate("short", 10) != "short" {
		t.Fatal("short strings must be untouched")
	}
}

func TestRedactedParamsAreMasked(t *testing.T) {
	adb, mock, sink := newMockDB(t)
	mock.ExpectExec("update users set password_hash").
		WithArgs("$2a$10$secretdigest", "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if _, err := adb.Exec(context.Background(), "update users set password_hash = $1 where id = $2", Redact("$2a$10$secretdigest"), "u-1"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	params := sink.all()[0].Params
	if strings.Contains(params, "secretdigest") {
		t.Fatalf("digest leaked into audit params: %s", params)
	}
	if params != `["[redacted]","u-1"]` {
		t.Fatalf("unexpected params: %s", params)
	}
}

func TestSinkFailureDoesNotMaskResult(t *testing.T) {
	var failures []WriteFailure
	adb, mock, sink := newMockDB(t, WithFailureHandler(func(f WriteFailure) { failures = append(failures, f) }))
	sink.err = errors.New("disk full")
	mock.ExpectExec("delete from broadcasts").WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := adb.Exec(context.Background(), "delete from broadcasts where id = $1", int64(9))
	if err != nil {
		t.Fatalf("sink failure leaked into caller: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("unexpected rows affected: %d", n)
	}
	if len(failures) != 1 || failures[0].Err.Error() != "disk full" {
		t.Fatalf("expected one reported write failure, got %+v", failures)
	}
	if failures[0].Record.Statement == "" {
		t.Fatal("failure should carry the lost record")
	}
}

func TestSinkWriteSurvivesCancelledRequest(t *testing.T) {
	adb, _, sink := newMockDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := adb.Exec(ctx, "delete from broadcasts where id = $1", int64(1))
	if err == nil {
		t.Fatal("expected the statement to fail")
	}
	if len(sink.ctxErrs) != 1 || sink.ctxErrs[0] != nil {
		t.Fatalf("sink saw a cancelled context: %v", sink.ctxErrs)
	}
}

func TestDefaultSinkWritesIntoDBLogs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	adb := NewDB(db)

	mock.ExpectExec("delete from broadcasts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into db_logs").
		WithArgs(sqlmock.AnyArg(), "write", "exec", "delete from broadcasts where id = $1", `[5]`,
			sqlmock.AnyArg(), nil, "u-9", "DELETE /admin/broadcasts/5", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ctx := WithOrigin(WithActor(context.Background(), "u-9"), "DELETE /admin/broadcasts/5")
	if _, err := adb.Exec(ctx, "delete from broadcasts where id = $1", 5); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

type timeWithin struct {
	want  time.Time
	slack time.Duration
}

func (m timeWithin) Match(v driver.Value) bool {
	got, ok := v.(time.Time)
	if !ok {
		return false
	}
	d := got.Sub(m.want)
	return d <= m.slack && d >= -m.slack
}

func TestPurgeOlderThan(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	adb, mock, sink := newMockDB(t, WithClock(func() time.Time { return now }))

	// one record is 31 days old, one is 2 days old; only the first is older than the cutoff
	mock.ExpectExec(regexp.QuoteMeta("delete from db_logs where created_at < $1")).
		WithArgs(timeWithin{want: now.Add(-30 * 24 * time.Hour), slack: time.Second}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	deleted, err := adb.PurgeOlderThan(context.Background(), 30)
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if recs := sink.all(); len(recs) != 1 || recs[0].Kind != KindWrite {
		t.Fatalf("purge must itself be recorded: %+v", recs)
	}

	mock.ExpectExec("delete from db_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	deleted, err = adb.PurgeOlderThan(context.Background(), 30)
	if err != nil || deleted != 0 {
		t.Fatalf("expected idempotent purge, got %d, %v", deleted, err)
	}

	if _, err := adb.PurgeOlderThan(context.Background(), -1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListAndCount(t *testing.T) {
	adb, mock, _ := newMockDB(t)
	newer := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)
	mock.ExpectQuery("from db_logs l").
		WithArgs(DefaultListLimit, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "kind", "method", "statement", "params", "elapsed_ms",
			"error", "user_id", "username", "origin", "created_at",
		}).
			AddRow("01B", "write", "exec", "delete from broadcasts where id = $1", "[1]", int64(2), nil, "u-1", "alice", "DELETE /admin/broadcasts/1", newer).
			AddRow("01A", "read", "get", "select 1", "[]", int64(1), "boom", nil, nil, "internal", older))
	mock.ExpectQuery(regexp.QuoteMeta("select count(*) from db_logs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	entries, err := adb.List(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Username != "alice" || entries[0].UserID != "u-1" || entries[0].Failed() {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].UserID != "" || entries[1].Error != "boom" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
	total, err := adb.Count(context.Background())
	if err != nil || total != 2 {
		t.Fatalf("Count: %d, %v", total, err)
	}
}

func TestClampPage(t *testing.T) {
	cases := []struct {
		limit, offset    int
		wantLim, wantOff int
		wantErr          bool
	}{
		{0, 0, DefaultListLimit, 0, false},
		{5, 10, 5, 10, false},
		{5000, 0, MaxListLimit, 0, false},
		{-1, 0, 0, 0, true},
		{1, -3, 0, 0, true},
	}
	for _, tc := range cases {
		lim, off, err := ClampPage(tc.limit, tc.offset)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ClampPage(%d,%d) err=%v", tc.limit, tc.offset, err)
		}
		if !tc.wantErr && (lim != tc.wantLim || off != tc.wantOff) {
			t.Fatalf("ClampPage(%d,%d) = %d,%d", tc.limit, tc.offset, lim, off)
		}
	}
}
