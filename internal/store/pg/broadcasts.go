package pg

import (
	"context"
	"database/sql"
	"errors"

	"shoplist.app/internal/broadcast"
	"shoplist.app/internal/ids"
)

var _ broadcast.Store = (*Store)(nil)

const broadcastColumns = `b.id, b.title, b.message, b.severity, b.requires_confirmation,
		b.permanent, b.active, b.expires_at, b.created_at`

func broadcastDest(b *broadcast.Broadcast, expires *sql.NullTime, severity *string) []any {
	return []any{&b.ID, &b.Title, &b.Message, severity, &b.RequiresConfirmation,
		&b.Permanent, &b.Active, expires, &b.CreatedAt}
}

func finishBroadcast(b *broadcast.Broadcast, expires sql.NullTime, severity string) {
	b.Severity = broadcast.Severity(severity)
	if expires.Valid {
		t := expires.Time.UTC()
		b.ExpiresAt = &t
	}
}

func (s *Store) CreateBroadcast(ctx context.Context, d broadcast.Draft) (broadcast.Broadcast, error) {
	var (
		b        broadcast.Broadcast
		expires  sql.NullTime
		severity string
	)
	var expiresArg sql.NullTime
	if d.ExpiresAt != nil {
		expiresArg = sql.NullTime{Time: *d.ExpiresAt, Valid: true}
	}
	err := s.db.Get(ctx, broadcastDest(&b, &expires, &severity), `
		insert into broadcasts as b (title, message, severity, requires_confirmation, permanent, expires_at)
		values ($1, $2, $3, $4, $5, $6)
		returning `+broadcastColumns,
		d.Title, d.Message, string(d.Severity), d.RequiresConfirmation, d.Permanent, expiresArg)
	if err != nil {
		return broadcast.Broadcast{}, err
	}
	finishBroadcast(&b, expires, severity)
	return b, nil
}

// ActiveForUser narrows on the active flag only; expiry and confirmation rules
// are applied by broadcast.IsVisible so there is one definition of visibility.
func (s *Store) ActiveForUser(ctx context.Context, userID string) ([]broadcast.UserBroadcast, error) {
	if !ids.ValidIdentity(userID) {
		return nil, nil
	}
	var out []broadcast.UserBroadcast
	err := s.db.All(ctx, func(rows *sql.Rows) error {
		var (
			ub          broadcast.UserBroadcast
			expires     sql.NullTime
			severity    string
			confirmedAt sql.NullTime
		)
		dest := append(broadcastDest(&ub.Broadcast, &expires, &severity), &confirmedAt)
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		finishBroadcast(&ub.Broadcast, expires, severity)
		if confirmedAt.Valid {
			t := confirmedAt.Time.UTC()
			ub.Confirmed = true
			ub.ConfirmedAt = &t
		}
		out = append(out, ub)
		return nil
	}, `
		select `+broadcastColumns+`, bc.confirmed_at
		from broadcasts b
		left join broadcast_confirmations bc on bc.broadcast_id = b.id and bc.user_id = $1
		where b.active
		order by b.created_at desc, b.id desc
	`, userID)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Confirm(ctx context.Context, broadcastID int64, userID string) error {
	if !ids.ValidIdentity(userID) {
		return broadcast.ErrNotFound
	}
	_, err := s.db.Exec(ctx, `
		insert into broadcast_confirmations (broadcast_id, user_id)
		values ($1, $2)
		on conflict (broadcast_id, user_id) do nothing
	`, broadcastID, userID)
	if err != nil {
		if isPgCode(err, pgErrForeignKeyViolation) {
			return broadcast.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) ToggleActive(ctx context.Context, id int64) (broadcast.Broadcast, error) {
	var (
		b        broadcast.Broadcast
		expires  sql.NullTime
		severity string
	)
	err := s.db.Get(ctx, broadcastDest(&b, &expires, &severity), `
		update broadcasts as b set active = not b.active
		where b.id = $1
		returning `+broadcastColumns, id)
	if errors.Is(err, sql.ErrNoRows) {
		return broadcast.Broadcast{}, broadcast.ErrNotFound
	}
	if err != nil {
		return broadcast.Broadcast{}, err
	}
	finishBroadcast(&b, expires, severity)
	return b, nil
}

func (s *Store) DeleteBroadcast(ctx context.Context, id int64) error {
	res, err := s.db.Exec(ctx, `delete from broadcasts where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, broadcast.ErrNotFound)
}

func (s *Store) ListBroadcasts(ctx context.Context) ([]broadcast.Summary, error) {
	var out []broadcast.Summary
	err := s.db.All(ctx, func(rows *sql.Rows) error {
		var (
			sm       broadcast.Summary
			expires  sql.NullTime
			severity string
		)
		dest := append(broadcastDest(&sm.Broadcast, &expires, &severity), &sm.ConfirmationCount, &sm.TotalUsers)
		if err := rows.Scan(dest...); err != nil {
			return err
		}
		finishBroadcast(&sm.Broadcast, expires, severity)
		out = append(out, sm)
		return nil
	}, `
		select `+broadcastColumns+`,
			count(bc.user_id),
			(select count(*) from users)
		from broadcasts b
		left join broadcast_confirmations bc on bc.broadcast_id = b.id
		group by b.id
		order by b.created_at desc, b.id desc
	`)
	if err != nil {
		return nil, err
	}
	return out, nil
}
