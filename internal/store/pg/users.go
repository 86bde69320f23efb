package pg

import (
	"context"
	"database/sql"
	"errors"

	"shoplist.app/internal/audit"
	"shoplist.app/internal/auth"
	"shoplist.app/internal/ids"
)

var _ auth.CredentialStore = (*Store)(nil)

func (s *Store) CreateIdentity(ctx context.Context, username, passwordHash string, isAdmin bool) (auth.Identity, error) {
	id := auth.Identity{
		ID:           ids.NewIdentity(),
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
	}
	err := s.db.Get(ctx, []any{&id.CreatedAt}, `
		insert into users (id, username, password_hash, is_admin)
		values ($1, $2, $3, $4)
		returning created_at
	`, id.ID, username, audit.Redact(passwordHash), isAdmin)
	if err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return auth.Identity{}, auth.ErrConflict
		}
		return auth.Identity{}, err
	}
	return id, nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (auth.Identity, error) {
	return s.findIdentity(ctx, `
		select id, username, password_hash, is_admin, created_at
		from users
		where username = $1
	`, username)
}

func (s *Store) FindByID(ctx context.Context, id string) (auth.Identity, error) {
	if !ids.ValidIdentity(id) {
		return auth.Identity{}, auth.ErrNotFound
	}
	return s.findIdentity(ctx, `
		select id, username, password_hash, is_admin, created_at
		from users
		where id = $1
	`, id)
}

func (s *Store) findIdentity(ctx context.Context, statement string, arg string) (auth.Identity, error) {
	var id auth.Identity
	err := s.db.Get(ctx, []any{&id.ID, &id.Username, &id.PasswordHash, &id.IsAdmin, &id.CreatedAt}, statement, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Identity{}, err
	}
	return id, nil
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if !ids.ValidIdentity(id) {
		return auth.ErrNotFound
	}
	res, err := s.db.Exec(ctx, `update users set password_hash = $1 where id = $2`, audit.Redact(passwordHash), id)
	if err != nil {
		return err
	}
	return requireAffected(res, auth.ErrNotFound)
}

func (s *Store) ListIdentities(ctx context.Context) ([]auth.IdentitySummary, error) {
	var out []auth.IdentitySummary
	err := s.db.All(ctx, func(rows *sql.Rows) error {
		var u auth.IdentitySummary
		if err := rows.Scan(&u.ID, &u.Username, &u.IsAdmin, &u.CreatedAt, &u.ConfirmationCount); err != nil {
			return err
		}
		out = append(out, u)
		return nil
	}, `
		select u.id, u.username, u.is_admin, u.created_at, count(bc.broadcast_id)
		from users u
		left join broadcast_confirmations bc on bc.user_id = u.id
		group by u.id
		order by u.created_at desc
	`)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ToggleAdmin(ctx context.Context, id string) (auth.Identity, error) {
	if !ids.ValidIdentity(id) {
		return auth.Identity{}, auth.ErrNotFound
	}
	var u auth.Identity
	err := s.db.Get(ctx, []any{&u.ID, &u.Username, &u.IsAdmin, &u.CreatedAt}, `
		update users set is_admin = not is_admin
		where id = $1
		returning id, username, is_admin, created_at
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Identity{}, err
	}
	return u, nil
}

func (s *Store) DeleteIdentity(ctx context.Context, id string) error {
	if !ids.ValidIdentity(id) {
		return auth.ErrNotFound
	}
	res, err := s.db.Exec(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, auth.ErrNotFound)
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
