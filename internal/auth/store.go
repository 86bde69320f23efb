package auth

import "context"

// CredentialStore describes persistence operations required by the auth subsystem.
// Lookups by unknown id or username return ErrNotFound; a duplicate username on
// create returns ErrConflict.
type CredentialStore interface {
	CreateIdentity(ctx context.Context, username, passwordHash string, isAdmin bool) (Identity, error)
	FindByUsername(ctx context.Context, username string) (Identity, error)
	FindByID(ctx context.Context, id string) (Identity, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	ListIdentities(ctx context.Context) ([]IdentitySummary, error)
	ToggleAdmin(ctx context.Context, id string) (Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
}
