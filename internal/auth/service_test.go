package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *MemoryStore, *MemoryRegistry) {
	t.Helper()
	issuer, err := NewIssuer("service-secret")
	require.NoError(t, err)
	store := NewMemoryStore()
	registry := NewMemoryRegistry(nil)
	return NewService(store, issuer, registry), store, registry
}

func TestServiceRegisterAndLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Register(ctx, "alice", "wonderland")
	require.NoError(t, err)
	require.False(t, id.IsAdmin)
	require.NotEqual(t, "wonderland", id.PasswordHash)

	session, err := svc.Login(ctx, "alice", "wonderland")
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)
	require.Equal(t, id.ID, session.Claims.UserID)

	claims, err := svc.Issuer().Validate(session.Token)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Username)
}

func TestServiceRegisterRejects(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "bob", "short")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Register(ctx, "  ", "long-enough")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Register(ctx, "bob", "long-enough")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "bob", "another-one")
	require.ErrorIs(t, err, ErrConflict)
}

func TestServiceLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "carol", "correct-horse")
	require.NoError(t, err)

	_, errWrong := svc.Login(ctx, "carol", "battery-staple")
	_, errUnknown := svc.Login(ctx, "mallory", "battery-staple")
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.Equal(t, errWrong.Error(), errUnknown.Error())

	_, err = svc.Login(ctx, "", "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestServiceLogoutRevokesToken(t *testing.T) {
	svc, _, registry := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "dave", "password1")
	require.NoError(t, err)
	session, err := svc.Login(ctx, "dave", "password1")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, session.Token, session.Claims))
	revoked, err := registry.IsRevoked(ctx, session.Token)
	require.NoError(t, err)
	require.True(t, revoked)

	// the token is still cryptographically valid; only the registry rejects it
	_, err = svc.Issuer().Validate(session.Token)
	require.NoError(t, err)

	again, err := svc.Login(ctx, "dave", "password1")
	require.NoError(t, err)
	revoked, err = registry.IsRevoked(ctx, again.Token)
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestServiceChangePassword(t *testing.T) {
	svc, _, registry := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "erin", "old-password")
	require.NoError(t, err)
	session, err := svc.Login(ctx, "erin", "old-password")
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, session.Claims, session.Token, "wrong", "new-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	err = svc.ChangePassword(ctx, session.Claims, session.Token, "old-password", "tiny")
	require.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, svc.ChangePassword(ctx, session.Claims, session.Token, "old-password", "new-password"))
	revoked, _ := registry.IsRevoked(ctx, session.Token)
	require.True(t, revoked)

	_, err = svc.Login(ctx, "erin", "old-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "erin", "new-password")
	require.NoError(t, err)
}

func TestServiceToggleAndDelete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id, err := svc.Register(ctx, "frank", "password1")
	require.NoError(t, err)

	toggled, err := svc.ToggleAdmin(ctx, id.ID)
	require.NoError(t, err)
	require.True(t, toggled.IsAdmin)

	toggled, err = svc.ToggleAdmin(ctx, id.ID)
	require.NoError(t, err)
	require.False(t, toggled.IsAdmin)

	_, err = svc.ToggleAdmin(ctx, "")
	require.ErrorIs(t, err, ErrInvalidInput)

	require.NoError(t, svc.DeleteIdentity(ctx, id.ID))
	require.ErrorIs(t, svc.DeleteIdentity(ctx, id.ID), ErrNotFound)
	_, err = svc.Profile(ctx, id.ID)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestServiceCreateAdministrator(t *testing.T) {
	svc, _, _ := newTestService(t)
	id, err := svc.CreateAdministrator(context.Background(), "root", "rootpass")
	require.NoError(t, err)
	require.True(t, id.IsAdmin)
}
