package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// equalizeTiming runs one bcrypt comparison so unknown and known usernames take
// comparable time.
func equalizeTiming(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = HashPassword("shoplist-timing-equalizer")
	})
	_ = VerifyPassword(dummyHash, password)
}

// Service composes the credential store, token issuer and revocation registry.
type Service struct {
	store    CredentialStore
	issuer   *Issuer
	registry RevocationRegistry
}

// NewService constructs Service.
func NewService(store CredentialStore, issuer *Issuer, registry RevocationRegistry) *Service {
	return &Service{store: store, issuer: issuer, registry: registry}
}

// Issuer exposes the token issuer used by the service.
func (s *Service) Issuer() *Issuer { return s.issuer }

// Registry exposes the revocation registry used by the service.
func (s *Service) Registry() RevocationRegistry { return s.registry }

// Session is the result of a successful login.
type Session struct {
	Token    string
	Claims   *Claims
	Identity Identity
}

// Login verifies credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}
	id, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			equalizeTiming(password)
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if err := VerifyPassword(id.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	token, claims, err := s.issuer.Issue(id)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, Claims: claims, Identity: id}, nil
}

// Logout revokes the presented token.
func (s *Service) Logout(ctx context.Context, token string, claims *Claims) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: token is required", ErrInvalidInput)
	}
	return s.registry.Revoke(ctx, token, claims.ExpiresAtTime())
}

// Register creates a regular (non-administrator) identity.
func (s *Service) Register(ctx context.Context, username, password string) (Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Identity{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return Identity{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Identity{}, err
	}
	return s.store.CreateIdentity(ctx, username, hash, false)
}

// CreateAdministrator provisions an identity with the administrator flag set.
func (s *Service) CreateAdministrator(ctx context.Context, username, password string) (Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Identity{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return Identity{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Identity{}, err
	}
	return s.store.CreateIdentity(ctx, username, hash, true)
}

// ChangePassword replaces the password digest after verifying the current password
// and revokes the token used for the request.
func (s *Service) ChangePassword(ctx context.Context, claims *Claims, token, current, next string) error {
	if claims == nil {
		return ErrInvalidToken
	}
	if current == "" {
		return fmt.Errorf("%w: current password is required", ErrInvalidInput)
	}
	if err := CheckPasswordPolicy(next); err != nil {
		return err
	}
	id, err := s.store.FindByID(ctx, claims.UserID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(id.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, id.ID, hash); err != nil {
		return err
	}
	if token != "" {
		return s.registry.Revoke(ctx, token, claims.ExpiresAtTime())
	}
	return nil
}

// Profile loads the identity behind the claims.
func (s *Service) Profile(ctx context.Context, userID string) (Identity, error) {
	return s.store.FindByID(ctx, userID)
}

// ListIdentities returns every account for administrators.
func (s *Service) ListIdentities(ctx context.Context) ([]IdentitySummary, error) {
	return s.store.ListIdentities(ctx)
}

// ToggleAdmin flips the administrator flag. Tokens already issued keep their old
// claim until they expire or are revoked.
func (s *Service) ToggleAdmin(ctx context.Context, userID string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.ToggleAdmin(ctx, userID)
}

// DeleteIdentity removes an account and, by cascade, its confirmations.
func (s *Service) DeleteIdentity(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.DeleteIdentity(ctx, userID)
}
