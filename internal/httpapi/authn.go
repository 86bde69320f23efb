package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"shoplist.app/internal/audit"
	"shoplist.app/internal/auth"
	"shoplist.app/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Gate authenticates bearer tokens. The revocation registry is consulted before
// the signature, so a logged-out token is reported as revoked until its entry
// is compacted or expires from the registry; after that it fails validation.
type Gate struct {
	issuer   *auth.Issuer
	registry auth.RevocationRegistry
}

func NewGate(issuer *auth.Issuer, registry auth.RevocationRegistry) *Gate {
	return &Gate{issuer: issuer, registry: registry}
}

func reject(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	obs.GateRejections.WithLabelValues(code).Inc()
	writeError(w, r, status, code, msg)
}

// RequireToken admits requests carrying a valid, unrevoked bearer token and
// attaches the claims, the raw token and the audit actor to the context.
func (g *Gate) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			reject(w, r, http.StatusUnauthorized, CodeMissingToken, err.Error())
			return
		}

		revoked, err := g.registry.IsRevoked(r.Context(), token)
		if err != nil {
			obs.Error("revocation_check_failed", map[string]any{
				"request_id": RequestIDFromContext(r.Context()),
				"error":      err.Error(),
			})
			reject(w, r, http.StatusServiceUnavailable, CodeStorage, "session store unavailable")
			return
		}
		if revoked {
			reject(w, r, http.StatusUnauthorized, CodeRevoked, "token has been revoked")
			return
		}

		claims, err := g.issuer.Validate(token)
		if err != nil {
			msg := "invalid token"
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				msg = "token expired"
			case errors.Is(err, auth.ErrStaleSession):
				msg = "session ended by service restart"
			}
			reject(w, r, http.StatusForbidden, CodeInvalidToken, msg)
			return
		}

		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = audit.WithActor(ctx, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminByToken requires the administrator claim. It must run after RequireToken.
func AdminByToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			reject(w, r, http.StatusUnauthorized, CodeMissingToken, "missing bearer token")
			return
		}
		if !claims.IsAdmin {
			reject(w, r, http.StatusForbidden, CodeForbidden, "administrator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdminByPassphrase guards the deprecated shared-passphrase channel. The
// passphrase is read from the "password" field of a JSON body, with the body
// restored for the handler, or from the "password" query parameter.
func AdminByPassphrase(p auth.Passphrase) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Deprecation", "true")
			candidate, err := passphraseFrom(r)
			if err != nil {
				badRequest(w, r, "unable to read request body")
				return
			}
			if err := p.Check(candidate); err != nil {
				_ = audit.LogEvent(r.Context(), "admin.passphrase.rejected", map[string]any{
					"path":     r.URL.Path,
					"origin":   clientIP(r),
					"disabled": errors.Is(err, auth.ErrPassphraseDisabled),
				})
				reject(w, r, http.StatusUnauthorized, CodePassphraseMismatch, "invalid administrator passphrase")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func passphraseFrom(r *http.Request) (string, error) {
	if r.Body != nil && r.Body != http.NoBody {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
		if err != nil {
			return "", err
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(data))
		if len(bytes.TrimSpace(data)) > 0 {
			var probe struct {
				Password *string `json:"password"`
			}
			if err := json.Unmarshal(data, &probe); err == nil && probe.Password != nil {
				return *probe.Password, nil
			}
		}
	}
	return r.URL.Query().Get("password"), nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
