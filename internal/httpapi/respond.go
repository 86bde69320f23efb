package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"shoplist.app/internal/audit"
	"shoplist.app/internal/auth"
	"shoplist.app/internal/broadcast"
	"shoplist.app/internal/obs"
)

// Error classes returned in the "code" field of every error body.
const (
	CodeMissingToken       = "MissingToken"
	CodeRevoked            = "Revoked"
	CodeInvalidToken       = "InvalidToken"
	CodeInvalidCredentials = "InvalidCredentials"
	CodeForbidden          = "Forbidden"
	CodePassphraseMismatch = "PassphraseMismatch"
	CodeNotFound           = "NotFound"
	CodeConflict           = "Conflict"
	CodeValidation         = "ValidationError"
	CodeStorage            = "StorageError"
	CodeRateLimited        = "RateLimited"
	CodeMethodNotAllowed   = "MethodNotAllowed"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, CodeNotFound, "not found")
}

// fail maps a domain error to a response. Messages for storage failures stay
// generic; the cause goes to the operational log.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, broadcast.ErrInvalidInput),
		errors.Is(err, audit.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, CodeValidation, publicMessage(err))
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, CodeInvalidCredentials, "invalid username or password")
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, broadcast.ErrNotFound):
		writeError(w, r, http.StatusNotFound, CodeNotFound, "not found")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, CodeConflict, "already exists")
	default:
		obs.Error("request_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, CodeStorage, "internal error")
	}
}

// publicMessage strips the package prefix and sentinel text from a validation
// error, leaving the detail meant for clients.
func publicMessage(err error) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, "invalid input: "); i >= 0 {
		msg = msg[i+len("invalid input: "):]
	}
	if msg == "" {
		return "invalid input"
	}
	return msg
}

func decodeJSON(r *http.Request, dst any) error {
	reader := io.LimitReader(r.Body, maxJSONBody)
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body, leaving dst untouched.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return decodeJSON(r, dst)
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, http.StatusBadRequest, CodeValidation, msg)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("id must be a positive integer")
	}
	return id, nil
}
