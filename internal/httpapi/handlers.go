package httpapi

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"shoplist.app/internal/audit"
	"shoplist.app/internal/auth"
	"shoplist.app/internal/broadcast"
	"shoplist.app/internal/obs"
	"shoplist.app/internal/store/pg"
	"shoplist.app/internal/stream"
)

const serviceName = "shoplist-api"

// Pinger is satisfied by the database store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the database. A nil DB is always ready.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.DB.Ping(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// StatsSource supplies aggregate counts for the administrator dashboard.
type StatsSource interface {
	Stats(ctx context.Context) (pg.Stats, error)
}

// AuditLog is the administrator view of the persistence audit trail.
type AuditLog interface {
	List(ctx context.Context, limit, offset int) ([]audit.Entry, error)
	Count(ctx context.Context) (int64, error)
	PurgeOlderThan(ctx context.Context, days int) (int64, error)
}

// Deps are the collaborators served over HTTP.
type Deps struct {
	Auth       *auth.Service
	Passphrase auth.Passphrase
	Broadcasts *broadcast.Engine
	Stats      StatsSource
	Logs       AuditLog
	Events     *stream.Hub
	Ready      readinessChecker
}

// Options tune the HTTP surface.
type Options struct {
	Version        string
	MaxBodyBytes   int64
	RatePerSecond  float64
	RateBurst      int
	AllowedOrigins []string
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	deps       Deps
	gate       *Gate
	limiter    *RateLimiter
	opts       Options
	startedAt  time.Time
	readyProbe readinessChecker
}

func New(deps Deps, opts Options) *API {
	if deps.Ready == nil {
		deps.Ready = ReadyProbe{}
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 10
	}
	a := &API{
		deps:       deps,
		gate:       NewGate(deps.Auth.Issuer(), deps.Auth.Registry()),
		limiter:    NewRateLimiter(opts.RatePerSecond, opts.RateBurst),
		opts:       opts,
		startedAt:  time.Now().UTC(),
		readyProbe: deps.Ready,
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(obs.Instrument)
	r.Use(middleware.Recoverer)
	r.Use(RequestID)
	r.Use(ClientAddr(a.opts.TrustedProxies))
	r.Use(LoggingJSON)
	r.Use(AuditOrigin)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.opts.AllowedOrigins))
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.opts.MaxBodyBytes) })
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/uptime", a.Uptime)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.With(a.limiter.Middleware).Post("/login", a.login)
	r.With(a.limiter.Middleware).Post("/register", a.register)

	r.Group(func(r chi.Router) {
		r.Use(a.gate.RequireToken)
		r.Post("/logout", a.logout)
		r.Get("/profile", a.profile)
		r.Post("/change-password", a.changePassword)
		r.Get("/broadcasts", a.visibleBroadcasts)
		r.Get("/broadcasts/events", a.broadcastEvents)
		r.Post("/broadcasts/{id}/confirm", a.confirmBroadcast)

		r.Group(func(r chi.Router) {
			r.Use(AdminByToken)
			r.Get("/admin/users", a.adminListUsers)
			r.Post("/admin/toggle-admin", a.adminToggleByToken)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(a.limiter.Middleware)
		r.Use(AdminByPassphrase(a.deps.Passphrase))
		r.Post("/admin/stats", a.adminStats)
		r.Post("/admin/users", a.adminListUsers)
		r.Delete("/admin/users/{id}", a.adminDeleteUser)
		r.Post("/admin/users/{id}/toggle-admin", a.adminToggleUser)
		r.Post("/admin/broadcasts", a.adminCreateBroadcast)
		r.Post("/admin/broadcasts/list", a.adminListBroadcasts)
		r.Put("/admin/broadcasts/{id}/toggle", a.adminToggleBroadcast)
		r.Delete("/admin/broadcasts/{id}", a.adminDeleteBroadcast)
		r.Post("/admin/logs", a.adminLogs)
		r.Post("/admin/logs/clear", a.adminClearLogs)
	})
	return r
}

// Handler returns the router with the full middleware chain.
func (a *API) Handler() http.Handler {
	return a.router
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Uptime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"started_at":     a.startedAt.Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"version":        a.opts.Version,
	})
}
