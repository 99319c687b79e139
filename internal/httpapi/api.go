// Package httpapi is the HTTP surface of the token authority: the auth
// endpoints consumed by the gateway and clients, plus the role and
// permission administration API.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"authgate.dev/internal/auth"
	"authgate.dev/internal/obs"
)

// ReadyProbe — простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API — HTTP слой authority-сервиса.
type API struct {
	svc        *auth.Service
	store      auth.Store
	readyProbe ReadyProbe
	version    string
	rateLimit  int
}

// Option configures the API.
type Option func(*API)

// WithRateLimit overrides the per-client budget on the public endpoints.
func WithRateLimit(perSecond int) Option {
	return func(a *API) {
		if perSecond > 0 {
			a.rateLimit = perSecond
		}
	}
}

// New wires the service and its store into the HTTP layer.
func New(svc *auth.Service, store auth.Store, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		svc:        svc,
		store:      store,
		readyProbe: rp,
		version:    version,
		rateLimit:  20,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler возвращает полностью собранный http.Handler сервиса.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)
	r.Use(Recover)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Публичные endpoints — с лимитом на клиента.
		r.Group(func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return RateLimit(next, a.rateLimit*2, a.rateLimit)
			})
			r.Post("/auth/login", a.handleLogin)
			r.Post("/auth/register", a.handleRegister)
			r.Post("/auth/validate-token", a.handleValidateToken)
			r.Post("/auth/refresh-token", a.handleRefreshToken)
			r.Post("/auth/logout", a.handleLogout)
		})

		// Защищённая админ-поверхность RBAC.
		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Post("/auth/revoke-all", a.handleRevokeAll)

			r.Get("/roles", a.handleListRoles)
			r.Post("/roles", a.handleCreateRole)
			r.Get("/roles/{roleID}", a.handleGetRole)
			r.Put("/roles/{roleID}", a.handleUpdateRole)
			r.Delete("/roles/{roleID}", a.handleDeleteRole)
			r.Put("/roles/{roleID}/permissions", a.handleSetRolePermissions)

			r.Get("/permissions", a.handleListPermissions)
			r.Post("/permissions", a.handleCreatePermission)
			r.Get("/permissions/{permissionID}", a.handleGetPermission)
			r.Put("/permissions/{permissionID}", a.handleUpdatePermission)
			r.Delete("/permissions/{permissionID}", a.handleDeletePermission)

			r.Post("/users/{userID}/roles", a.handleAssignRoles)
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, req, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(methodNotAllowed)

	// оборачиваем весь роутер метриками и лимитом на тело запроса
	return obs.Instrument(MaxBodyBytes(r, 1<<20))
}

// --- service handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authgate-authority",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "authgate-authority",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
