package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"campusiam.org/internal/auth"
	"campusiam.org/internal/obs"
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

// Config carries the integration details the HTTP layer needs.
type Config struct {
	// Env toggles the Secure flag on the refresh cookie ("production"
	// turns it on).
	Env string
	// FrontendOrigin is additionally allowed by CORS alongside localhost.
	FrontendOrigin string
	Version        string
}

// API — HTTP слой.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	readyProbe ReadyProbe
	cfg        Config
}

func New(svc *auth.Service, rp ReadyProbe, cfg Config) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		readyProbe: rp,
		cfg:        cfg,
	}

	// health/ready
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth surface
	a.mux.HandleFunc("/api/auth/register", a.handleRegister)
	a.mux.HandleFunc("/api/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/auth/token", a.handleRefresh)
	a.mux.HandleFunc("/api/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/api/auth/mfa/setup", a.handleMFASetup)
	a.mux.HandleFunc("/api/auth/mfa/verify", a.handleMFAVerify)
	a.mux.HandleFunc("/api/auth/request-password-reset", a.handleRequestPasswordReset)
	a.mux.HandleFunc("/api/auth/reset-password", a.handleResetPassword)

	// admin surface
	a.mux.HandleFunc("/api/admin/users", a.handleAdminUsers)
	a.mux.HandleFunc("/api/admin/role", a.handleAdminRole)
	a.mux.HandleFunc("/api/admin/disable", a.handleAdminDisable)
	a.mux.HandleFunc("/api/admin/enable", a.handleAdminEnable)
	a.mux.HandleFunc("/api/admin/delete", a.handleAdminDelete)
	a.mux.HandleFunc("/api/admin/logs", a.handleAdminLogs)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler возвращает http.Handler для сервера (без доп. аргументов).
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = a.cors(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "campus-iam-api",
		"version": a.cfg.Version,
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

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) production() bool {
	return a.cfg.Env == "production"
}
