package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"tessera.org/internal/auth"
	"tessera.org/internal/obs"
)

const serviceName = "tessera-api"

// ReadinessChecker reports whether the service can take traffic.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database and, when configured, redis.
type ReadyProbe struct {
	DB    *sql.DB
	Redis *redis.Client
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Services are the domain entry points the HTTP layer dispatches to.
type Services struct {
	Codec       *auth.Codec
	Ledger      *auth.Ledger
	Authn       *auth.Authenticator
	Roles       *auth.RoleService
	Users       *auth.UserService
	Passwords   *auth.PasswordService
	Permissions *auth.PermissionService
}

type Options struct {
	Version      string
	MaxBodyBytes int64
	RateBurst    int
	RatePerSec   int
	CORSOrigins  []string
	// Proxies allowed to set X-Forwarded-For. Empty means the socket address is the client.
	TrustedProxies []netip.Prefix
}

// API is the HTTP layer.
type API struct {
	svc        Services
	readyProbe ReadinessChecker
	version    string
	maxBody    int64
	corsOrigin []string
	limiter    *rateLimiter
}

func New(svc Services, rp ReadinessChecker, opts Options) *API {
	if rp == nil {
		rp = ReadyProbe{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	return &API{
		svc:        svc,
		readyProbe: rp,
		version:    opts.Version,
		maxBody:    opts.MaxBodyBytes,
		corsOrigin: opts.CORSOrigins,
		limiter:    newRateLimiter(opts.RateBurst, opts.RatePerSec, opts.TrustedProxies),
	}
}

// Handler builds the router with the full middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Logging)
	r.Use(middleware.Recoverer)
	r.Use(obs.Instrument)
	r.Use(SecurityHeaders)
	r.Use(CORS(a.corsOrigin))
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) })

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Get("/.well-known/jwks.json", a.JWKS)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/authentication", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(a.limiter.Middleware)
				r.Post("/token", a.handleToken)
				r.Post("/token/refresh", a.handleRefresh)
			})
			r.With(a.authenticate).Post("/token/invalidate", a.handleInvalidate)
			r.Post("/password/forgot", a.handleForgotPassword)
			r.Get("/password/{id}/validity", a.handlePasswordValidity)
			r.Post("/password/{id}", a.handleCreatePassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			a.rbacRoutes(r)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, headerNotExist, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, headerBadRequest, "method not allowed")
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeRaw(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.SetReady(false)
		writeRaw(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeRaw(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeRaw(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// JWKS publishes the verification keys for external consumers.
func (a *API) JWKS(w http.ResponseWriter, r *http.Request) {
	raw, err := a.svc.Codec.JWKS(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
