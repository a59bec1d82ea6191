// Package api exposes the authgate HTTP surface: public key distribution,
// login, logout and password rotation.
package api

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/ftmatch/authgate/account"
	"github.com/ftmatch/authgate/authz"
	"github.com/ftmatch/authgate/match"
	"github.com/ftmatch/authgate/session"
)

// KeySource hands out the public key clients seal credentials to.
type KeySource interface {
	PublicKey() (string, error)
}

// CredentialVerifier authenticates a login credential.
type CredentialVerifier interface {
	Verify(ctx context.Context, c account.Credential) (account.Identity, error)
}

// Sessions issues, resolves and revokes bearer sessions.
type Sessions interface {
	authz.Resolver
	Issue(ctx context.Context, id account.Identity, currentRegion string) (session.Session, error)
	Revoke(ctx context.Context, tokenID string) error
}

// PasswordChanger replaces an account password.
type PasswordChanger interface {
	ChangePassword(ctx context.Context, roleID int64, req account.PasswordChange) error
}

// Services are the domain components the handlers delegate to.
type Services struct {
	Keys      KeySource
	Verifier  CredentialVerifier
	Sessions  Sessions
	Passwords PasswordChanger
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	keys      KeySource
	verifier  CredentialVerifier
	sessions  Sessions
	passwords PasswordChanger
	guard     *authz.Guard
	matches   match.Provider

	logger         *slog.Logger
	audit          *auditLogger
	metrics        *Metrics
	alerts         *metricsCollector
	rateLimiter    *loginRateLimiter
	ipLimiter      *ipRateLimiter
	globalLimiter  *globalRateLimiter
	trustedProxies []netip.Prefix
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request errors and audit
// events. If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithMatchProvider sets where login recommendations come from. The default
// attaches empty lists.
func WithMatchProvider(p match.Provider) Option {
	return func(a *API) {
		a.matches = p
	}
}

// WithMetrics records request and outcome counters on m.
func WithMetrics(m *Metrics) Option {
	return func(a *API) {
		a.metrics = m
	}
}

// WithAlertFunc installs a callback for login failure spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alerts = newMetricsCollector(fn)
	}
}

// WithLoginMaxFailures sets how many consecutive failed logins for one
// account are tolerated before lockout.
func WithLoginMaxFailures(n int) Option {
	return func(a *API) {
		if n > 0 {
			a.rateLimiter.maxFailures = n
		}
	}
}

// WithTrustedProxies configures CIDR ranges whose forwarding headers are
// honoured when determining the client IP. Bare addresses are treated as
// single-host prefixes.
func WithTrustedProxies(cidrs []string) (Option, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// New creates a new API instance.
func New(svc Services, opts ...Option) *API {
	a := &API{
		keys:          svc.Keys,
		verifier:      svc.Verifier,
		sessions:      svc.Sessions,
		passwords:     svc.Passwords,
		guard:         authz.NewGuard(svc.Sessions),
		matches:       match.Empty{},
		rateLimiter:   newLoginRateLimiter(),
		ipLimiter:     newIPRateLimiter(),
		globalLimiter: newGlobalRateLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger, a.alerts, a.metrics)
	return a
}

// Sweep drops expired rate-limit state. The server calls it periodically.
func (a *API) Sweep() {
	a.rateLimiter.sweep()
	a.ipLimiter.sweep()
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/redoc",
	}, nil))

	r.Group(func(r chi.Router) {
		r.Use(a.Recover)
		r.Use(SecurityHeaders)
		r.Use(a.metrics.Instrument)

		r.Get("/auth/welcome", a.Welcome)
		r.Post("/auth/login", a.Login)
		r.With(a.RequireBearer).Post("/auth/logout", a.Logout)
		r.With(a.RequireBearer).Put("/auth/password/{role_id}/update", a.UpdatePassword)
	})

	return r
}
