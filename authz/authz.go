// Package authz turns a bearer token into an authorization context and
// enforces that path-scoped operations act only on the caller's own role.
package authz

import (
	"context"
	"errors"
	"strings"

	"github.com/ftmatch/authgate/account"
	"github.com/ftmatch/authgate/session"
)

var (
	// ErrUnauthenticated is returned when no credentials were presented.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrInvalidToken is returned when the presented token is not a live
	// session.
	ErrInvalidToken = errors.New("invalid token")
	// ErrAccessDenied is returned when the caller targets another role.
	ErrAccessDenied = errors.New("access denied")
)

// Context identifies the caller of a protected operation.
type Context struct {
	RoleID  int64
	Role    account.Role
	Email   string
	TokenID string
}

// Resolver maps a bearer token to its live session.
type Resolver interface {
	Resolve(ctx context.Context, token string) (session.Session, error)
}

// Guard authorizes protected requests. It is read-only.
type Guard struct {
	sessions Resolver
}

func NewGuard(sessions Resolver) *Guard {
	return &Guard{sessions: sessions}
}

// Authorize validates an Authorization header value and, when target is
// non-nil, checks that it names the caller's role id.
func (g *Guard) Authorize(ctx context.Context, header string, target *int64) (Context, error) {
	if strings.TrimSpace(header) == "" {
		return Context{}, ErrUnauthenticated
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return Context{}, ErrInvalidToken
	}

	s, err := g.sessions.Resolve(ctx, token)
	if errors.Is(err, session.ErrInvalidToken) {
		return Context{}, ErrInvalidToken
	}
	if err != nil {
		return Context{}, err
	}

	c := Context{RoleID: s.RoleID, Role: s.Role, Email: s.Email, TokenID: s.TokenID}
	if target != nil {
		if err := RequireOwner(c, *target); err != nil {
			return Context{}, err
		}
	}
	return c, nil
}

// RequireOwner returns ErrAccessDenied unless target is c's role id.
func RequireOwner(c Context, target int64) error {
	if c.RoleID != target {
		return ErrAccessDenied
	}
	return nil
}

type ctxKey struct{}

// WithContext stores c in ctx.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the Context stored by WithContext.
func FromContext(ctx context.Context) (Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(Context)
	return c, ok
}
