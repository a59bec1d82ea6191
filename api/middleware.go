package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ftmatch/authgate/authz"
)

const (
	// maxAuthBodySize bounds login and password bodies. A sealed credential
	// is well under 1 KiB.
	maxAuthBodySize = 16 << 10

	// headerCurrentRegion carries the region the client is currently in.
	headerCurrentRegion = "current-region"
)

// RequireBearer resolves the Authorization header into an authz.Context and
// stores it on the request context. Requests without a live session get 403
// with a detail body, before any handler logic runs.
func (a *API) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := a.guard.Authorize(r.Context(), r.Header.Get("Authorization"), nil)
		if err != nil {
			if errors.Is(err, authz.ErrUnauthenticated) || errors.Is(err, authz.ErrInvalidToken) {
				a.audit.logFailure(AuditAccessDenied, r, err.Error())
				writeNotAuthenticated(w)
				return
			}
			a.writeInternalError(w, r, "resolve session", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(authz.WithContext(r.Context(), c)))
	})
}

// decodeJSON reads a size-limited JSON body. On failure it writes the 400
// response itself and returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	if err := dec.Decode(&v); err != nil {
		writeInvalidRequest(w)
		return v, false
	}
	return v, true
}

func currentRegion(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerCurrentRegion))
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

func roleAttr(c authz.Context) slog.Attr {
	return slog.String("role", string(c.Role))
}
