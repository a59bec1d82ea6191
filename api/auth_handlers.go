package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ftmatch/authgate/account"
	"github.com/ftmatch/authgate/authz"
	"github.com/ftmatch/authgate/internal/util"
	"github.com/ftmatch/authgate/match"
)

// maxPrefetch bounds how many recommendations a client may ask for.
const maxPrefetch = 50

// Welcome handles GET /auth/welcome.
func (a *API) Welcome(w http.ResponseWriter, r *http.Request) {
	pub, err := a.keys.PublicKey()
	if err != nil {
		a.writeInternalError(w, r, "public key unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, Envelope{
		Code: CodeOK,
		Msg:  msgOK,
		Data: WelcomeData{PubKey: pub},
	})
}

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	// The lookup ID is a SHA-256 hash and is safe for logs and maps.
	accountID := util.LookupID(util.NormalizeEmail(req.Email))
	clientIP := a.extractClientIP(r)

	// Check rate limits before any expensive work: global, IP, per-account.
	if blocked, retryAfter := a.globalLimiter.check(); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "global rate limited")
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := a.rateLimiter.check(accountID); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "rate limited",
			slog.String("account_id", accountID))
		writeRateLimited(w, retryAfter)
		return
	}

	id, err := a.verifier.Verify(r.Context(), account.Credential{
		Email:  req.Email,
		PubKey: req.PubKey,
		Meta:   req.Meta,
	})
	if err != nil {
		if errors.Is(err, account.ErrInvalidCredential) {
			a.globalLimiter.recordFailure()
			a.ipLimiter.recordFailure(clientIP)
			a.rateLimiter.recordFailure(accountID)
			a.audit.logFailure(AuditLoginFailure, r, "invalid credentials",
				slog.String("account_id", accountID),
				slog.String("client_ip", clientIP))
		}
		a.mapError(w, r, err)
		return
	}

	sess, err := a.sessions.Issue(r.Context(), id, currentRegion(r))
	if err != nil {
		a.writeInternalError(w, r, "failed to issue session", err)
		return
	}

	a.rateLimiter.recordSuccess(accountID)
	a.ipLimiter.recordSuccess(clientIP)
	a.audit.logEvent(AuditLoginSuccess, r, id.RoleID,
		slog.String("role", string(id.Role)),
		slog.String("region", sess.Region),
		slog.String("client_ip", clientIP))

	region := sess.CurrentRegion
	if region == "" {
		region = sess.Region
	}
	writeJSON(w, http.StatusCreated, Envelope{
		Code: CodeOK,
		Msg:  msgOK,
		Data: LoginData{
			Auth:  sess,
			Match: a.fetchMatch(r, region, id, req.Prefetch),
		},
	})
}

// fetchMatch never fails the login: provider errors degrade to empty lists.
func (a *API) fetchMatch(r *http.Request, region string, id account.Identity, prefetch *int) match.Match {
	size := match.DefaultPrefetch
	if prefetch != nil && *prefetch > 0 {
		size = min(*prefetch, maxPrefetch)
	}
	m, err := a.matches.Fetch(r.Context(), match.Request{
		Region:   region,
		Role:     id.Role,
		RoleID:   id.RoleID,
		Prefetch: size,
	})
	if err != nil {
		a.logger.WarnContext(r.Context(), "match fetch failed",
			slog.String("region", region),
			slog.Int64("role_id", id.RoleID),
			slog.Any("error", err))
		a.metrics.recordMatch("error")
		return match.Match{}.Normalize()
	}
	a.metrics.recordMatch("ok")
	return m.Normalize()
}

// Logout handles POST /auth/logout. The body names the role being logged
// out, which must be the caller's own.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	c, _ := authz.FromContext(r.Context())
	req, ok := decodeJSON[LogoutRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if err := authz.RequireOwner(c, req.RoleID); err != nil {
		a.audit.logEvent(AuditAccessDenied, r, c.RoleID,
			slog.String("target_role_id", strconv.FormatInt(req.RoleID, 10)))
		a.mapError(w, r, err)
		return
	}
	if err := a.sessions.Revoke(r.Context(), c.TokenID); err != nil {
		a.writeInternalError(w, r, "failed to revoke session", err)
		return
	}
	a.audit.logEvent(AuditLogout, r, c.RoleID, roleAttr(c))
	writeEnvelope(w, http.StatusCreated, CodeOK, msgLoggedOut)
}

// UpdatePassword handles PUT /auth/password/{role_id}/update.
func (a *API) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	c, _ := authz.FromContext(r.Context())

	raw := chi.URLParam(r, "role_id")
	target, err := strconv.ParseInt(raw, 10, 64)
	if err == nil {
		err = authz.RequireOwner(c, target)
	} else {
		// A role id that does not parse can never be the caller's.
		err = authz.ErrAccessDenied
	}
	if err != nil {
		a.audit.logEvent(AuditAccessDenied, r, c.RoleID,
			slog.String("target_role_id", raw))
		a.mapError(w, r, err)
		return
	}

	req, ok := decodeJSON[UpdatePasswordRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}

	err = a.passwords.ChangePassword(r.Context(), c.RoleID, account.PasswordChange{
		RegisterEmail:  req.RegisterEmail,
		Password1:      req.Password1,
		Password2:      req.Password2,
		OriginPassword: req.OriginPassword,
	})
	if err != nil {
		a.audit.logFailure(AuditPasswordChangeFailure, r, passwordFailureReason(err),
			slog.String("role_id", strconv.FormatInt(c.RoleID, 10)))
		a.mapError(w, r, err)
		return
	}

	a.audit.logEvent(AuditPasswordChanged, r, c.RoleID, roleAttr(c))
	writeEnvelope(w, http.StatusOK, CodeOK, msgUpdateSuccess)
}

func passwordFailureReason(err error) string {
	switch {
	case errors.Is(err, account.ErrEmailMismatch):
		return "email mismatch"
	case errors.Is(err, account.ErrPasswordMismatch):
		return "passwords do not match"
	case errors.Is(err, account.ErrEmptyPassword):
		return "empty password"
	case errors.Is(err, account.ErrInvalidOriginPassword):
		return "invalid origin password"
	default:
		return "internal error"
	}
}
