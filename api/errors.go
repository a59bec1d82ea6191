package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ftmatch/authgate/account"
	"github.com/ftmatch/authgate/authz"
)

// Response codes carried in the envelope "code" field.
const (
	CodeOK              = "0"
	CodeBadRequest      = "40000"
	CodeUnauthorized    = "40100"
	CodeForbidden       = "40300"
	CodeTooManyRequests = "42900"
	CodeInternal        = "50000"
)

// Fixed messages. Clients match on some of these strings.
const (
	msgOK                = "ok"
	msgErrorPassword     = "error_password"
	msgAccessDenied      = "access denied"
	msgInvalidEmail      = "invalid email"
	msgPasswordsMismatch = "passwords do not match"
	msgInvalidPassword   = "Invalid Password"
	msgInvalidRequest    = "invalid request"
	msgTooManyRequests   = "too many requests"
	msgInternal          = "internal server error"
	msgUpdateSuccess     = "update success"
	msgLoggedOut         = "successfully logged out"
	detailNotAuth        = "Not authenticated"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeEnvelope(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, Envelope{Code: code, Msg: msg})
}

func writeNotAuthenticated(w http.ResponseWriter) {
	writeJSON(w, http.StatusForbidden, DetailResponse{Detail: detailNotAuth})
}

func writeInvalidRequest(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusBadRequest, CodeBadRequest, msgInvalidRequest)
}

// writeInternalError logs err and sends a generic 500. The cause is never
// echoed to the client.
func (a *API) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	a.logger.ErrorContext(r.Context(), msg,
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	writeEnvelope(w, http.StatusInternalServerError, CodeInternal, msgInternal)
}

func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, authz.ErrUnauthenticated), errors.Is(err, authz.ErrInvalidToken):
		writeNotAuthenticated(w)
	case errors.Is(err, authz.ErrAccessDenied):
		writeEnvelope(w, http.StatusUnauthorized, CodeUnauthorized, msgAccessDenied)
	case errors.Is(err, account.ErrInvalidCredential):
		writeEnvelope(w, http.StatusUnauthorized, CodeUnauthorized, msgErrorPassword)
	case errors.Is(err, account.ErrEmailMismatch):
		writeEnvelope(w, http.StatusUnauthorized, CodeUnauthorized, msgInvalidEmail)
	case errors.Is(err, account.ErrPasswordMismatch):
		writeEnvelope(w, http.StatusBadRequest, CodeBadRequest, msgPasswordsMismatch)
	case errors.Is(err, account.ErrEmptyPassword):
		writeInvalidRequest(w)
	case errors.Is(err, account.ErrInvalidOriginPassword):
		writeEnvelope(w, http.StatusForbidden, CodeForbidden, msgInvalidPassword)
	default:
		a.writeInternalError(w, r, "request failed", err)
	}
}
