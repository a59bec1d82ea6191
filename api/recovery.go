package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recover turns a handler panic into the generic 500 envelope and logs the
// stack. http.ErrAbortHandler is re-raised so net/http can abort the
// connection as intended.
func (a *API) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			a.logger.ErrorContext(r.Context(), "handler panic",
				slog.String("path", r.URL.Path),
				slog.String("panic", fmt.Sprint(rec)),
				slog.String("stack", string(debug.Stack())))
			writeEnvelope(w, http.StatusInternalServerError, CodeInternal, msgInternal)
		}()
		next.ServeHTTP(w, r)
	})
}
