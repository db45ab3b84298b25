package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/sdkqual/internal/api/response"
)

// Recovery turns a handler panic into a 500. If the handler already started
// its response the panic is only logged. http.ErrAbortHandler is re-raised so
// net/http can drop the connection quietly.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := track(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			slog.Error("panic recovered",
				"error", rec,
				"stack", string(debug.Stack()),
				"request_id", GetRequestID(r),
				"method", r.Method,
				"path", r.URL.Path,
				"response_started", tw.started(),
			)
			if tw.started() {
				return
			}
			response.Error(tw, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(tw, r)
	})
}
