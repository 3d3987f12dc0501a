package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/dukerupert/orderflow/internal/telemetry"
)

// Recover turns a handler panic into a 500 and reports it to Sentry.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				GetLogger(r.Context()).Error("panic recovered",
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				telemetry.CaptureError(fmt.Errorf("http handler panic: %v", rec), map[string]interface{}{
					"path":       r.URL.Path,
					"method":     r.Method,
					"request_id": GetRequestID(r.Context()),
				})
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
