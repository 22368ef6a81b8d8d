package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// probePaths are logged at debug level so orchestrator probes don't flood the log
var probePaths = map[string]bool{"/health": true, "/ready": true, "/live": true}

// Logger returns a middleware that logs HTTP requests
func Logger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()

				logFn := logger.Info
				switch {
				case status >= 500:
					logFn = logger.Error
				case status >= 400:
					logFn = logger.Warn
				case probePaths[r.URL.Path] || strings.HasPrefix(r.URL.Path, "/ws"):
					logFn = logger.Debug
				}

				logFn("[HTTP] request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"duration", time.Since(start),
					"bytes", ww.BytesWritten(),
					"remote_addr", r.RemoteAddr,
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
