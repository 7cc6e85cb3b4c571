package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/metrics"
)

// RequestLogger logs each request at Info level with method, path, status
// and duration, and records the same fields into the HTTP request metrics.
func RequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			status := strconv.Itoa(ww.Status())

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("status", status).
				Dur("duration", duration).
				Str("remote_addr", r.RemoteAddr).
				Msg("http request")

			metrics.RecordHTTPRequest(r.Method, r.URL.Path, status, duration.Seconds())
		})
	}
}
