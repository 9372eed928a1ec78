package middleware

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/predictattest/internal/metrics"
)

// Metrics records request count and latency. A nil m passes requests through.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			m.ObserveHTTP(r.Method, rw.status, time.Since(start))
		})
	}
}
