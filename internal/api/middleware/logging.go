package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// quietPaths are polled by probes and scrapers and only logged at debug level
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
	"/status":  true,
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Logging middleware logs HTTP requests
func Logging(next http.Handler, logger *logrus.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		entry := logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		})
		switch {
		case wrapped.statusCode >= http.StatusInternalServerError:
			entry.Warn("HTTP request failed")
		case quietPaths[r.URL.Path]:
			entry.Debug("HTTP request")
		default:
			entry.Info("HTTP request")
		}
	})
}
