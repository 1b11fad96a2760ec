package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// knownRoutes are reported under their own path label; everything else
// collapses into "other" so scanners cannot blow up label cardinality.
var knownRoutes = map[string]bool{
	"/soup":    true,
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

func normalizePath(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// Unwrap returns the underlying writer.
func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// It captures duration, request/response sizes, and request counts.
// Health check endpoints (/health, /ready) are excluded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			requestSize := int64(0)
			if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
				if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
					requestSize = size
				}
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
