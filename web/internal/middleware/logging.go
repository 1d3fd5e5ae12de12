package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/devilmonastery/passgate/internal/pkg/logger"
	"github.com/devilmonastery/passgate/internal/pkg/metrics"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// requestInfo is filled by inner handlers so the access log can name the user
type requestInfo struct {
	login string
}

func setLogin(ctx context.Context, login string) {
	if info, ok := ctx.Value(requestInfoKey).(*requestInfo); ok {
		info.login = login
	}
}

// LogRequest logs HTTP requests through slog and records request metrics.
// Installed with router.Use, so the matched route template is known.
func LogRequest(next http.Handler) http.Handler {
	log := slog.Default().With(slog.String("component", "http"))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip logging health checks and static files to reduce noise
		if r.URL.Path == "/health" || isStaticFile(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		info := &requestInfo{}
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // default if WriteHeader not called
		}

		next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), requestInfoKey, info)))

		duration := time.Since(start)
		route := routeName(r)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(float64(duration.Milliseconds()))

		reqLog := logger.WithDuration(logger.WithHTTPRequest(log, r.Method, r.URL.Path), duration)
		if info.login != "" {
			reqLog = logger.WithLogin(reqLog, info.login)
		}
		attrs := []any{
			slog.Int("status", wrapped.statusCode),
			slog.Int64("bytes", wrapped.written),
			slog.String("client_ip", clientIP(r)),
			slog.String("user_agent", r.UserAgent()),
		}

		switch {
		case wrapped.statusCode >= 500:
			reqLog.Error("request", attrs...)
		case wrapped.statusCode >= 400:
			reqLog.Warn("request", attrs...)
		default:
			reqLog.Info("request", attrs...)
		}
	})
}

// routeName returns the mux path template, keeping metric label cardinality bounded
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// clientIP prefers proxy headers over the socket address
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// isStaticFile checks if the path is a static file request
func isStaticFile(path string) bool {
	return strings.HasPrefix(path, "/static/")
}
