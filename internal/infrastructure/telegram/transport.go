package telegram

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/devilmonastery/passgate/internal/pkg/metrics"
)

// metricsTransport wraps an http.RoundTripper to collect metrics on Bot API calls
type metricsTransport struct {
	base http.RoundTripper
}

// NewMetricsTransport creates a transport wrapper that collects metrics for all
// Telegram Bot API calls. Install it on the client handed to the bot API.
func NewMetricsTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &metricsTransport{base: base}
}

// RoundTrip implements http.RoundTripper
func (t *metricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !isTelegramAPIRequest(req) {
		return t.base.RoundTrip(req)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	method := apiMethod(req.URL.Path)

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}

	metrics.TelegramAPICalls.WithLabelValues(req.Method, method, strconv.Itoa(statusCode)).Inc()
	metrics.TelegramAPIDuration.WithLabelValues(method).Observe(float64(duration.Milliseconds()))

	if err != nil || statusCode >= 400 {
		metrics.TelegramAPIErrors.WithLabelValues(method, classifyError(statusCode, err)).Inc()
	}

	return resp, err
}

// isTelegramAPIRequest checks if the request is going to the Bot API
func isTelegramAPIRequest(req *http.Request) bool {
	return strings.HasSuffix(req.URL.Host, "api.telegram.org")
}

// apiMethod extracts the Bot API method from /bot<token>/<method>.
// The token segment is dropped so it never becomes a label value.
func apiMethod(path string) string {
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "bot") {
		if strings.HasPrefix(path, "file/") {
			return "file"
		}
		return "unknown"
	}
	method := parts[len(parts)-1]
	if method == "" {
		return "unknown"
	}
	return method
}

// classifyError categorizes Bot API errors for metrics
func classifyError(statusCode int, err error) string {
	if err != nil {
		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
			return "timeout"
		case strings.Contains(errStr, "connection"):
			return "connection"
		case strings.Contains(errStr, "TLS") || strings.Contains(errStr, "tls"):
			return "tls"
		default:
			return "network"
		}
	}

	switch {
	case statusCode == 400:
		return "bad_request"
	case statusCode == 401:
		return "unauthorized"
	case statusCode == 403:
		return "forbidden" // bot blocked by the user
	case statusCode == 404:
		return "not_found"
	case statusCode == 409:
		return "conflict" // another getUpdates consumer
	case statusCode == 429:
		return "rate_limited"
	case statusCode >= 500:
		return "server_error"
	case statusCode >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}
