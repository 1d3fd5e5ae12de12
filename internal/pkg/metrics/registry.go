package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Database/Repository Metrics
var (
	// DBOperations tracks total database operations
	DBOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_db_operations_total",
			Help: "Total database operations by repository, operation, and status",
		},
		[]string{"repo", "operation", "status"},
	)

	// DBDuration tracks database operation latency
	DBDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "passgate_db_operation_duration_ms",
			Help:                            "Database operation duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"repo", "operation"},
	)

	// DBErrors tracks database errors by type
	DBErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_db_errors_total",
			Help: "Total database errors by repository, operation, and error type",
		},
		[]string{"repo", "operation", "error_type"},
	)
)

// Verification flow metrics
var (
	// TokensIssued counts challenge tokens handed out, by kind (bind, reset) and destination
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_tokens_issued_total",
			Help: "Challenge tokens issued by kind and destination",
		},
		[]string{"kind", "destination"},
	)

	// TokenVerifications counts verification attempts by kind and result
	TokenVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_token_verifications_total",
			Help: "Challenge token verifications by kind and result",
		},
		[]string{"kind", "result"},
	)

	// OTPVerifications counts TOTP checks by purpose (commit, reset) and result
	OTPVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_otp_verifications_total",
			Help: "TOTP verifications by purpose and result",
		},
		[]string{"purpose", "result"},
	)

	// PasswordResets counts completed reset attempts by destination and result
	PasswordResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_password_resets_total",
			Help: "Password reset submissions by destination and result",
		},
		[]string{"destination", "result"},
	)

	// DirectoryOperations tracks calls into the LDAP directory
	DirectoryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_directory_operations_total",
			Help: "Directory operations by operation and status",
		},
		[]string{"operation", "status"},
	)
)

// HTTP Metrics (Web Server)
var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_http_requests_total",
			Help: "Total HTTP requests by method, route, and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "passgate_http_request_duration_ms",
			Help:                            "HTTP request duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"method", "route"},
	)
)

// Telegram Metrics (Bot)
var (
	// TelegramAPICalls tracks calls to the Bot API by method and HTTP status
	TelegramAPICalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_telegram_api_calls_total",
			Help: "Total Telegram Bot API calls by method and status code",
		},
		[]string{"http_method", "api_method", "status"},
	)

	TelegramAPIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:                            "passgate_telegram_api_duration_ms",
			Help:                            "Telegram Bot API call duration in milliseconds",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 1 * time.Hour,
		},
		[]string{"api_method"},
	)

	TelegramAPIErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_telegram_api_errors_total",
			Help: "Telegram Bot API errors by method and error type",
		},
		[]string{"api_method", "error_type"},
	)

	// BotUpdates counts inbound updates by kind (command, text, callback, ignored)
	BotUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_bot_updates_total",
			Help: "Inbound Telegram updates by kind",
		},
		[]string{"kind"},
	)

	// ConversationTransitions counts chat state machine transitions
	ConversationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgate_conversation_transitions_total",
			Help: "Chat binding state machine transitions by source and target state",
		},
		[]string{"from", "to"},
	)

	// ActiveConversations tracks chats with live conversation state
	ActiveConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "passgate_active_conversations",
			Help: "Number of chats with conversation state held in memory",
		},
	)
)
