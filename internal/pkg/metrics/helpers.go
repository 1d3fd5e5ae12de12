package metrics

import (
	"strings"
	"time"
)

// RecordDBOperation records database operation metrics consistently
// repo: repository name (e.g., "identity", "browser_session", "audit")
// operation: operation name (e.g., "create", "get_by_login", "update")
// err: error from the operation (nil if successful)
func RecordDBOperation(repo, operation string, duration time.Duration, err error) {
	DBDuration.WithLabelValues(repo, operation).Observe(float64(duration.Milliseconds()))

	status := "success"
	if err != nil {
		status = "error"
		DBErrors.WithLabelValues(repo, operation, classifyDBError(err)).Inc()
	}
	DBOperations.WithLabelValues(repo, operation, status).Inc()
}

// RecordDirectoryOperation records the outcome of a directory call
func RecordDirectoryOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DirectoryOperations.WithLabelValues(operation, status).Inc()
}

// Result maps a boolean outcome to the label used by verification counters
func Result(ok bool) string {
	if ok {
		return "match"
	}
	return "mismatch"
}

// classifyDBError categorizes database errors for metrics
func classifyDBError(err error) string {
	if err == nil {
		return "none"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "duplicate") || strings.Contains(errStr, "unique constraint"):
		return "duplicate"
	case strings.Contains(errStr, "not found") || strings.Contains(errStr, "no rows"):
		return "not_found"
	case strings.Contains(errStr, "version conflict"):
		return "conflict"
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return "timeout"
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "connect"):
		return "connection"
	case strings.Contains(errStr, "constraint"):
		return "constraint"
	default:
		return "other"
	}
}
