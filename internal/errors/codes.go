package errors

// Taxonomy codes
const (
	// Capability not supported on this host. Expected, never logged as an error.
	ErrUnavailable ErrorCode = "capability_unavailable"

	// Collector exceeded its bound.
	ErrTimeout ErrorCode = "collector_timeout"

	// Retryable read failure, e.g. a momentarily locked OS resource.
	ErrTransient ErrorCode = "transient_read_failure"

	// Invalid parameters, rejected before any work starts.
	ErrFatalConfig ErrorCode = "fatal_config"

	// Stress worker crashed.
	ErrWorkerFailure ErrorCode = "worker_failure"

	// Stress worker ignored cancellation past the grace period.
	ErrForcedStop ErrorCode = "forced_stop"

	// Garbled fragment or broken internal invariant.
	ErrInvariant ErrorCode = "invariant_violation"

	ErrRunNotFound    ErrorCode = "stress_run_not_found"
	ErrInvalidRuleSet ErrorCode = "invalid_rule_set"
	ErrCollectFailed  ErrorCode = "collect_failed"
	ErrReportWrite    ErrorCode = "report_write_failed"
)

var errorMessages = map[ErrorCode]string{
	ErrUnavailable:    "Capability unavailable",
	ErrTimeout:        "Collector timed out",
	ErrTransient:      "Transient read failure",
	ErrFatalConfig:    "Invalid configuration",
	ErrWorkerFailure:  "Stress worker failed",
	ErrForcedStop:     "forced-stop",
	ErrInvariant:      "Invariant violation",
	ErrRunNotFound:    "Stress run not found",
	ErrInvalidRuleSet: "Invalid audit rule set",
	ErrCollectFailed:  "Collection failed",
	ErrReportWrite:    "Failed to write report",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
