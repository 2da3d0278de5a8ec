// Package errors provides the code-based error taxonomy shared by the probe.
// Domain-level failures are carried as data by the aggregator and the auditor;
// only configuration and invariant errors are returned to callers.
package errors

// ErrorCode represents a unique identifier for each error type
type ErrorCode string

// Error represents a domain-specific error with context
type Error interface {
	error

	// Code returns the error code
	Code() ErrorCode

	// WithMessage returns a copy of the error with a custom message
	WithMessage(msg string) Error

	// WithData returns a copy of the error carrying additional data
	WithData(data any) Error

	// GetData returns the attached data, if any
	GetData() any

	// Unwrap returns the wrapped error
	Unwrap() error
}

// Factory creates Error values
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
