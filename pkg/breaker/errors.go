package breaker

import "errors"

// ErrBreakerOpen is returned when admission is denied; the operation was
// never invoked.
var ErrBreakerOpen = errors.New("breaker: open, call rejected")

// OperationError wraps an error raised by the wrapped operation. The cause
// is propagated verbatim via Unwrap.
type OperationError struct {
	Cause error
}

func (e *OperationError) Error() string {
	return "breaker: operation failed: " + e.Cause.Error()
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}
