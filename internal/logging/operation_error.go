package logging

import "fmt"

// OperationError tags an infrastructure failure (cache, audit log, remote
// scorer) with the step that failed and, for request-scoped work, the browser
// session it failed for. The usecase and handlers log it as-is. Callers
// branch on the wrapped error via errors.Is/As.
type OperationError struct {
	Operation string
	SessionID string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.SessionID == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s [session %s]: %v", e.Operation, e.SessionID, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError returns nil for a nil err, so retry loops can wrap the
// result of every attempt unconditionally.
func NewOperationError(operation, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, SessionID: sessionID, Err: err}
}
