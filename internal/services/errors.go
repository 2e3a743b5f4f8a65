package services

// Custom errors
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

type RateLimitError struct{ Message string }

func (e *RateLimitError) Error() string { return e.Message }

// SessionStateError rejects an operation because of where the session is in
// its lifecycle. Values are sentinels and compare with errors.Is.
type SessionStateError struct {
	Code    string
	Message string
}

func (e *SessionStateError) Error() string { return e.Message }

var (
	ErrInvalidCode = &SessionStateError{Code: "INVALID_CODE", Message: "Invalid attendance code"}
	ErrNotActive   = &SessionStateError{Code: "SESSION_NOT_ACTIVE", Message: "Attendance session is not active"}
	// ErrNotStarted shares the not-active code: pausing a session whose
	// countdown was never committed is a not-active condition for clients.
	ErrNotStarted      = &SessionStateError{Code: "SESSION_NOT_ACTIVE", Message: "Attendance session has not been started"}
	ErrPaused          = &SessionStateError{Code: "SESSION_PAUSED", Message: "Attendance session is paused"}
	ErrExpired         = &SessionStateError{Code: "SESSION_EXPIRED", Message: "Attendance session has expired"}
	ErrNotYetStarted   = &SessionStateError{Code: "SESSION_NOT_STARTED", Message: "Attendance session has not started yet"}
	ErrAlreadyMarked   = &SessionStateError{Code: "ALREADY_MARKED", Message: "Attendance already marked for this session"}
	ErrAlreadyExpired  = &SessionStateError{Code: "ALREADY_EXPIRED", Message: "Attendance session has already expired"}
	ErrNothingToResume = &SessionStateError{Code: "NOTHING_TO_RESUME", Message: "Attendance session has no paused time to resume"}

	ErrSessionNotFound = &NotFoundError{Message: "Attendance session not found"}
	ErrNoActiveSession = &NotFoundError{Message: "No active attendance session"}
	ErrCourseNotFound  = &NotFoundError{Message: "Course not found"}
)
