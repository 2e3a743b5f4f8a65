package models

import "github.com/google/uuid"

// WebSocket message types
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// SessionEvent is published whenever a session changes or a student is marked.
type SessionEvent struct {
	SessionID uuid.UUID       `json:"session_id"`
	Phase     SessionPhase    `json:"phase"`
	Remaining int64           `json:"remaining_seconds"`
	Mark      *AttendanceMark `json:"mark,omitempty"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
