package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionActive SessionStatus = "ACTIVE"
	SessionEnded  SessionStatus = "ENDED"
)

// SessionPhase is derived from the stored fields and never persisted.
type SessionPhase string

const (
	PhaseRunning SessionPhase = "RUNNING"
	PhasePaused  SessionPhase = "PAUSED"
	PhaseExpired SessionPhase = "EXPIRED"
	PhaseEnded   SessionPhase = "ENDED"
)

const MarkPresent = "PRESENT"

type ClassSession struct {
	ID              uuid.UUID     `json:"id"`
	CourseCode      string        `json:"course_code"`
	AccessCode      string        `json:"access_code"`
	TeacherName     string        `json:"teacher_name"`
	TeacherUsername string        `json:"teacher_username"`
	StartedAt       time.Time     `json:"started_at"`
	DurationSeconds int           `json:"duration_seconds"`
	ExpiresAt       *time.Time    `json:"expires_at"`
	Status          SessionStatus `json:"status"`
	Armed           bool          `json:"armed"`
	RemainingMS     *int64        `json:"remaining_ms,omitempty"`
	Latitude        *float64      `json:"latitude,omitempty"`
	Longitude       *float64      `json:"longitude,omitempty"`
	LocationLabel   *string       `json:"location_label,omitempty"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Provisional reports whether the teacher has not committed a duration yet;
// the session only carries the discovery window set at generation.
func (s *ClassSession) Provisional() bool {
	return s.DurationSeconds == 0
}

func (s *ClassSession) PhaseAt(now time.Time) SessionPhase {
	switch {
	case s.Status == SessionEnded:
		return PhaseEnded
	case !s.Armed:
		return PhasePaused
	case s.ExpiresAt == nil || !now.Before(*s.ExpiresAt):
		return PhaseExpired
	default:
		return PhaseRunning
	}
}

func (s *ClassSession) IsActiveAt(now time.Time) bool {
	return s.PhaseAt(now) == PhaseRunning
}

// RemainingAt is zero unless the countdown is running.
func (s *ClassSession) RemainingAt(now time.Time) time.Duration {
	if !s.IsActiveAt(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

func (s *ClassSession) PausedRemaining() time.Duration {
	if s.RemainingMS == nil {
		return 0
	}
	return time.Duration(*s.RemainingMS) * time.Millisecond
}

func (s *ClassSession) HasReferencePoint() bool {
	return s.Latitude != nil && s.Longitude != nil
}

type AttendanceMark struct {
	ID                uuid.UUID `json:"id"`
	StudentID         uuid.UUID `json:"student_id"`
	CourseCode        string    `json:"course_code"`
	SessionID         uuid.UUID `json:"session_id"`
	AccessCode        string    `json:"access_code"`
	MarkedAt          time.Time `json:"marked_at"`
	Status            string    `json:"status"`
	Latitude          *float64  `json:"latitude,omitempty"`
	Longitude         *float64  `json:"longitude,omitempty"`
	DistanceMeters    *float64  `json:"distance_meters,omitempty"`
	BiometricVerified bool      `json:"biometric_verified"`
}

// AttendeeDetail is a mark joined with the student's directory entry.
type AttendeeDetail struct {
	AttendanceMark
	StudentName  string     `json:"student_name"`
	RollNumber   string     `json:"roll_number"`
	SessionStart time.Time  `json:"session_start"`
	SessionEnd   *time.Time `json:"session_end"`
}

type SessionStatistics struct {
	SessionID        uuid.UUID    `json:"session_id"`
	CourseCode       string       `json:"course_code"`
	SessionStart     time.Time    `json:"session_start"`
	SessionEnd       *time.Time   `json:"session_end"`
	AccessCode       string       `json:"access_code"`
	TotalAttendees   int          `json:"total_attendees"`
	IsActive         bool         `json:"is_active"`
	RemainingSeconds int64        `json:"remaining_seconds"`
	PausedRemaining  int64        `json:"paused_remaining_seconds"`
	Phase            SessionPhase `json:"phase"`
}

type Location struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
	Label     string  `json:"label" validate:"max=200"`
}

type GenerateSessionRequest struct {
	CourseCode string `json:"course_code" validate:"required,max=32"`
}

type StartSessionRequest struct {
	DurationSeconds int       `json:"duration_seconds" validate:"required,gt=0"`
	Location        *Location `json:"location"`
}

type MarkAttendanceRequest struct {
	AccessCode     string   `json:"access_code" validate:"required"`
	CourseCode     string   `json:"course_code" validate:"max=32"`
	Latitude       *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude      *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	AssertionToken string   `json:"assertion_token"`
}

type VerifyLocationRequest struct {
	AccessCode string  `json:"access_code" validate:"required"`
	Latitude   float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

type LocationVerdict struct {
	Verified       bool      `json:"verified"`
	Message        string    `json:"message"`
	DistanceMeters float64   `json:"distance_meters"`
	AllowedRadius  float64   `json:"allowed_radius_meters"`
	Reference      *Location `json:"reference,omitempty"`
}
