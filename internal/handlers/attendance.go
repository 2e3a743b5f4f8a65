package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/joyboy80/AttendanceTracker/internal/middleware"
	"github.com/joyboy80/AttendanceTracker/internal/models"
	"github.com/joyboy80/AttendanceTracker/internal/services"
)

// AssertionConsumer redeems the one-shot token issued after a biometric login.
type AssertionConsumer interface {
	ConsumeAssertion(ctx context.Context, userID uuid.UUID, token string) (bool, error)
}

type AttendanceHandler struct {
	attendance *services.AttendanceService
	location   *services.LocationVerifier
	users      services.UserGetter
	assertions AssertionConsumer
}

func NewAttendanceHandler(attendance *services.AttendanceService, location *services.LocationVerifier, users services.UserGetter, assertions AssertionConsumer) *AttendanceHandler {
	return &AttendanceHandler{
		attendance: attendance,
		location:   location,
		users:      users,
		assertions: assertions,
	}
}

type sessionResponse struct {
	*models.ClassSession
	Phase            models.SessionPhase `json:"phase"`
	IsActive         bool                `json:"is_active"`
	RemainingSeconds int64               `json:"remaining_seconds"`
}

func (h *AttendanceHandler) view(s *models.ClassSession) sessionResponse {
	now := h.attendance.Now()
	return sessionResponse{
		ClassSession:     s,
		Phase:            s.PhaseAt(now),
		IsActive:         s.IsActiveAt(now),
		RemainingSeconds: int64(s.RemainingAt(now) / time.Second),
	}
}

func (h *AttendanceHandler) views(sessions []models.ClassSession) []sessionResponse {
	out := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, h.view(&sessions[i]))
	}
	return out
}

func sessionIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, &services.ValidationError{Fields: map[string]string{"id": "Invalid session ID"}}
	}
	return id, nil
}

func (h *AttendanceHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateSessionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	username := middleware.GetUsername(r.Context())
	teacherName := username
	if h.users != nil {
		if u, err := h.users.GetByID(r.Context(), middleware.GetUserID(r.Context())); err == nil {
			teacherName = u.DisplayName()
		}
	}

	session, err := h.attendance.Generate(r.Context(), req.CourseCode, teacherName, username)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.view(session))
}

func (h *AttendanceHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	var req models.StartSessionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	session, err := h.attendance.Start(r.Context(), id, req.DurationSeconds, req.Location)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.view(session))
}

func (h *AttendanceHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.attendance.Pause)
}

func (h *AttendanceHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.attendance.Resume)
}

func (h *AttendanceHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.attendance.Stop)
}

func (h *AttendanceHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) (*models.ClassSession, error)) {
	id, err := sessionIDParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	session, err := op(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.view(session))
}

func (h *AttendanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	session, err := h.attendance.GetSession(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.view(session))
}

func (h *AttendanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	active, err := h.attendance.IsActive(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	remaining, err := h.attendance.RemainingTime(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":        id,
		"is_active":         active,
		"remaining_seconds": int64(remaining / time.Second),
	})
}

func (h *AttendanceHandler) Attendees(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	marks, err := h.attendance.GetAttendees(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"attendees": marks, "count": len(marks)})
}

func (h *AttendanceHandler) AttendeeDetails(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	details, err := h.attendance.GetAttendeesWithDetails(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"attendees": details, "count": len(details)})
}

func (h *AttendanceHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	id, err := sessionIDParam(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	stats, err := h.attendance.GetSessionStatistics(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *AttendanceHandler) CourseSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.attendance.ListSessionsForCourse(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.views(sessions))
}

func (h *AttendanceHandler) CourseActive(w http.ResponseWriter, r *http.Request) {
	session, err := h.attendance.ActiveSessionForCourse(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.studentView(session))
}

// StudentActive finds a running session in any course the caller is enrolled in.
func (h *AttendanceHandler) StudentActive(w http.ResponseWriter, r *http.Request) {
	session, err := h.attendance.ActiveSessionForStudent(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.studentView(session))
}

// studentView omits the access code; students must get it from the room.
func (h *AttendanceHandler) studentView(s *models.ClassSession) map[string]interface{} {
	v := h.view(s)
	return map[string]interface{}{
		"id":                s.ID,
		"course_code":       s.CourseCode,
		"teacher_name":      s.TeacherName,
		"phase":             v.Phase,
		"is_active":         v.IsActive,
		"remaining_seconds": v.RemainingSeconds,
		"location_label":    s.LocationLabel,
	}
}

// Mark records the caller as present after the optional location and
// biometric checks. Everything that can reject the request without side
// effects runs before the assertion token is spent, and the token is spent
// before the caller's position may become the session's reference point.
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	var req models.MarkAttendanceRequest
	if err := decodeAndValidate(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		handleServiceError(w, r, &services.ValidationError{Fields: map[string]string{
			"latitude": "Latitude and longitude must be sent together",
		}})
		return
	}

	ctx := r.Context()
	studentID := middleware.GetUserID(ctx)
	hasLocation := req.Latitude != nil && h.location != nil

	session, err := h.attendance.Markable(ctx, req.AccessCode)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	marked, err := h.attendance.AlreadyMarked(ctx, session.ID, studentID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if marked {
		handleServiceError(w, r, services.ErrAlreadyMarked)
		return
	}
	if hasLocation {
		if verdict := h.location.Precheck(session, *req.Latitude, *req.Longitude); verdict != nil && !verdict.Verified {
			handleServiceError(w, r, &services.ForbiddenError{Message: verdict.Message})
			return
		}
	}

	markReq := services.MarkRequest{
		AccessCode: req.AccessCode,
		StudentID:  studentID,
		CourseCode: req.CourseCode,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
	}

	if req.AssertionToken != "" && h.assertions != nil {
		// The session may have closed while the checks above ran.
		if _, err := h.attendance.Markable(ctx, req.AccessCode); err != nil {
			handleServiceError(w, r, err)
			return
		}
		ok, err := h.assertions.ConsumeAssertion(ctx, studentID, req.AssertionToken)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if !ok {
			handleServiceError(w, r, &services.UnauthorizedError{Message: "Biometric verification expired or was already used. Please verify again."})
			return
		}
		markReq.BiometricVerified = true
	}

	if hasLocation {
		verdict, err := h.location.Verify(ctx, req.AccessCode, *req.Latitude, *req.Longitude)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if !verdict.Verified {
			handleServiceError(w, r, &services.ForbiddenError{Message: verdict.Message})
			return
		}
		distance := verdict.DistanceMeters
		markReq.DistanceMeters = &distance
	}

	mark, err := h.attendance.Mark(ctx, markReq)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Attendance marked successfully",
		"mark":    mark,
	})
}

func (h *AttendanceHandler) VerifyLocation(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyLocationRequest
	if err := decodeAndValidate(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	verdict, err := h.location.Verify(r.Context(), req.AccessCode, req.Latitude, req.Longitude)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}
