package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joyboy80/AttendanceTracker/internal/models"
	"github.com/joyboy80/AttendanceTracker/internal/repository"
)

const (
	DefaultMaxDuration       = 120 * time.Second
	DefaultProvisionalWindow = 10 * time.Minute

	maxCodeAttempts = 3

	unknownStudentName = "Unknown Student"
	unknownRollNumber  = "N/A"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

type SessionStore interface {
	Create(ctx context.Context, s *models.ClassSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ClassSession, error)
	GetByAccessCode(ctx context.Context, code string) (*models.ClassSession, error)
	GetLatestByCourse(ctx context.Context, courseCode string) (*models.ClassSession, error)
	ListByCourse(ctx context.Context, courseCode string) ([]models.ClassSession, error)
	UpdateTiming(ctx context.Context, s *models.ClassSession) error
	End(ctx context.Context, id uuid.UUID, at time.Time) (*models.ClassSession, error)
	SetReferencePoint(ctx context.Context, id uuid.UUID, lat, lng float64, label string) (bool, error)
}

type MarkStore interface {
	Insert(ctx context.Context, m *models.AttendanceMark) error
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
	HasMarked(ctx context.Context, sessionID, studentID uuid.UUID) (bool, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceMark, error)
}

type CourseLookup interface {
	GetByCode(ctx context.Context, code string) (*models.Course, error)
	EnrolledCourseCodes(ctx context.Context, userID uuid.UUID) ([]string, error)
}

type UserLookup interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error)
}

type SessionPublisher interface {
	Publish(ctx context.Context, event models.SessionEvent)
}

// AttendanceOptions carries the optional collaborators. Nil lookups disable
// the checks that need them.
type AttendanceOptions struct {
	MaxDuration       time.Duration
	ProvisionalWindow time.Duration
	Courses           CourseLookup
	Users             UserLookup
	Events            SessionPublisher
	Clock             Clock
	NewAccessCode     func() string
}

// AttendanceService owns the session lifecycle. Expiry is evaluated lazily
// against the clock; there are no timers.
type AttendanceService struct {
	sessions          SessionStore
	marks             MarkStore
	courses           CourseLookup
	users             UserLookup
	events            SessionPublisher
	clock             Clock
	newAccessCode     func() string
	maxDuration       time.Duration
	provisionalWindow time.Duration
}

func NewAttendanceService(sessions SessionStore, marks MarkStore, opts AttendanceOptions) *AttendanceService {
	s := &AttendanceService{
		sessions:          sessions,
		marks:             marks,
		courses:           opts.Courses,
		users:             opts.Users,
		events:            opts.Events,
		clock:             opts.Clock,
		newAccessCode:     opts.NewAccessCode,
		maxDuration:       opts.MaxDuration,
		provisionalWindow: opts.ProvisionalWindow,
	}
	if s.clock == nil {
		s.clock = RealClock{}
	}
	if s.newAccessCode == nil {
		s.newAccessCode = func() string { return uuid.NewString() }
	}
	if s.maxDuration < time.Second {
		s.maxDuration = DefaultMaxDuration
	}
	if s.provisionalWindow <= 0 {
		s.provisionalWindow = DefaultProvisionalWindow
	}
	return s
}

func (s *AttendanceService) MaxDuration() time.Duration { return s.maxDuration }

func (s *AttendanceService) Now() time.Time { return s.clock.Now() }

// Generate opens a session with a fresh access code. Until Start commits a
// duration the code is valid for the provisional window only.
func (s *AttendanceService) Generate(ctx context.Context, courseCode, teacherName, teacherUsername string) (*models.ClassSession, error) {
	courseCode = strings.TrimSpace(courseCode)
	if courseCode == "" {
		return nil, &ValidationError{Fields: map[string]string{"course_code": "Course code is required"}}
	}

	if s.courses != nil {
		if _, err := s.courses.GetByCode(ctx, courseCode); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrCourseNotFound
			}
			return nil, fmt.Errorf("failed to look up course: %w", err)
		}
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.provisionalWindow)

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		session := &models.ClassSession{
			CourseCode:      courseCode,
			AccessCode:      s.newAccessCode(),
			TeacherName:     teacherName,
			TeacherUsername: teacherUsername,
			StartedAt:       now,
			ExpiresAt:       &expiresAt,
			Status:          models.SessionActive,
			Armed:           true,
		}

		err := s.sessions.Create(ctx, session)
		if err == nil {
			log.Printf("[attendance] session %s generated for %s by %s", session.ID, courseCode, teacherUsername)
			s.publish(ctx, session, nil)
			return session, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		log.Printf("[attendance] access code collision on attempt %d for %s", attempt, courseCode)
	}

	return nil, fmt.Errorf("failed to allocate a unique access code after %d attempts", maxCodeAttempts)
}

// Start commits the countdown. Marks taken during the provisional window stay
// valid because the start instant is kept once anyone has marked.
func (s *AttendanceService) Start(ctx context.Context, sessionID uuid.UUID, durationSeconds int, loc *models.Location) (*models.ClassSession, error) {
	if durationSeconds <= 0 {
		return nil, &ValidationError{Fields: map[string]string{"duration_seconds": "Duration must be a positive number of seconds"}}
	}

	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, ErrNotActive
	}

	now := s.clock.Now()

	marked, err := s.marks.CountBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count marks: %w", err)
	}
	if marked == 0 {
		session.StartedAt = now
	}

	duration := time.Duration(durationSeconds) * time.Second
	if duration > s.maxDuration {
		duration = s.maxDuration
	}
	expiresAt := session.StartedAt.Add(duration)

	session.DurationSeconds = int(duration / time.Second)
	session.ExpiresAt = &expiresAt
	session.Armed = true
	session.RemainingMS = nil

	if loc != nil {
		lat, lng := loc.Latitude, loc.Longitude
		session.Latitude = &lat
		session.Longitude = &lng
		if loc.Label != "" {
			label := loc.Label
			session.LocationLabel = &label
		}
	}

	if err := s.sessions.UpdateTiming(ctx, session); err != nil {
		return nil, s.timingErr(err)
	}

	log.Printf("[attendance] session %s started for %ds (kept start: %t)", session.ID, session.DurationSeconds, marked > 0)
	s.publish(ctx, session, nil)
	return session, nil
}

type MarkRequest struct {
	AccessCode        string
	StudentID         uuid.UUID
	CourseCode        string
	Latitude          *float64
	Longitude         *float64
	DistanceMeters    *float64
	BiometricVerified bool
}

// Markable returns the session behind code when a mark would currently be
// accepted for it. The checks run in a fixed order so that a client always
// sees the most fundamental reason first.
func (s *AttendanceService) Markable(ctx context.Context, code string) (*models.ClassSession, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidCode
	}

	session, err := s.sessions.GetByAccessCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	now := s.clock.Now()
	switch {
	case session.Status != models.SessionActive:
		return nil, ErrNotActive
	case !session.Armed:
		return nil, ErrPaused
	case session.ExpiresAt == nil || !now.Before(*session.ExpiresAt):
		return nil, ErrExpired
	case now.Before(session.StartedAt):
		return nil, ErrNotYetStarted
	}
	return session, nil
}

// AlreadyMarked reports whether the student holds a mark for the session.
// The store's uniqueness in Mark still decides races.
func (s *AttendanceService) AlreadyMarked(ctx context.Context, sessionID, studentID uuid.UUID) (bool, error) {
	marked, err := s.marks.HasMarked(ctx, sessionID, studentID)
	if err != nil {
		return false, fmt.Errorf("failed to check attendance: %w", err)
	}
	return marked, nil
}

// Mark records the student as present. The store's uniqueness on
// (student, session) turns concurrent duplicates into ErrAlreadyMarked.
func (s *AttendanceService) Mark(ctx context.Context, req MarkRequest) (*models.AttendanceMark, error) {
	session, err := s.Markable(ctx, req.AccessCode)
	if err != nil {
		return nil, err
	}

	courseCode := strings.TrimSpace(req.CourseCode)
	if courseCode == "" {
		courseCode = session.CourseCode
	}

	mark := &models.AttendanceMark{
		StudentID:         req.StudentID,
		CourseCode:        courseCode,
		SessionID:         session.ID,
		AccessCode:        session.AccessCode,
		MarkedAt:          s.clock.Now(),
		Status:            models.MarkPresent,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
		DistanceMeters:    req.DistanceMeters,
		BiometricVerified: req.BiometricVerified,
	}

	if err := s.marks.Insert(ctx, mark); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyMarked
		}
		return nil, fmt.Errorf("failed to record attendance: %w", err)
	}

	s.publish(ctx, session, mark)
	return mark, nil
}

func (s *AttendanceService) Pause(ctx context.Context, sessionID uuid.UUID) (*models.ClassSession, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, ErrNotActive
	}
	if !session.Armed {
		return nil, ErrPaused
	}
	if session.Provisional() || session.ExpiresAt == nil {
		return nil, ErrNotStarted
	}

	remaining := session.ExpiresAt.Sub(s.clock.Now()).Milliseconds()
	if remaining <= 0 {
		return nil, ErrAlreadyExpired
	}

	session.Armed = false
	session.RemainingMS = &remaining

	if err := s.sessions.UpdateTiming(ctx, session); err != nil {
		return nil, s.timingErr(err)
	}

	log.Printf("[attendance] session %s paused with %dms left", session.ID, remaining)
	s.publish(ctx, session, nil)
	return session, nil
}

func (s *AttendanceService) Resume(ctx context.Context, sessionID uuid.UUID) (*models.ClassSession, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, ErrNotActive
	}
	remaining := session.PausedRemaining()
	if remaining <= 0 {
		return nil, ErrNothingToResume
	}

	expiresAt := s.clock.Now().Add(remaining)
	session.ExpiresAt = &expiresAt
	session.Armed = true
	session.RemainingMS = nil

	if err := s.sessions.UpdateTiming(ctx, session); err != nil {
		return nil, s.timingErr(err)
	}

	log.Printf("[attendance] session %s resumed until %s", session.ID, expiresAt.Format(time.RFC3339))
	s.publish(ctx, session, nil)
	return session, nil
}

// Stop ends the session for good. Stopping twice keeps the first end time.
func (s *AttendanceService) Stop(ctx context.Context, sessionID uuid.UUID) (*models.ClassSession, error) {
	session, err := s.sessions.End(ctx, sessionID, s.clock.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to stop session: %w", err)
	}

	log.Printf("[attendance] session %s stopped", session.ID)
	s.publish(ctx, session, nil)
	return session, nil
}

func (s *AttendanceService) GetSession(ctx context.Context, sessionID uuid.UUID) (*models.ClassSession, error) {
	return s.load(ctx, sessionID)
}

func (s *AttendanceService) IsActive(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return session.IsActiveAt(s.clock.Now()), nil
}

// RemainingTime is zero whenever the countdown is not running, paused included.
func (s *AttendanceService) RemainingTime(ctx context.Context, sessionID uuid.UUID) (time.Duration, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return session.RemainingAt(s.clock.Now()), nil
}

func (s *AttendanceService) GetAttendees(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceMark, error) {
	if _, err := s.load(ctx, sessionID); err != nil {
		return nil, err
	}
	marks, err := s.marks.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendees: %w", err)
	}
	return marks, nil
}

// GetAttendeesWithDetails lists the marks that fall inside the session's
// window and carry its access code. An unknown session yields an empty list.
func (s *AttendanceService) GetAttendeesWithDetails(ctx context.Context, sessionID uuid.UUID) ([]models.AttendeeDetail, error) {
	details := make([]models.AttendeeDetail, 0)

	session, err := s.load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return details, nil
		}
		return nil, err
	}

	marks, err := s.marks.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendees: %w", err)
	}

	windowEnd := sessionWindowEnd(session)
	valid := make([]models.AttendanceMark, 0, len(marks))
	ids := make([]uuid.UUID, 0, len(marks))
	for _, m := range marks {
		if m.AccessCode != session.AccessCode || m.MarkedAt.Before(session.StartedAt) {
			continue
		}
		if windowEnd != nil && m.MarkedAt.After(*windowEnd) {
			continue
		}
		valid = append(valid, m)
		ids = append(ids, m.StudentID)
	}
	if len(valid) == 0 {
		return details, nil
	}

	users := map[uuid.UUID]*models.User{}
	if s.users != nil {
		users, err = s.users.GetByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load students: %w", err)
		}
	}

	for _, m := range valid {
		d := models.AttendeeDetail{
			AttendanceMark: m,
			StudentName:    unknownStudentName,
			RollNumber:     unknownRollNumber,
			SessionStart:   session.StartedAt,
			SessionEnd:     windowEnd,
		}
		if u, ok := users[m.StudentID]; ok {
			d.StudentName = u.DisplayName()
			d.RollNumber = u.Username
		}
		details = append(details, d)
	}
	return details, nil
}

func (s *AttendanceService) GetSessionStatistics(ctx context.Context, sessionID uuid.UUID) (*models.SessionStatistics, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	attendees, err := s.GetAttendeesWithDetails(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	return &models.SessionStatistics{
		SessionID:        session.ID,
		CourseCode:       session.CourseCode,
		SessionStart:     session.StartedAt,
		SessionEnd:       sessionWindowEnd(session),
		AccessCode:       session.AccessCode,
		TotalAttendees:   len(attendees),
		IsActive:         session.IsActiveAt(now),
		RemainingSeconds: int64(session.RemainingAt(now) / time.Second),
		PausedRemaining:  int64(session.PausedRemaining() / time.Second),
		Phase:            session.PhaseAt(now),
	}, nil
}

// ActiveSessionForCourse returns the newest session of the course if its
// countdown is running.
func (s *AttendanceService) ActiveSessionForCourse(ctx context.Context, courseCode string) (*models.ClassSession, error) {
	session, err := s.sessions.GetLatestByCourse(ctx, strings.TrimSpace(courseCode))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("failed to look up course session: %w", err)
	}
	if !session.IsActiveAt(s.clock.Now()) {
		return nil, ErrNoActiveSession
	}
	return session, nil
}

// ActiveSessionForStudent walks the student's enrolled courses in order and
// returns the first running session.
func (s *AttendanceService) ActiveSessionForStudent(ctx context.Context, studentID uuid.UUID) (*models.ClassSession, error) {
	if s.courses == nil {
		return nil, ErrNoActiveSession
	}

	codes, err := s.courses.EnrolledCourseCodes(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load enrollments: %w", err)
	}

	for _, code := range codes {
		session, err := s.ActiveSessionForCourse(ctx, code)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, ErrNoActiveSession) {
			return nil, err
		}
	}
	return nil, ErrNoActiveSession
}

func (s *AttendanceService) ListSessionsForCourse(ctx context.Context, courseCode string) ([]models.ClassSession, error) {
	sessions, err := s.sessions.ListByCourse(ctx, strings.TrimSpace(courseCode))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []models.ClassSession{}
	}
	return sessions, nil
}

func (s *AttendanceService) load(ctx context.Context, sessionID uuid.UUID) (*models.ClassSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

func (s *AttendanceService) timingErr(err error) error {
	if errors.Is(err, repository.ErrSessionClosed) {
		return ErrNotActive
	}
	return fmt.Errorf("failed to update session: %w", err)
}

func (s *AttendanceService) publish(ctx context.Context, session *models.ClassSession, mark *models.AttendanceMark) {
	if s.events == nil {
		return
	}
	now := s.clock.Now()
	s.events.Publish(ctx, models.SessionEvent{
		SessionID: session.ID,
		Phase:     session.PhaseAt(now),
		Remaining: int64(session.RemainingAt(now) / time.Second),
		Mark:      mark,
	})
}

// sessionWindowEnd is the expiry when one was set, else the stop time.
func sessionWindowEnd(session *models.ClassSession) *time.Time {
	if session.ExpiresAt != nil {
		return session.ExpiresAt
	}
	return session.EndedAt
}
