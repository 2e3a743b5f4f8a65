package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joyboy80/AttendanceTracker/internal/models"
	"github.com/joyboy80/AttendanceTracker/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.SessionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event models.SessionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type attendanceFixture struct {
	svc    *AttendanceService
	stores *repository.MemoryStores
	clock  *fakeClock
	events *recordingPublisher
}

func newAttendanceFixture(t *testing.T) *attendanceFixture {
	t.Helper()

	stores := repository.NewMemoryStores()
	for _, code := range []string{"CS101", "MA201"} {
		if err := stores.Courses.Create(context.Background(), &models.Course{Code: code, Title: code}); err != nil {
			t.Fatalf("seed course %s: %v", code, err)
		}
	}

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	events := &recordingPublisher{}
	svc := NewAttendanceService(stores.Sessions, stores.Marks, AttendanceOptions{
		Courses: stores.Courses,
		Users:   stores.Users,
		Events:  events,
		Clock:   clock,
	})
	return &attendanceFixture{svc: svc, stores: stores, clock: clock, events: events}
}

func (f *attendanceFixture) generate(t *testing.T, course string) *models.ClassSession {
	t.Helper()
	session, err := f.svc.Generate(context.Background(), course, "Dr. Rahman", "t.rahman")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	return session
}

func (f *attendanceFixture) mark(code string, student uuid.UUID) (*models.AttendanceMark, error) {
	return f.svc.Mark(context.Background(), MarkRequest{AccessCode: code, StudentID: student})
}

func TestGenerateOpensProvisionalWindow(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	session := f.generate(t, "CS101")

	if session.Status != models.SessionActive || !session.Armed {
		t.Fatalf("expected active armed session, got status=%s armed=%t", session.Status, session.Armed)
	}
	if !session.Provisional() {
		t.Fatalf("expected provisional session, duration=%d", session.DurationSeconds)
	}
	if session.ExpiresAt == nil || !session.ExpiresAt.Equal(now.Add(DefaultProvisionalWindow)) {
		t.Fatalf("expected provisional expiry %v, got %v", now.Add(DefaultProvisionalWindow), session.ExpiresAt)
	}
	if _, err := uuid.Parse(session.AccessCode); err != nil {
		t.Fatalf("expected uuid access code, got %q", session.AccessCode)
	}

	active, err := f.svc.IsActive(ctx, session.ID)
	if err != nil || !active {
		t.Fatalf("expected session to be active, got %t err=%v", active, err)
	}

	details, err := f.svc.GetAttendeesWithDetails(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetAttendeesWithDetails returned error: %v", err)
	}
	if len(details) != 0 {
		t.Fatalf("expected no attendees right after generate, got %d", len(details))
	}
}

func TestGenerateValidatesCourse(t *testing.T) {
	f := newAttendanceFixture(t)

	_, err := f.svc.Generate(context.Background(), "  ", "Dr. Rahman", "t.rahman")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = f.svc.Generate(context.Background(), "PHY999", "Dr. Rahman", "t.rahman")
	if !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("expected ErrCourseNotFound, got %v", err)
	}
}

func TestGenerateRetriesOnAccessCodeCollision(t *testing.T) {
	stores := repository.NewMemoryStores()
	codes := []string{"taken", "taken", "fresh"}
	next := 0
	svc := NewAttendanceService(stores.Sessions, stores.Marks, AttendanceOptions{
		NewAccessCode: func() string {
			c := codes[next]
			next++
			return c
		},
	})

	if err := stores.Sessions.Create(context.Background(), &models.ClassSession{AccessCode: "taken", Status: models.SessionActive}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	session, err := svc.Generate(context.Background(), "CS101", "Dr. Rahman", "t.rahman")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if session.AccessCode != "fresh" {
		t.Fatalf("expected third code to be used, got %q", session.AccessCode)
	}

	codes = []string{"taken", "taken", "taken"}
	next = 0
	if _, err := svc.Generate(context.Background(), "CS101", "Dr. Rahman", "t.rahman"); err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
}

func TestConcurrentMarksRecordExactlyOnce(t *testing.T) {
	f := newAttendanceFixture(t)
	session := f.generate(t, "CS101")
	if _, err := f.svc.Start(context.Background(), session.ID, 90, nil); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	student := uuid.New()
	const attempts = 32

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mark(session.AccessCode, student)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success, duplicates := 0, 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrAlreadyMarked):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 || duplicates != attempts-1 {
		t.Fatalf("expected 1 success and %d duplicates, got %d and %d", attempts-1, success, duplicates)
	}

	marks, err := f.svc.GetAttendees(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetAttendees returned error: %v", err)
	}
	if len(marks) != 1 {
		t.Fatalf("expected exactly one stored mark, got %d", len(marks))
	}
}

func TestProvisionalMarkSurvivesStart(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()
	generatedAt := f.clock.Now()
	session := f.generate(t, "CS101")

	f.clock.Advance(30 * time.Second)
	student := uuid.New()
	if _, err := f.mark(session.AccessCode, student); err != nil {
		t.Fatalf("provisional mark returned error: %v", err)
	}

	f.clock.Advance(10 * time.Second)
	started, err := f.svc.Start(ctx, session.ID, 60, nil)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !started.StartedAt.Equal(generatedAt) {
		t.Fatalf("expected start instant to be kept at %v, got %v", generatedAt, started.StartedAt)
	}
	if want := generatedAt.Add(60 * time.Second); !started.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, started.ExpiresAt)
	}

	details, err := f.svc.GetAttendeesWithDetails(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetAttendeesWithDetails returned error: %v", err)
	}
	if len(details) != 1 || details[0].StudentID != student {
		t.Fatalf("expected the provisional mark in details, got %+v", details)
	}

	stats, err := f.svc.GetSessionStatistics(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSessionStatistics returned error: %v", err)
	}
	if stats.TotalAttendees != 1 || !stats.IsActive || stats.RemainingSeconds != 20 {
		t.Fatalf("unexpected statistics: %+v", stats)
	}
}

func TestStartWithoutMarksRestartsClockAndClampsDuration(t *testing.T) {
	f := newAttendanceFixture(t)
	session := f.generate(t, "CS101")

	f.clock.Advance(2 * time.Minute)
	now := f.clock.Now()

	started, err := f.svc.Start(context.Background(), session.ID, 600, &models.Location{Latitude: 23.81, Longitude: 90.41, Label: "Room 301"})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !started.StartedAt.Equal(now) {
		t.Fatalf("expected start reset to %v, got %v", now, started.StartedAt)
	}
	if started.DurationSeconds != 120 {
		t.Fatalf("expected duration clamped to 120, got %d", started.DurationSeconds)
	}
	if !started.ExpiresAt.Equal(now.Add(120 * time.Second)) {
		t.Fatalf("unexpected expiry %v", started.ExpiresAt)
	}
	if !started.HasReferencePoint() || *started.LocationLabel != "Room 301" {
		t.Fatalf("expected reference point to be stored")
	}

	if _, err := f.svc.Start(context.Background(), session.ID, 0, nil); err == nil {
		t.Fatalf("expected non-positive duration to be rejected")
	}
}

func TestPauseResumePreservesRemainingTime(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()
	session := f.generate(t, "CS101")
	if _, err := f.svc.Start(ctx, session.ID, 120, nil); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	f.clock.Advance(30 * time.Second)
	paused, err := f.svc.Pause(ctx, session.ID)
	if err != nil {
		t.Fatalf("Pause returned error: %v", err)
	}
	if paused.PausedRemaining() != 90*time.Second {
		t.Fatalf("expected 90s stored, got %v", paused.PausedRemaining())
	}

	if active, _ := f.svc.IsActive(ctx, session.ID); active {
		t.Fatalf("paused session must not be active")
	}
	if remaining, _ := f.svc.RemainingTime(ctx, session.ID); remaining != 0 {
		t.Fatalf("expected zero remaining while paused, got %v", remaining)
	}
	if _, err := f.mark(session.AccessCode, uuid.New()); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}
	if _, err := f.svc.Pause(ctx, session.ID); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected second pause to report ErrPaused, got %v", err)
	}

	f.clock.Advance(5 * time.Minute)
	resumed, err := f.svc.Resume(ctx, session.ID)
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if resumed.RemainingMS != nil {
		t.Fatalf("expected stored remaining to be cleared")
	}

	remaining, err := f.svc.RemainingTime(ctx, session.ID)
	if err != nil {
		t.Fatalf("RemainingTime returned error: %v", err)
	}
	if diff := remaining - 90*time.Second; diff < -time.Second || diff > time.Second {
		t.Fatalf("expected about 90s remaining after resume, got %v", remaining)
	}

	if _, err := f.mark(session.AccessCode, uuid.New()); err != nil {
		t.Fatalf("mark after resume returned error: %v", err)
	}
	if _, err := f.svc.Resume(ctx, session.ID); !errors.Is(err, ErrNothingToResume) {
		t.Fatalf("expected ErrNothingToResume, got %v", err)
	}
}

func TestMarkAfterStopIsNotActive(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()
	session := f.generate(t, "CS101")
	if _, err := f.svc.Start(ctx, session.ID, 90, nil); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	stopped, err := f.svc.Stop(ctx, session.ID)
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	firstEnd := *stopped.EndedAt

	if _, err := f.mark(session.AccessCode, uuid.New()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}

	f.clock.Advance(time.Minute)
	again, err := f.svc.Stop(ctx, session.ID)
	if err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if !again.EndedAt.Equal(firstEnd) {
		t.Fatalf("expected first end time to win, got %v want %v", again.EndedAt, firstEnd)
	}

	if _, err := f.svc.Start(ctx, session.ID, 60, nil); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected Start on ended session to fail with ErrNotActive, got %v", err)
	}
	if _, err := f.svc.Resume(ctx, session.ID); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected Resume on ended session to fail with ErrNotActive, got %v", err)
	}

	stats, err := f.svc.GetSessionStatistics(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSessionStatistics returned error: %v", err)
	}
	if stats.Phase != models.PhaseEnded || stats.IsActive {
		t.Fatalf("unexpected statistics after stop: %+v", stats)
	}
}

func TestMarkAfterExpiry(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()
	session := f.generate(t, "CS101")
	if _, err := f.svc.Start(ctx, session.ID, 60, nil); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	f.clock.Advance(60 * time.Second)

	if _, err := f.mark(session.AccessCode, uuid.New()); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired at the expiry instant, got %v", err)
	}
	if _, err := f.svc.Pause(ctx, session.ID); !errors.Is(err, ErrAlreadyExpired) {
		t.Fatalf("expected ErrAlreadyExpired, got %v", err)
	}

	got, err := f.svc.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession returned error: %v", err)
	}
	if phase := got.PhaseAt(f.clock.Now()); phase != models.PhaseExpired {
		t.Fatalf("expected EXPIRED phase, got %s", phase)
	}
}

func TestCourseScenarioMarksPresentThenRejectsDuplicate(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()

	student := &models.User{Username: "2021-1-60-001", Email: "s1@uni.edu", FirstName: "Ayesha", LastName: "Karim", Role: models.RoleStudent}
	if err := f.stores.Users.Create(ctx, student); err != nil {
		t.Fatalf("seed student: %v", err)
	}

	session := f.generate(t, "CS101")
	if _, err := f.svc.Start(ctx, session.ID, 90, nil); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	f.clock.Advance(10 * time.Second)
	mark, err := f.mark(session.AccessCode, student.ID)
	if err != nil {
		t.Fatalf("Mark returned error: %v", err)
	}
	if mark.Status != models.MarkPresent || mark.CourseCode != "CS101" {
		t.Fatalf("unexpected mark: %+v", mark)
	}

	if _, err := f.mark(session.AccessCode, student.ID); !errors.Is(err, ErrAlreadyMarked) {
		t.Fatalf("expected ErrAlreadyMarked, got %v", err)
	}

	other := uuid.New()
	if _, err := f.mark(session.AccessCode, other); err != nil {
		t.Fatalf("Mark for unknown student returned error: %v", err)
	}

	details, err := f.svc.GetAttendeesWithDetails(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetAttendeesWithDetails returned error: %v", err)
	}
	if len(details) != 2 {
		t.Fatalf("expected 2 attendees, got %d", len(details))
	}
	byStudent := map[uuid.UUID]models.AttendeeDetail{}
	for _, d := range details {
		byStudent[d.StudentID] = d
	}
	if d := byStudent[student.ID]; d.StudentName != "Ayesha Karim" || d.RollNumber != "2021-1-60-001" {
		t.Fatalf("unexpected known attendee detail: %+v", d)
	}
	if d := byStudent[other]; d.StudentName != "Unknown Student" || d.RollNumber != "N/A" {
		t.Fatalf("unexpected unknown attendee detail: %+v", d)
	}
}

func TestPauseBeforeStartIsNotActive(t *testing.T) {
	f := newAttendanceFixture(t)
	session := f.generate(t, "CS101")

	_, err := f.svc.Pause(context.Background(), session.ID)
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	var stateErr *SessionStateError
	if !errors.As(err, &stateErr) || stateErr.Code != ErrNotActive.Code {
		t.Fatalf("expected not-active class error, got %v", err)
	}
}

func TestMarkRejections(t *testing.T) {
	f := newAttendanceFixture(t)
	session := f.generate(t, "CS101")

	if _, err := f.mark("", uuid.New()); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode for empty code, got %v", err)
	}
	if _, err := f.mark("no-such-code", uuid.New()); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}

	f.clock.Advance(-time.Second)
	if _, err := f.mark(session.AccessCode, uuid.New()); !errors.Is(err, ErrNotYetStarted) {
		t.Fatalf("expected ErrNotYetStarted, got %v", err)
	}
}

func TestUnknownSession(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()
	id := uuid.New()

	if _, err := f.svc.Start(ctx, id, 60, nil); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Start: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := f.svc.Pause(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Pause: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := f.svc.Stop(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Stop: expected ErrSessionNotFound, got %v", err)
	}
	if _, err := f.svc.IsActive(ctx, id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("IsActive: expected ErrSessionNotFound, got %v", err)
	}

	details, err := f.svc.GetAttendeesWithDetails(ctx, id)
	if err != nil || len(details) != 0 {
		t.Fatalf("expected empty details for unknown session, got %v err=%v", details, err)
	}
}

func TestActiveSessionLookups(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()

	student := uuid.New()
	for _, code := range []string{"CS101", "MA201"} {
		course, err := f.stores.Courses.GetByCode(ctx, code)
		if err != nil {
			t.Fatalf("GetByCode: %v", err)
		}
		if err := f.stores.Courses.Enroll(ctx, course.ID, student, models.RoleStudent, uuid.Nil); err != nil {
			t.Fatalf("Enroll: %v", err)
		}
	}

	if _, err := f.svc.ActiveSessionForStudent(ctx, student); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}

	session := f.generate(t, "MA201")

	got, err := f.svc.ActiveSessionForStudent(ctx, student)
	if err != nil {
		t.Fatalf("ActiveSessionForStudent returned error: %v", err)
	}
	if got.ID != session.ID {
		t.Fatalf("expected session %s, got %s", session.ID, got.ID)
	}

	if _, err := f.svc.ActiveSessionForCourse(ctx, "MA201"); err != nil {
		t.Fatalf("ActiveSessionForCourse returned error: %v", err)
	}

	if _, err := f.svc.Stop(ctx, session.ID); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if _, err := f.svc.ActiveSessionForCourse(ctx, "MA201"); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession after stop, got %v", err)
	}

	sessions, err := f.svc.ListSessionsForCourse(ctx, "MA201")
	if err != nil || len(sessions) != 1 {
		t.Fatalf("expected one listed session, got %d err=%v", len(sessions), err)
	}
	sessions, err = f.svc.ListSessionsForCourse(ctx, "CS101")
	if err != nil || sessions == nil || len(sessions) != 0 {
		t.Fatalf("expected empty non-nil list, got %v err=%v", sessions, err)
	}
}

func TestLifecyclePublishesEvents(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()
	session := f.generate(t, "CS101")
	f.svc.Start(ctx, session.ID, 60, nil)
	f.mark(session.AccessCode, uuid.New())
	f.svc.Stop(ctx, session.ID)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()

	if len(f.events.events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(f.events.events))
	}
	if f.events.events[2].Mark == nil {
		t.Fatalf("expected the mark event to carry the mark")
	}
	if last := f.events.events[3]; last.Phase != models.PhaseEnded {
		t.Fatalf("expected final event to report ENDED, got %s", last.Phase)
	}
}

func TestAttendeeDetailsExcludeMarksOutsideWindow(t *testing.T) {
	f := newAttendanceFixture(t)
	ctx := context.Background()
	session := f.generate(t, "CS101")

	started, err := f.svc.Start(ctx, session.ID, 60, nil)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	f.clock.Advance(10 * time.Second)
	present := uuid.New()
	if _, err := f.mark(started.AccessCode, present); err != nil {
		t.Fatalf("mark returned error: %v", err)
	}

	outside := []struct {
		name     string
		code     string
		markedAt time.Time
	}{
		{"stale access code", "retired-code", f.clock.Now()},
		{"before start", started.AccessCode, started.StartedAt.Add(-time.Second)},
		{"after expiry", started.AccessCode, started.ExpiresAt.Add(time.Second)},
	}
	for _, tc := range outside {
		m := &models.AttendanceMark{
			StudentID:  uuid.New(),
			CourseCode: started.CourseCode,
			SessionID:  started.ID,
			AccessCode: tc.code,
			MarkedAt:   tc.markedAt,
			Status:     models.MarkPresent,
		}
		if err := f.stores.Marks.Insert(ctx, m); err != nil {
			t.Fatalf("%s: Insert returned error: %v", tc.name, err)
		}
	}

	details, err := f.svc.GetAttendeesWithDetails(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetAttendeesWithDetails returned error: %v", err)
	}
	if len(details) != 1 || details[0].StudentID != present {
		t.Fatalf("expected only the in-window mark, got %+v", details)
	}

	stats, err := f.svc.GetSessionStatistics(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSessionStatistics returned error: %v", err)
	}
	if stats.TotalAttendees != 1 {
		t.Fatalf("expected 1 attendee in statistics, got %d", stats.TotalAttendees)
	}

	raw, err := f.svc.GetAttendees(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetAttendees returned error: %v", err)
	}
	if len(raw) != 4 {
		t.Fatalf("expected all 4 stored marks from GetAttendees, got %d", len(raw))
	}
}
