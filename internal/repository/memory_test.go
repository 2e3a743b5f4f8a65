package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joyboy80/AttendanceTracker/internal/models"
)

func TestMemoryMarksAreUniquePerStudentAndSession(t *testing.T) {
	stores := NewMemoryStores()
	ctx := context.Background()
	student, session := uuid.New(), uuid.New()

	if err := stores.Marks.Insert(ctx, &models.AttendanceMark{StudentID: student, SessionID: session}); err != nil {
		t.Fatalf("first insert returned error: %v", err)
	}
	if err := stores.Marks.Insert(ctx, &models.AttendanceMark{StudentID: student, SessionID: session}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := stores.Marks.Insert(ctx, &models.AttendanceMark{StudentID: student, SessionID: uuid.New()}); err != nil {
		t.Fatalf("insert for another session returned error: %v", err)
	}

	n, _ := stores.Marks.CountBySession(ctx, session)
	if n != 1 {
		t.Fatalf("expected 1 mark, got %d", n)
	}

	if marked, _ := stores.Marks.HasMarked(ctx, session, student); !marked {
		t.Fatalf("expected HasMarked for the recorded student")
	}
	if marked, _ := stores.Marks.HasMarked(ctx, session, uuid.New()); marked {
		t.Fatalf("expected HasMarked to be false for another student")
	}
}

func TestMemorySessionEndIsTerminal(t *testing.T) {
	stores := NewMemoryStores()
	ctx := context.Background()

	s := &models.ClassSession{AccessCode: "code", CourseCode: "CS101", Status: models.SessionActive, Armed: true}
	if err := stores.Sessions.Create(ctx, s); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := stores.Sessions.Create(ctx, &models.ClassSession{AccessCode: "code"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate access code to fail, got %v", err)
	}

	first := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ended, err := stores.Sessions.End(ctx, s.ID, first)
	if err != nil {
		t.Fatalf("End returned error: %v", err)
	}
	if ended.Status != models.SessionEnded || ended.Armed {
		t.Fatalf("unexpected ended session: %+v", ended)
	}

	ended, _ = stores.Sessions.End(ctx, s.ID, first.Add(time.Hour))
	if !ended.EndedAt.Equal(first) {
		t.Fatalf("expected first end time to be kept, got %v", ended.EndedAt)
	}

	s.Armed = true
	if err := stores.Sessions.UpdateTiming(ctx, s); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestMemoryReferencePointSetOnce(t *testing.T) {
	stores := NewMemoryStores()
	ctx := context.Background()

	s := &models.ClassSession{AccessCode: "code", Status: models.SessionActive}
	if err := stores.Sessions.Create(ctx, s); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	set, err := stores.Sessions.SetReferencePoint(ctx, s.ID, 1, 2, "auto")
	if err != nil || !set {
		t.Fatalf("expected first reference point to be set, set=%t err=%v", set, err)
	}
	set, _ = stores.Sessions.SetReferencePoint(ctx, s.ID, 3, 4, "auto")
	if set {
		t.Fatalf("expected second reference point to be ignored")
	}

	got, _ := stores.Sessions.GetByID(ctx, s.ID)
	if *got.Latitude != 1 || *got.Longitude != 2 {
		t.Fatalf("unexpected reference point %v,%v", *got.Latitude, *got.Longitude)
	}

	if _, err := stores.Sessions.SetReferencePoint(ctx, uuid.New(), 0, 0, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryEnrollments(t *testing.T) {
	stores := NewMemoryStores()
	ctx := context.Background()
	user := uuid.New()

	for _, code := range []string{"MA201", "CS101", "EEE100"} {
		c := &models.Course{Code: code, Title: code}
		if err := stores.Courses.Create(ctx, c); err != nil {
			t.Fatalf("Create course: %v", err)
		}
		role := models.RoleStudent
		if code == "EEE100" {
			role = models.RoleTeacher
		}
		if err := stores.Courses.Enroll(ctx, c.ID, user, role, uuid.Nil); err != nil {
			t.Fatalf("Enroll: %v", err)
		}
		if code == "CS101" {
			if err := stores.Courses.Enroll(ctx, c.ID, user, role, uuid.Nil); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("expected duplicate enrollment to fail, got %v", err)
			}
		}
	}

	codes, _ := stores.Courses.EnrolledCourseCodes(ctx, user)
	if len(codes) != 2 || codes[0] != "CS101" || codes[1] != "MA201" {
		t.Fatalf("unexpected student course codes %v", codes)
	}

	courses, _ := stores.Courses.ListForUser(ctx, user)
	if len(courses) != 3 {
		t.Fatalf("expected all 3 courses for the user, got %d", len(courses))
	}
}
