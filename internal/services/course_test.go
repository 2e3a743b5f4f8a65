package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/joyboy80/AttendanceTracker/internal/models"
	"github.com/joyboy80/AttendanceTracker/internal/repository"
)

func TestCourseServiceCreateAndEnroll(t *testing.T) {
	ctx := context.Background()
	stores := repository.NewMemoryStores()
	svc := NewCourseService(stores.Courses, stores.Users)

	course, err := svc.Create(ctx, models.CreateCourseRequest{Code: " cs101 ", Title: "Intro to Programming", Credit: 3})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if course.Code != "CS101" {
		t.Fatalf("expected normalized code CS101, got %q", course.Code)
	}

	_, err = svc.Create(ctx, models.CreateCourseRequest{Code: "CS101", Title: "Again"})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for duplicate course, got %v", err)
	}

	student := &models.User{Username: "2021331001", Email: "s1@uni.edu", Role: models.RoleStudent}
	teacher := &models.User{Username: "t.rahman", Email: "t@uni.edu", Role: models.RoleTeacher}
	for _, u := range []*models.User{student, teacher} {
		if err := stores.Users.Create(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	admin := uuid.New()
	result, err := svc.Enroll(ctx, "cs101", models.EnrollRequest{
		Usernames: []string{"2021331001", "t.rahman", "ghost"},
		Role:      models.RoleStudent,
	}, admin)
	if err != nil {
		t.Fatalf("Enroll returned error: %v", err)
	}
	if len(result.Successful) != 1 || result.Successful[0] != "2021331001" {
		t.Fatalf("expected only the student to enroll, got %+v", result)
	}
	if len(result.Failed) != 2 {
		t.Fatalf("expected teacher and unknown user to fail, got %+v", result.Failed)
	}

	again, err := svc.Enroll(ctx, "CS101", models.EnrollRequest{Usernames: []string{"2021331001"}, Role: models.RoleStudent}, admin)
	if err != nil {
		t.Fatalf("second Enroll returned error: %v", err)
	}
	if len(again.Failed) != 1 {
		t.Fatalf("expected repeat enrollment to fail, got %+v", again)
	}

	mine, err := svc.ListForUser(ctx, student.ID)
	if err != nil {
		t.Fatalf("ListForUser returned error: %v", err)
	}
	if len(mine) != 1 || mine[0].Code != "CS101" {
		t.Fatalf("expected CS101 in student's courses, got %+v", mine)
	}

	if _, err := svc.Enroll(ctx, "NOPE", models.EnrollRequest{Usernames: []string{"x"}, Role: models.RoleStudent}, admin); !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("expected ErrCourseNotFound, got %v", err)
	}
}
