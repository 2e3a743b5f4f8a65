package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/joyboy80/AttendanceTracker/internal/models"
	"github.com/joyboy80/AttendanceTracker/internal/repository"
)

type CourseStore interface {
	Create(ctx context.Context, c *models.Course) error
	GetByCode(ctx context.Context, code string) (*models.Course, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Course, error)
	Enroll(ctx context.Context, courseID, userID uuid.UUID, role models.Role, assignedBy uuid.UUID) error
}

type UsernameLookup interface {
	GetByUsername(ctx context.Context, username string) (*models.User, error)
}

type CourseService struct {
	courses CourseStore
	users   UsernameLookup
}

func NewCourseService(courses CourseStore, users UsernameLookup) *CourseService {
	return &CourseService{courses: courses, users: users}
}

func (s *CourseService) Create(ctx context.Context, req models.CreateCourseRequest) (*models.Course, error) {
	c := &models.Course{
		Code:   strings.ToUpper(strings.TrimSpace(req.Code)),
		Title:  strings.TrimSpace(req.Title),
		Credit: req.Credit,
	}
	if req.Description != "" {
		desc := req.Description
		c.Description = &desc
	}

	if err := s.courses.Create(ctx, c); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, &ConflictError{Message: fmt.Sprintf("Course %s already exists", c.Code)}
		}
		return nil, err
	}
	return c, nil
}

func (s *CourseService) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Course, error) {
	return s.courses.ListForUser(ctx, userID)
}

// Enroll assigns each username to the course and reports per-user outcomes
// instead of failing the whole batch.
func (s *CourseService) Enroll(ctx context.Context, courseCode string, req models.EnrollRequest, assignedBy uuid.UUID) (*models.EnrollResult, error) {
	course, err := s.courses.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(courseCode)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, err
	}

	result := &models.EnrollResult{Successful: []string{}, Failed: []string{}}
	for _, username := range req.Usernames {
		user, err := s.users.GetByUsername(ctx, username)
		if err != nil {
			result.Failed = append(result.Failed, username)
			continue
		}
		if req.Role == models.RoleStudent && user.Role != models.RoleStudent {
			result.Failed = append(result.Failed, username)
			continue
		}
		if err := s.courses.Enroll(ctx, course.ID, user.ID, req.Role, assignedBy); err != nil {
			if !errors.Is(err, repository.ErrDuplicate) {
				log.Printf("[courses] enroll %s in %s failed: %v", username, course.Code, err)
			}
			result.Failed = append(result.Failed, username)
			continue
		}
		result.Successful = append(result.Successful, username)
	}

	result.Message = fmt.Sprintf("Enrolled %d of %d users in %s", len(result.Successful), len(req.Usernames), course.Code)
	return result, nil
}
