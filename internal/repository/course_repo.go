package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joyboy80/AttendanceTracker/internal/models"
)

type CourseRepo struct {
	pool *pgxpool.Pool
}

func NewCourseRepo(pool *pgxpool.Pool) *CourseRepo {
	return &CourseRepo{pool: pool}
}

func (r *CourseRepo) Create(ctx context.Context, c *models.Course) error {
	c.ID = uuid.New()
	err := r.pool.QueryRow(ctx,
		"INSERT INTO courses (id, code, title, credit, description) VALUES ($1, $2, $3, $4, $5) RETURNING created_at",
		c.ID, c.Code, c.Title, c.Credit, c.Description,
	).Scan(&c.CreatedAt)
	return translate(err)
}

func (r *CourseRepo) GetByCode(ctx context.Context, code string) (*models.Course, error) {
	c := &models.Course{}
	err := r.pool.QueryRow(ctx,
		"SELECT id, code, title, credit, description, created_at FROM courses WHERE code = $1", code,
	).Scan(&c.ID, &c.Code, &c.Title, &c.Credit, &c.Description, &c.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return c, nil
}

func (r *CourseRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Course, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.id, c.code, c.title, c.credit, c.description, c.created_at
		FROM courses c
		JOIN enrollments e ON e.course_id = c.id
		WHERE e.user_id = $1
		ORDER BY c.code`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	courses := make([]models.Course, 0)
	for rows.Next() {
		var c models.Course
		if err := rows.Scan(&c.ID, &c.Code, &c.Title, &c.Credit, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// EnrolledCourseCodes lists the courses the user attends as a student.
func (r *CourseRepo) EnrolledCourseCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT c.code FROM courses c
		JOIN enrollments e ON e.course_id = c.id
		WHERE e.user_id = $1 AND e.role = 'STUDENT'
		ORDER BY c.code`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (r *CourseRepo) Enroll(ctx context.Context, courseID, userID uuid.UUID, role models.Role, assignedBy uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		"INSERT INTO enrollments (user_id, course_id, assigned_by, role) VALUES ($1, $2, $3, $4)",
		userID, courseID, assignedBy, role,
	)
	return translate(err)
}
