package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joyboy80/AttendanceTracker/internal/models"
)

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `id, course_code, access_code, teacher_name, teacher_username, started_at,
	duration_seconds, expires_at, status, armed, remaining_ms, latitude, longitude, location_label,
	ended_at, created_at`

func scanSession(row pgx.Row) (*models.ClassSession, error) {
	s := &models.ClassSession{}
	err := row.Scan(
		&s.ID, &s.CourseCode, &s.AccessCode, &s.TeacherName, &s.TeacherUsername, &s.StartedAt,
		&s.DurationSeconds, &s.ExpiresAt, &s.Status, &s.Armed, &s.RemainingMS, &s.Latitude,
		&s.Longitude, &s.LocationLabel, &s.EndedAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return s, nil
}

func (r *SessionRepo) Create(ctx context.Context, s *models.ClassSession) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}

	query := `INSERT INTO class_sessions (id, course_code, access_code, teacher_name, teacher_username,
			started_at, duration_seconds, expires_at, status, armed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		s.ID, s.CourseCode, s.AccessCode, s.TeacherName, s.TeacherUsername,
		s.StartedAt, s.DurationSeconds, s.ExpiresAt, s.Status, s.Armed,
	).Scan(&s.CreatedAt)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ClassSession, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+sessionColumns+" FROM class_sessions WHERE id = $1", id)
	return scanSession(row)
}

func (r *SessionRepo) GetByAccessCode(ctx context.Context, code string) (*models.ClassSession, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM class_sessions WHERE access_code = $1 ORDER BY created_at DESC LIMIT 1",
		code,
	)
	return scanSession(row)
}

func (r *SessionRepo) GetLatestByCourse(ctx context.Context, courseCode string) (*models.ClassSession, error) {
	row := r.pool.QueryRow(ctx,
		"SELECT "+sessionColumns+" FROM class_sessions WHERE course_code = $1 ORDER BY created_at DESC LIMIT 1",
		courseCode,
	)
	return scanSession(row)
}

func (r *SessionRepo) ListByCourse(ctx context.Context, courseCode string) ([]models.ClassSession, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+sessionColumns+" FROM class_sessions WHERE course_code = $1 ORDER BY created_at DESC",
		courseCode,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ClassSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// UpdateTiming persists the countdown fields and, when given, a new reference
// point. Ended sessions are never touched, which keeps ENDED terminal even
// when a stop races a resume.
func (r *SessionRepo) UpdateTiming(ctx context.Context, s *models.ClassSession) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE class_sessions
		SET started_at = $2, duration_seconds = $3, expires_at = $4, armed = $5, remaining_ms = $6,
			latitude = COALESCE($7, latitude), longitude = COALESCE($8, longitude),
			location_label = COALESCE($9, location_label)
		WHERE id = $1 AND status = 'ACTIVE'`,
		s.ID, s.StartedAt, s.DurationSeconds, s.ExpiresAt, s.Armed, s.RemainingMS,
		s.Latitude, s.Longitude, s.LocationLabel,
	)
	if err != nil {
		return fmt.Errorf("failed to update session timing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionClosed
	}
	return nil
}

// End marks the session ENDED. A second call keeps the first ended_at.
func (r *SessionRepo) End(ctx context.Context, id uuid.UUID, at time.Time) (*models.ClassSession, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE class_sessions
		SET status = 'ENDED', armed = FALSE, remaining_ms = NULL, ended_at = COALESCE(ended_at, $2)
		WHERE id = $1
		RETURNING `+sessionColumns,
		id, at,
	)
	return scanSession(row)
}

// SetReferencePoint stores the point only if none is set yet and reports
// whether this call set it.
func (r *SessionRepo) SetReferencePoint(ctx context.Context, id uuid.UUID, lat, lng float64, label string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE class_sessions SET latitude = $2, longitude = $3, location_label = $4
		WHERE id = $1 AND (latitude IS NULL OR longitude IS NULL)`,
		id, lat, lng, label,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
