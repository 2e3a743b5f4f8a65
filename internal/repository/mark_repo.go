package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/joyboy80/AttendanceTracker/internal/models"
)

type MarkRepo struct {
	pool *pgxpool.Pool
}

func NewMarkRepo(pool *pgxpool.Pool) *MarkRepo {
	return &MarkRepo{pool: pool}
}

// Insert returns ErrDuplicate when the student already holds a mark for the
// session. The unique index decides, so concurrent inserts cannot both win.
func (r *MarkRepo) Insert(ctx context.Context, m *models.AttendanceMark) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO attendance_marks (id, student_id, course_code, session_id, access_code, marked_at,
			status, latitude, longitude, distance_meters, biometric_verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.StudentID, m.CourseCode, m.SessionID, m.AccessCode, m.MarkedAt,
		m.Status, m.Latitude, m.Longitude, m.DistanceMeters, m.BiometricVerified,
	)
	return translate(err)
}

func (r *MarkRepo) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM attendance_marks WHERE session_id = $1", sessionID).Scan(&n)
	return n, err
}

func (r *MarkRepo) HasMarked(ctx context.Context, sessionID, studentID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM attendance_marks WHERE session_id = $1 AND student_id = $2)",
		sessionID, studentID,
	).Scan(&exists)
	return exists, err
}

func (r *MarkRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceMark, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, student_id, course_code, session_id, access_code, marked_at, status,
			latitude, longitude, distance_meters, biometric_verified
		FROM attendance_marks WHERE session_id = $1 ORDER BY marked_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	marks := make([]models.AttendanceMark, 0)
	for rows.Next() {
		var m models.AttendanceMark
		if err := rows.Scan(
			&m.ID, &m.StudentID, &m.CourseCode, &m.SessionID, &m.AccessCode, &m.MarkedAt, &m.Status,
			&m.Latitude, &m.Longitude, &m.DistanceMeters, &m.BiometricVerified,
		); err != nil {
			return nil, err
		}
		marks = append(marks, m)
	}
	return marks, rows.Err()
}
