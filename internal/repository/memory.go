package repository

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/joyboy80/AttendanceTracker/internal/models"
)

// MemoryStores backs every repository with process memory. It is selected
// with STORE_DRIVER=memory and used by handler tests. All stores share one
// mutex so that cross-table reads see a consistent snapshot.
type MemoryStores struct {
	Sessions    *MemorySessionRepo
	Marks       *MemoryMarkRepo
	Courses     *MemoryCourseRepo
	Users       *MemoryUserRepo
	Credentials *MemoryCredentialRepo
}

type memoryDB struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*models.ClassSession
	marks       []models.AttendanceMark
	courses     map[string]*models.Course
	enrollments map[uuid.UUID]map[uuid.UUID]models.Role // user -> course -> role
	users       map[uuid.UUID]*models.User
	credentials map[uuid.UUID][]webauthn.Credential
}

func NewMemoryStores() *MemoryStores {
	db := &memoryDB{
		sessions:    make(map[uuid.UUID]*models.ClassSession),
		courses:     make(map[string]*models.Course),
		enrollments: make(map[uuid.UUID]map[uuid.UUID]models.Role),
		users:       make(map[uuid.UUID]*models.User),
		credentials: make(map[uuid.UUID][]webauthn.Credential),
	}
	return &MemoryStores{
		Sessions:    &MemorySessionRepo{db: db},
		Marks:       &MemoryMarkRepo{db: db},
		Courses:     &MemoryCourseRepo{db: db},
		Users:       &MemoryUserRepo{db: db},
		Credentials: &MemoryCredentialRepo{db: db},
	}
}

// Sessions

type MemorySessionRepo struct{ db *memoryDB }

func copySession(s *models.ClassSession) *models.ClassSession {
	c := *s
	return &c
}

func (r *MemorySessionRepo) Create(_ context.Context, s *models.ClassSession) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, existing := range r.db.sessions {
		if existing.AccessCode == s.AccessCode {
			return ErrDuplicate
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = time.Now()
	r.db.sessions[s.ID] = copySession(s)
	return nil
}

func (r *MemorySessionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.ClassSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(s), nil
}

func (r *MemorySessionRepo) GetByAccessCode(_ context.Context, code string) (*models.ClassSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, s := range r.db.sessions {
		if s.AccessCode == code {
			return copySession(s), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemorySessionRepo) GetLatestByCourse(ctx context.Context, courseCode string) (*models.ClassSession, error) {
	sessions, _ := r.ListByCourse(ctx, courseCode)
	if len(sessions) == 0 {
		return nil, ErrNotFound
	}
	return &sessions[0], nil
}

// ListByCourse returns newest first.
func (r *MemorySessionRepo) ListByCourse(_ context.Context, courseCode string) ([]models.ClassSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var sessions []models.ClassSession
	for _, s := range r.db.sessions {
		if s.CourseCode == courseCode {
			sessions = append(sessions, *s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (r *MemorySessionRepo) UpdateTiming(_ context.Context, s *models.ClassSession) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	stored, ok := r.db.sessions[s.ID]
	if !ok || stored.Status != models.SessionActive {
		return ErrSessionClosed
	}
	stored.StartedAt = s.StartedAt
	stored.DurationSeconds = s.DurationSeconds
	stored.ExpiresAt = s.ExpiresAt
	stored.Armed = s.Armed
	stored.RemainingMS = s.RemainingMS
	if s.HasReferencePoint() {
		stored.Latitude = s.Latitude
		stored.Longitude = s.Longitude
	}
	if s.LocationLabel != nil {
		stored.LocationLabel = s.LocationLabel
	}
	return nil
}

func (r *MemorySessionRepo) End(_ context.Context, id uuid.UUID, at time.Time) (*models.ClassSession, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = models.SessionEnded
	s.Armed = false
	s.RemainingMS = nil
	if s.EndedAt == nil {
		endedAt := at
		s.EndedAt = &endedAt
	}
	return copySession(s), nil
}

func (r *MemorySessionRepo) SetReferencePoint(_ context.Context, id uuid.UUID, lat, lng float64, label string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if s.HasReferencePoint() {
		return false, nil
	}
	s.Latitude = &lat
	s.Longitude = &lng
	s.LocationLabel = &label
	return true, nil
}

// Marks

type MemoryMarkRepo struct{ db *memoryDB }

func (r *MemoryMarkRepo) Insert(_ context.Context, m *models.AttendanceMark) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, existing := range r.db.marks {
		if existing.StudentID == m.StudentID && existing.SessionID == m.SessionID {
			return ErrDuplicate
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	r.db.marks = append(r.db.marks, *m)
	return nil
}

func (r *MemoryMarkRepo) CountBySession(_ context.Context, sessionID uuid.UUID) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	n := 0
	for _, m := range r.db.marks {
		if m.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryMarkRepo) HasMarked(_ context.Context, sessionID, studentID uuid.UUID) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, m := range r.db.marks {
		if m.SessionID == sessionID && m.StudentID == studentID {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryMarkRepo) ListBySession(_ context.Context, sessionID uuid.UUID) ([]models.AttendanceMark, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	marks := make([]models.AttendanceMark, 0)
	for _, m := range r.db.marks {
		if m.SessionID == sessionID {
			marks = append(marks, m)
		}
	}
	sort.SliceStable(marks, func(i, j int) bool {
		return marks[i].MarkedAt.Before(marks[j].MarkedAt)
	})
	return marks, nil
}

// Courses

type MemoryCourseRepo struct{ db *memoryDB }

func (r *MemoryCourseRepo) Create(_ context.Context, c *models.Course) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, exists := r.db.courses[c.Code]; exists {
		return ErrDuplicate
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	stored := *c
	r.db.courses[c.Code] = &stored
	return nil
}

func (r *MemoryCourseRepo) GetByCode(_ context.Context, code string) (*models.Course, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	c, ok := r.db.courses[code]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (r *MemoryCourseRepo) ListForUser(_ context.Context, userID uuid.UUID) ([]models.Course, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	courses := make([]models.Course, 0)
	for _, c := range r.db.courses {
		if _, ok := r.db.enrollments[userID][c.ID]; ok {
			courses = append(courses, *c)
		}
	}
	sort.Slice(courses, func(i, j int) bool { return courses[i].Code < courses[j].Code })
	return courses, nil
}

func (r *MemoryCourseRepo) EnrolledCourseCodes(_ context.Context, userID uuid.UUID) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var codes []string
	for _, c := range r.db.courses {
		if role, ok := r.db.enrollments[userID][c.ID]; ok && role == models.RoleStudent {
			codes = append(codes, c.Code)
		}
	}
	sort.Strings(codes)
	return codes, nil
}

func (r *MemoryCourseRepo) Enroll(_ context.Context, courseID, userID uuid.UUID, role models.Role, _ uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	byCourse, ok := r.db.enrollments[userID]
	if !ok {
		byCourse = make(map[uuid.UUID]models.Role)
		r.db.enrollments[userID] = byCourse
	}
	if _, exists := byCourse[courseID]; exists {
		return ErrDuplicate
	}
	byCourse[courseID] = role
	return nil
}

// Users

type MemoryUserRepo struct{ db *memoryDB }

func (r *MemoryUserRepo) Create(_ context.Context, user *models.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, u := range r.db.users {
		if u.Username == user.Username || u.Email == user.Email {
			return ErrDuplicate
		}
	}
	user.ID = uuid.New()
	user.IsActive = true
	user.CreatedAt = time.Now()
	stored := *user
	r.db.users[user.ID] = &stored
	return nil
}

func (r *MemoryUserRepo) GetByUsername(_ context.Context, username string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, u := range r.db.users {
		if u.Username == username {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryUserRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	u, ok := r.db.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (r *MemoryUserRepo) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	users := make(map[uuid.UUID]*models.User, len(ids))
	for _, id := range ids {
		if u, ok := r.db.users[id]; ok {
			out := *u
			users[id] = &out
		}
	}
	return users, nil
}

func (r *MemoryUserRepo) UpdateLastLogin(_ context.Context, userID uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if u, ok := r.db.users[userID]; ok {
		now := time.Now()
		u.LastLoginAt = &now
	}
	return nil
}

// WebAuthn credentials

type MemoryCredentialRepo struct{ db *memoryDB }

func (r *MemoryCredentialRepo) ListForUser(_ context.Context, userID uuid.UUID) ([]webauthn.Credential, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	return append([]webauthn.Credential(nil), r.db.credentials[userID]...), nil
}

func (r *MemoryCredentialRepo) Create(_ context.Context, userID uuid.UUID, cred *webauthn.Credential) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, creds := range r.db.credentials {
		for _, c := range creds {
			if bytes.Equal(c.ID, cred.ID) {
				return ErrDuplicate
			}
		}
	}
	r.db.credentials[userID] = append(r.db.credentials[userID], *cred)
	return nil
}

func (r *MemoryCredentialRepo) Update(_ context.Context, userID uuid.UUID, cred *webauthn.Credential) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	creds := r.db.credentials[userID]
	for i := range creds {
		if bytes.Equal(creds[i].ID, cred.ID) {
			creds[i] = *cred
			return nil
		}
	}
	return ErrNotFound
}
