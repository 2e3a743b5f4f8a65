package router

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/joyboy80/AttendanceTracker/internal/handlers"
	"github.com/joyboy80/AttendanceTracker/internal/middleware"
	"github.com/joyboy80/AttendanceTracker/internal/models"
	"github.com/joyboy80/AttendanceTracker/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	authHandler *handlers.AuthHandler,
	attendanceHandler *handlers.AttendanceHandler,
	biometricHandler *handlers.BiometricHandler,
	courseHandler *handlers.CourseHandler,
	wsHub *websocket.Hub,
	markLimiter middleware.Limiter,
	ready func(context.Context) error,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS([]string{frontendURL}))

	// Auth rate limiter (10 req/min per IP)
	authLimiter := middleware.NewRateLimiter(10, time.Minute)

	teacherOnly := middleware.RequireRole(models.RoleTeacher, models.RoleAdmin)
	studentOnly := middleware.RequireRole(models.RoleStudent)
	adminOnly := middleware.RequireRole(models.RoleAdmin)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Readiness: the mark path needs Redis for rate limits and biometric tokens
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := ready(ctx); err != nil {
			log.Printf("readiness check failed: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Auth Routes (public) ────
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter.Middleware)
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/logout", authHandler.Logout)
				r.Get("/me", authHandler.Me)
			})
		})

		// ──── Attendance Routes ────
		r.Route("/attendance", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)

			r.Get("/sessions/{id}/status", attendanceHandler.Status)
			r.Get("/courses/{code}/active", attendanceHandler.CourseActive)

			r.Group(func(r chi.Router) {
				r.Use(teacherOnly)
				r.Post("/sessions", attendanceHandler.Generate)
				r.Get("/sessions/{id}", attendanceHandler.Get)
				r.Post("/sessions/{id}/start", attendanceHandler.Start)
				r.Post("/sessions/{id}/pause", attendanceHandler.Pause)
				r.Post("/sessions/{id}/resume", attendanceHandler.Resume)
				r.Post("/sessions/{id}/stop", attendanceHandler.Stop)
				r.Get("/sessions/{id}/attendees", attendanceHandler.Attendees)
				r.Get("/sessions/{id}/attendees/details", attendanceHandler.AttendeeDetails)
				r.Get("/sessions/{id}/statistics", attendanceHandler.Statistics)
				r.Get("/courses/{code}/sessions", attendanceHandler.CourseSessions)
			})

			r.Group(func(r chi.Router) {
				r.Use(studentOnly)
				r.Get("/active", attendanceHandler.StudentActive)
				r.Post("/verify-location", attendanceHandler.VerifyLocation)
				r.With(middleware.RateLimit(markLimiter, middleware.ByUser)).Post("/mark", attendanceHandler.Mark)

				r.Route("/webauthn", func(r chi.Router) {
					r.Post("/register/begin", biometricHandler.BeginRegistration)
					r.Post("/register/finish", biometricHandler.FinishRegistration)
					r.Post("/login/begin", biometricHandler.BeginLogin)
					r.Post("/login/finish", biometricHandler.FinishLogin)
				})
			})
		})

		// ──── Course Routes ────
		r.Route("/courses", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/mine", courseHandler.Mine)
		})

		// ──── Admin Routes ────
		r.Route("/admin", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Use(adminOnly)
			r.Post("/courses", courseHandler.Create)
			r.Post("/courses/{code}/enroll", courseHandler.Enroll)
			r.Post("/sessions/{id}/stop", attendanceHandler.Stop)
		})
	})

	// ──── WebSocket ────
	r.Get("/ws/sessions/{id}", wsHub.HandleWebSocket)

	return r
}
