package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joyboy80/AttendanceTracker/internal/config"
	"github.com/joyboy80/AttendanceTracker/internal/database"
	"github.com/joyboy80/AttendanceTracker/internal/handlers"
	"github.com/joyboy80/AttendanceTracker/internal/middleware"
	"github.com/joyboy80/AttendanceTracker/internal/repository"
	"github.com/joyboy80/AttendanceTracker/internal/router"
	"github.com/joyboy80/AttendanceTracker/internal/services"
	"github.com/joyboy80/AttendanceTracker/internal/websocket"
)

type userStore interface {
	services.UserStore
	services.UserLookup
}

type courseStore interface {
	services.CourseStore
	services.CourseLookup
}

type stores struct {
	sessions services.SessionStore
	marks    services.MarkStore
	courses  courseStore
	users    userStore
	creds    services.CredentialStore
	close    func()
}

func openStores(cfg *config.Config) (*stores, error) {
	if cfg.StoreDriver == "memory" {
		mem := repository.NewMemoryStores()
		log.Println("✓ In-memory stores initialized (data is lost on restart)")
		return &stores{
			sessions: mem.Sessions,
			marks:    mem.Marks,
			courses:  mem.Courses,
			users:    mem.Users,
			creds:    mem.Credentials,
			close:    func() {},
		}, nil
	}

	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("PostgreSQL connection failed: %w", err)
	}
	log.Println("✓ PostgreSQL connected")

	if err := database.RunMigrations(pool, "migrations"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✓ Database migrations applied")

	return &stores{
		sessions: repository.NewSessionRepo(pool),
		marks:    repository.NewMarkRepo(pool),
		courses:  repository.NewCourseRepo(pool),
		users:    repository.NewUserRepo(pool),
		creds:    repository.NewCredentialRepo(pool),
		close:    pool.Close,
	}, nil
}

func main() {
	log.Println("🚀 Starting Attendance Tracker...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")
	if cfg.AdminSignupSecret == "" {
		log.Println("  ADMIN_SIGNUP_SECRET not set; admin registration is disabled")
	}

	// ──── Step 2: Open Stores ────
	st, err := openStores(cfg)
	if err != nil {
		log.Fatalf("✗ %v", err)
	}
	defer st.close()

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	clock := services.RealClock{}

	authService := services.NewAuthService(st.users, redisClients.Cache, jwtAuth, cfg.AdminSignupSecret)
	courseService := services.NewCourseService(st.courses, st.users)
	attendanceService := services.NewAttendanceService(st.sessions, st.marks, services.AttendanceOptions{
		MaxDuration:       cfg.MaxSessionDuration,
		ProvisionalWindow: cfg.ProvisionalWindow,
		Courses:           st.courses,
		Users:             st.users,
		Events:            services.NewSessionEvents(redisClients.Cache),
		Clock:             clock,
	})
	locationVerifier := services.NewLocationVerifier(st.sessions, clock, cfg.LocationRadiusMeters, cfg.LocationToleranceM)

	biometricService, err := services.NewBiometricService(services.BiometricConfig{
		RPID:      cfg.WebAuthnRPID,
		RPName:    cfg.WebAuthnRPName,
		RPOrigins: cfg.WebAuthnRPOrigins,
	}, redisClients.Cache, st.users, st.creds)
	if err != nil {
		log.Fatalf("✗ WebAuthn initialization failed: %v", err)
	}
	log.Printf("✓ Attendance services ready (max duration %s, location radius %.0fm)", attendanceService.MaxDuration(), locationVerifier.Radius())

	// ──── Step 5: Initialize Handlers ────
	authHandler := handlers.NewAuthHandler(authService)
	attendanceHandler := handlers.NewAttendanceHandler(attendanceService, locationVerifier, st.users, biometricService)
	biometricHandler := handlers.NewBiometricHandler(biometricService)
	courseHandler := handlers.NewCourseHandler(courseService)

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth)
	log.Println("✓ WebSocket hub started")

	// ──── Step 7: Start HTTP Server ────
	markLimiter := middleware.NewRedisRateLimiter(redisClients.Cache, "mark", cfg.MarkRateLimitPerMin, time.Minute)
	r := router.New(
		jwtAuth,
		authHandler,
		attendanceHandler,
		biometricHandler,
		courseHandler,
		wsHub,
		markLimiter,
		redisClients.Ping,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Attendance Tracker ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/ws/sessions/{id}", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
