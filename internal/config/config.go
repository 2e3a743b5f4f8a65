package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Storage: "postgres" (default) or "memory" for single-instance development
	StoreDriver string
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Registering with role ADMIN requires this secret; empty disables it
	AdminSignupSecret string

	// Attendance
	MaxSessionDuration   time.Duration
	ProvisionalWindow    time.Duration
	MarkRateLimitPerMin  int
	LocationRadiusMeters float64
	LocationToleranceM   float64

	// WebAuthn
	WebAuthnRPID      string
	WebAuthnRPName    string
	WebAuthnRPOrigins []string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "development"),
		StoreDriver: strings.ToLower(getEnvOrDefault("STORE_DRIVER", "postgres")),
		RedisURL:    mustGetEnv("REDIS_URL"),
		JWTSecret:   mustGetEnv("JWT_SECRET"),

		AdminSignupSecret: os.Getenv("ADMIN_SIGNUP_SECRET"),

		MaxSessionDuration:   time.Duration(getEnvAsIntOrDefault("ATTENDANCE_MAX_DURATION_SECONDS", 120)) * time.Second,
		ProvisionalWindow:    time.Duration(getEnvAsIntOrDefault("ATTENDANCE_PROVISIONAL_WINDOW_SECONDS", 600)) * time.Second,
		MarkRateLimitPerMin:  getEnvAsIntOrDefault("MARK_RATE_LIMIT_PER_MINUTE", 20),
		LocationRadiusMeters: getEnvAsFloatOrDefault("LOCATION_RADIUS_METERS", 100),
		LocationToleranceM:   getEnvAsFloatOrDefault("LOCATION_TOLERANCE_METERS", 500),

		WebAuthnRPID:      getEnvOrDefault("WEBAUTHN_RP_ID", "localhost"),
		WebAuthnRPName:    getEnvOrDefault("WEBAUTHN_RP_NAME", "University Attendance"),
		WebAuthnRPOrigins: splitList(getEnvOrDefault("WEBAUTHN_RP_ORIGINS", "http://localhost:5173")),

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	if cfg.StoreDriver == "postgres" {
		cfg.DatabaseURL = mustGetEnv("DATABASE_URL")
	}

	return cfg
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
