package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/joyboy80/AttendanceTracker/internal/models"
	"github.com/joyboy80/AttendanceTracker/internal/repository"
)

const (
	ceremonyTTL  = 5 * time.Minute
	assertionTTL = 2 * time.Minute
)

type CredentialStore interface {
	ListForUser(ctx context.Context, userID uuid.UUID) ([]webauthn.Credential, error)
	Create(ctx context.Context, userID uuid.UUID, cred *webauthn.Credential) error
	Update(ctx context.Context, userID uuid.UUID, cred *webauthn.Credential) error
}

type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type BiometricConfig struct {
	RPID      string
	RPName    string
	RPOrigins []string
}

// webauthnUser adapts a directory user to the library's user contract.
type webauthnUser struct {
	user  *models.User
	creds []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte                         { return u.user.ID[:] }
func (u *webauthnUser) WebAuthnName() string                       { return u.user.Username }
func (u *webauthnUser) WebAuthnDisplayName() string                { return u.user.DisplayName() }
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }
func (u *webauthnUser) WebAuthnIcon() string                       { return "" }

// BiometricService runs WebAuthn ceremonies. Ceremony state lives in Redis so
// begin and finish may land on different replicas. A finished login yields a
// one-shot assertion token that the mark endpoint consumes.
type BiometricService struct {
	webauthn *webauthn.WebAuthn
	redis    KeyStore
	users    UserGetter
	creds    CredentialStore
}

// KeyStore is the part of Redis the ceremonies and assertion tokens use.
// *redis.Client satisfies it.
type KeyStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

func NewBiometricService(cfg BiometricConfig, redisClient KeyStore, users UserGetter, creds CredentialStore) (*BiometricService, error) {
	w, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure webauthn: %w", err)
	}
	return &BiometricService{webauthn: w, redis: redisClient, users: users, creds: creds}, nil
}

func (s *BiometricService) BeginRegistration(ctx context.Context, userID uuid.UUID) (*protocol.CredentialCreation, error) {
	wu, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(wu.creds) > 0 {
		return nil, &ConflictError{Message: "A biometric credential is already registered"}
	}

	options, session, err := s.webauthn.BeginRegistration(wu)
	if err != nil {
		return nil, fmt.Errorf("failed to begin registration: %w", err)
	}
	if err := s.saveCeremony(ctx, "webauthn_reg:"+userID.String(), session); err != nil {
		return nil, err
	}
	return options, nil
}

func (s *BiometricService) FinishRegistration(ctx context.Context, userID uuid.UUID, r *http.Request) error {
	session, err := s.takeCeremony(ctx, "webauthn_reg:"+userID.String())
	if err != nil {
		return err
	}
	wu, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	cred, err := s.webauthn.FinishRegistration(wu, *session, r)
	if err != nil {
		log.Printf("[biometric] registration failed for %s: %v", userID, err)
		return &UnauthorizedError{Message: "Biometric registration could not be verified"}
	}
	if err := s.creds.Create(ctx, userID, cred); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return &ConflictError{Message: "This authenticator is already registered"}
		}
		return fmt.Errorf("failed to store credential: %w", err)
	}

	log.Printf("[biometric] credential registered for %s", userID)
	return nil
}

func (s *BiometricService) BeginLogin(ctx context.Context, userID uuid.UUID) (*protocol.CredentialAssertion, error) {
	wu, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(wu.creds) == 0 {
		return nil, &NotFoundError{Message: "No biometric credential registered"}
	}

	options, session, err := s.webauthn.BeginLogin(wu)
	if err != nil {
		return nil, fmt.Errorf("failed to begin login: %w", err)
	}
	if err := s.saveCeremony(ctx, "webauthn_login:"+userID.String(), session); err != nil {
		return nil, err
	}
	return options, nil
}

// FinishLogin verifies the assertion and returns a token that proves it for
// one attendance mark.
func (s *BiometricService) FinishLogin(ctx context.Context, userID uuid.UUID, r *http.Request) (string, error) {
	session, err := s.takeCeremony(ctx, "webauthn_login:"+userID.String())
	if err != nil {
		return "", err
	}
	wu, err := s.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}

	cred, err := s.webauthn.FinishLogin(wu, *session, r)
	if err != nil {
		log.Printf("[biometric] assertion failed for %s: %v", userID, err)
		return "", &UnauthorizedError{Message: "Biometric verification failed"}
	}
	if err := s.creds.Update(ctx, userID, cred); err != nil {
		return "", fmt.Errorf("failed to update credential: %w", err)
	}

	return s.issueAssertion(ctx, userID)
}

func (s *BiometricService) issueAssertion(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", err
	}
	if err := s.redis.Set(ctx, assertionKey(token), userID.String(), assertionTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to store assertion token: %w", err)
	}
	return token, nil
}

func assertionKey(token string) string { return "webauthn_assert:" + token }

// ConsumeAssertion reports whether token was issued to userID. A token is
// good for exactly one call.
func (s *BiometricService) ConsumeAssertion(ctx context.Context, userID uuid.UUID, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	owner, err := s.redis.GetDel(ctx, assertionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read assertion token: %w", err)
	}
	return owner == userID.String(), nil
}

func (s *BiometricService) loadUser(ctx context.Context, userID uuid.UUID) (*webauthnUser, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Message: "User not found"}
		}
		return nil, err
	}
	creds, err := s.creds.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return &webauthnUser{user: user, creds: creds}, nil
}

func (s *BiometricService) saveCeremony(ctx context.Context, key string, session *webauthn.SessionData) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode ceremony: %w", err)
	}
	if err := s.redis.Set(ctx, key, data, ceremonyTTL).Err(); err != nil {
		return fmt.Errorf("failed to store ceremony: %w", err)
	}
	return nil
}

func (s *BiometricService) takeCeremony(ctx context.Context, key string) (*webauthn.SessionData, error) {
	data, err := s.redis.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &NotFoundError{Message: "Biometric ceremony not found or expired. Please start again."}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ceremony: %w", err)
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode ceremony: %w", err)
	}
	return &session, nil
}
