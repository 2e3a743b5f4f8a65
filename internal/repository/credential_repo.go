package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CredentialRepo stores WebAuthn credentials as JSON so that authenticator
// flags and counters survive library upgrades without schema changes.
type CredentialRepo struct {
	pool *pgxpool.Pool
}

func NewCredentialRepo(pool *pgxpool.Pool) *CredentialRepo {
	return &CredentialRepo{pool: pool}
}

func (r *CredentialRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]webauthn.Credential, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT credential_json FROM webauthn_credentials WHERE user_id = $1 AND is_active ORDER BY created_at",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []webauthn.Credential
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var cred webauthn.Credential
		if err := json.Unmarshal(raw, &cred); err != nil {
			return nil, fmt.Errorf("failed to decode credential: %w", err)
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func (r *CredentialRepo) Create(ctx context.Context, userID uuid.UUID, cred *webauthn.Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		"INSERT INTO webauthn_credentials (id, user_id, credential_json) VALUES ($1, $2, $3)",
		cred.ID, userID, raw,
	)
	return translate(err)
}

// Update stores the credential after a login so the sign counter advances.
func (r *CredentialRepo) Update(ctx context.Context, userID uuid.UUID, cred *webauthn.Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		"UPDATE webauthn_credentials SET credential_json = $3, last_used_at = NOW() WHERE id = $1 AND user_id = $2",
		cred.ID, userID, raw,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
