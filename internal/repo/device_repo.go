package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeviceRepo defines the interface for trusted-device repository operations
type DeviceRepo interface {
	// Upsert records the fingerprint as trusted until expiresAt, extending
	// the window if the device is already known.
	Upsert(ctx context.Context, userID uuid.UUID, fingerprintHash string, expiresAt time.Time) error
	// IsTrusted reports whether the fingerprint is currently trusted for the
	// user. A trusted device only skips the MFA prompt; it never
	// authenticates on its own.
	IsTrusted(ctx context.Context, userID uuid.UUID, fingerprintHash string) (bool, error)
	// RevokeAllForUser drops every device trust for the user (MFA disable,
	// compromise response).
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}

type deviceRepo struct {
	db *sql.DB
}

// NewDeviceRepo creates a new DeviceRepo instance
func NewDeviceRepo(db *sql.DB) DeviceRepo {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) Upsert(ctx context.Context, userID uuid.UUID, fingerprintHash string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trusted_devices (user_id, fingerprint_hash, expires_at, last_seen_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, fingerprint_hash)
		DO UPDATE SET expires_at = EXCLUDED.expires_at, last_seen_at = now()
	`, userID, fingerprintHash, expiresAt)
	if err != nil {
		return fmt.Errorf("upsert trusted device: %w", err)
	}
	return nil
}

func (r *deviceRepo) IsTrusted(ctx context.Context, userID uuid.UUID, fingerprintHash string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id
		FROM trusted_devices
		WHERE user_id = $1 AND fingerprint_hash = $2 AND expires_at > now()
	`, userID, fingerprintHash).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check trusted device: %w", err)
	}

	// Touch last_seen_at outside the trust decision; failure here is not fatal.
	_, _ = r.db.ExecContext(ctx, `
		UPDATE trusted_devices SET last_seen_at = now() WHERE id = $1
	`, id)

	return true, nil
}

func (r *deviceRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM trusted_devices WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("revoke devices for user: %w", err)
	}
	return nil
}
