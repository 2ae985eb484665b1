package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/taskmanager/auth-service/internal/model"
)

// MFARepo defines the interface for MFA login session repository operations
type MFARepo interface {
	CreateOrReplaceSession(ctx context.Context, userID uuid.UUID, expiresAt time.Time, requestIP, userAgent *string) (uuid.UUID, error)
	GetActiveSession(ctx context.Context, sessionID uuid.UUID) (model.MFASession, error)
	MarkConsumed(ctx context.Context, sessionID uuid.UUID) error
	IncrementAttempt(ctx context.Context, sessionID uuid.UUID) (newAttemptCount int, err error)
}

type mfaRepo struct {
	db *sql.DB
}

// NewMFARepo creates a new MFARepo instance
func NewMFARepo(db *sql.DB) MFARepo {
	return &mfaRepo{db: db}
}

// CreateOrReplaceSession ensures only one active session per user: atomically
// consumes any existing session (consumed_at IS NULL) and inserts a new one.
// Uses an advisory lock so concurrent logins cannot race the partial unique
// index.
func (r *mfaRepo) CreateOrReplaceSession(ctx context.Context, userID uuid.UUID, expiresAt time.Time, requestIP, userAgent *string) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(1, hashtext($1))`, userID.String())
	if err != nil {
		return uuid.Nil, fmt.Errorf("advisory lock: %w", err)
	}

	// Consume ALL unconsumed rows, including expired ones, before inserting.
	_, err = tx.ExecContext(ctx, `
		UPDATE mfa_sessions
		SET consumed_at = now()
		WHERE user_id = $1 AND consumed_at IS NULL
	`, userID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume existing sessions: %w", err)
	}

	var idStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO mfa_sessions (user_id, expires_at, request_ip, user_agent)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, userID, expiresAt, requestIP, userAgent).Scan(&idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	sessionID, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse session ID: %w", err)
	}
	return sessionID, nil
}

// GetActiveSession returns the session if it is unconsumed and unexpired.
func (r *mfaRepo) GetActiveSession(ctx context.Context, sessionID uuid.UUID) (model.MFASession, error) {
	var s model.MFASession
	var idStr, userIDStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, expires_at, consumed_at, created_at,
		       attempt_count, last_attempt_at, request_ip, user_agent
		FROM mfa_sessions
		WHERE id = $1
		  AND consumed_at IS NULL
		  AND expires_at > now()
	`, sessionID).Scan(
		&idStr,
		&userIDStr,
		&s.ExpiresAt,
		&s.ConsumedAt,
		&s.CreatedAt,
		&s.AttemptCount,
		&s.LastAttemptAt,
		&s.RequestIP,
		&s.UserAgent,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.MFASession{}, ErrNotFound
		}
		return model.MFASession{}, fmt.Errorf("find session: %w", err)
	}
	s.ID, _ = uuid.Parse(idStr)
	s.UserID, _ = uuid.Parse(userIDStr)
	return s, nil
}

// MarkConsumed invalidates the session.
func (r *mfaRepo) MarkConsumed(ctx context.Context, sessionID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE mfa_sessions SET consumed_at = now() WHERE id = $1 AND consumed_at IS NULL
	`, sessionID)
	if err != nil {
		return fmt.Errorf("consume session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementAttempt records a verification attempt and returns the new count.
func (r *mfaRepo) IncrementAttempt(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE mfa_sessions
		SET attempt_count = attempt_count + 1, last_attempt_at = now()
		WHERE id = $1
		RETURNING attempt_count
	`, sessionID).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return count, nil
}
