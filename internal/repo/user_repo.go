package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/taskmanager/auth-service/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate")

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	Create(ctx context.Context, email, passwordHash string) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	SetMFASecret(ctx context.Context, id uuid.UUID, secret string) error
	SetMFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	// IncrementTokenVersion bumps the refresh-token version and returns the
	// new value. Every refresh token minted at an older version is dead
	// after this call.
	IncrementTokenVersion(ctx context.Context, id uuid.UUID) (int64, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, email, password_hash, mfa_secret, mfa_enabled, token_version, active, last_login_at, created_at, updated_at`

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	var idStr string
	err := row.Scan(
		&idStr,
		&u.Email,
		&u.PasswordHash,
		&u.MFASecret,
		&u.MFAEnabled,
		&u.TokenVersion,
		&u.Active,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("parse user ID: %w", err)
	}
	return u, nil
}

// Create inserts a new user with the given bcrypt hash.
func (r *userRepo) Create(ctx context.Context, email, passwordHash string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING `+userColumns+`
	`, email, passwordHash)

	u, err := scanUser(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.User{}, ErrDuplicate
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetByEmail retrieves a user by email
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email)
	return scanUser(row)
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)
	return scanUser(row)
}

// SetMFASecret stores a pending TOTP secret; MFA stays disabled until the
// first valid code confirms enrollment.
func (r *userRepo) SetMFASecret(ctx context.Context, id uuid.UUID, secret string) error {
	return r.exec(ctx, `
		UPDATE users SET mfa_secret = $2, updated_at = now() WHERE id = $1
	`, id, secret)
}

// SetMFAEnabled flips the MFA flag; disabling also clears the secret.
func (r *userRepo) SetMFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	if !enabled {
		return r.exec(ctx, `
			UPDATE users SET mfa_enabled = FALSE, mfa_secret = NULL, updated_at = now() WHERE id = $1
		`, id)
	}
	return r.exec(ctx, `
		UPDATE users SET mfa_enabled = TRUE, updated_at = now() WHERE id = $1
	`, id)
}

// IncrementTokenVersion atomically bumps token_version and returns the new value.
func (r *userRepo) IncrementTokenVersion(ctx context.Context, id uuid.UUID) (int64, error) {
	var version int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE users SET token_version = token_version + 1, updated_at = now()
		WHERE id = $1
		RETURNING token_version
	`, id).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment token version: %w", err)
	}
	return version, nil
}

// UpdateLastLogin stamps the user's last successful login.
func (r *userRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `
		UPDATE users SET last_login_at = now(), updated_at = now() WHERE id = $1
	`, id)
}

func (r *userRepo) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
