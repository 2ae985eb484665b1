package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskmanager/auth-service/internal/model"
)

// AttemptRepo records login attempts for audit. Rows are append-only.
type AttemptRepo interface {
	Record(ctx context.Context, attempt model.LoginAttempt) error
}

type attemptRepo struct {
	db *sql.DB
}

// NewAttemptRepo creates a new AttemptRepo instance
func NewAttemptRepo(db *sql.DB) AttemptRepo {
	return &attemptRepo{db: db}
}

func (r *attemptRepo) Record(ctx context.Context, attempt model.LoginAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_attempts (email, ip, user_agent, success, reason, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, attempt.Email, attempt.IP, attempt.UserAgent, attempt.Success, attempt.Reason, attempt.CorrelationID)
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}
