package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account in the task-manager platform.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	MFASecret    *string
	MFAEnabled   bool
	TokenVersion int64
	Active       bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MFASession is the short-lived pending state between a successful password
// check and TOTP verification for an MFA-enabled account.
type MFASession struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	ExpiresAt     time.Time
	ConsumedAt    *time.Time
	CreatedAt     time.Time
	AttemptCount  int
	LastAttemptAt *time.Time
	RequestIP     *string
	UserAgent     *string
}

// TrustedDevice records a hashed device fingerprint whose only effect is
// skipping the MFA prompt until ExpiresAt. It is never a credential.
type TrustedDevice struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	FingerprintHash string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	LastSeenAt      *time.Time
}

// LoginAttempt is an append-only audit record of an authentication attempt.
type LoginAttempt struct {
	ID            uuid.UUID
	Email         string
	IP            string
	UserAgent     string
	Success       bool
	Reason        string
	CorrelationID string
	CreatedAt     time.Time
}
