package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskmanager/auth-service/internal/limiter"
	"github.com/taskmanager/auth-service/internal/logging"
	"github.com/taskmanager/auth-service/internal/model"
	"github.com/taskmanager/auth-service/internal/repo"
)

const bcryptCost = 12

// dummyHash is a valid bcrypt hash compared against when the email is
// unknown, so response timing does not reveal whether an account exists.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// Options carries the policy knobs for the auth service.
type Options struct {
	DeviceSalt     string
	DeviceTrustTTL time.Duration
	MFASessionTTL  time.Duration
	MaxMFAFailures int
}

// Service orchestrates credential authentication, MFA, token issuance and
// rotation. All shared mutable state lives in the repositories and the
// counter store; the service itself is stateless and safe for concurrent use.
type Service struct {
	users      repo.UserRepo
	mfa        repo.MFARepo
	devices    repo.DeviceRepo
	attempts   repo.AttemptRepo
	tokens     *JWTService
	lockout    *limiter.Limiter
	mfaLockout *limiter.Limiter
	logger     *zap.Logger
	opts       Options
}

// NewService creates a new auth service. lockout is the shared
// password-failure counter keyed by account; mfaLockout is the shared TOTP
// failure counter keyed by user id. Each limiter's limit and window define
// its lockout policy.
func NewService(
	users repo.UserRepo,
	mfa repo.MFARepo,
	devices repo.DeviceRepo,
	attempts repo.AttemptRepo,
	tokens *JWTService,
	lockout *limiter.Limiter,
	mfaLockout *limiter.Limiter,
	logger *zap.Logger,
	opts Options,
) *Service {
	if opts.MFASessionTTL == 0 {
		opts.MFASessionTTL = 5 * time.Minute
	}
	if opts.MaxMFAFailures == 0 {
		opts.MaxMFAFailures = 5
	}
	if opts.DeviceTrustTTL == 0 {
		opts.DeviceTrustTTL = 30 * 24 * time.Hour
	}
	return &Service{
		users:      users,
		mfa:        mfa,
		devices:    devices,
		attempts:   attempts,
		tokens:     tokens,
		lockout:    lockout,
		mfaLockout: mfaLockout,
		logger:     logger,
		opts:       opts,
	}
}

// AccessTTL returns the lifetime of issued access tokens.
func (s *Service) AccessTTL() time.Duration { return s.tokens.accessTTL }

// RegisterInput is the input for user registration.
type RegisterInput struct {
	Email    string
	Password string
}

// LoginInput is the input for credential authentication.
type LoginInput struct {
	Email         string
	Password      string
	IP            string
	UserAgent     string
	Fingerprint   string
	CorrelationID string
}

// LoginResult is the outcome of Login or VerifyMFA. Either RequiresMFA is
// true and MFASessionID is set, or Tokens is set.
type LoginResult struct {
	User         model.User
	RequiresMFA  bool
	MFASessionID uuid.UUID
	Tokens       *TokenPair
}

// VerifyMFAInput is the input for TOTP verification of a pending login.
type VerifyMFAInput struct {
	SessionID      uuid.UUID
	Code           string
	RememberDevice bool
	Fingerprint    string
	IP             string
	UserAgent      string
	CorrelationID  string
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, input RegisterInput) (model.User, error) {
	if len(input.Password) < 8 || !hasDigit(input.Password) || !hasLetter(input.Password) {
		return model.User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return model.User{}, fmt.Errorf("bcrypt: %w", err)
	}

	user, err := s.users.Create(ctx, input.Email, string(hash))
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login authenticates credentials and either issues a token pair or opens an
// MFA login session. The lockout gate runs before any credential work; a
// locked account rejects even the correct password until the cooldown window
// expires on its own. Counter-store errors reject the login (fail closed).
func (s *Service) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	locked, err := s.lockout.Exceeded(ctx, input.Email)
	if err != nil {
		return nil, fmt.Errorf("lockout check: %w", err)
	}
	if locked {
		s.audit(ctx, input.Email, input, false, "account_locked")
		return nil, ErrAccountLocked
	}

	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Equalize timing for unknown accounts, then fail with the same
			// error a wrong password produces.
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(input.Password))
			return nil, s.recordFailure(ctx, input, "unknown_email")
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)) != nil {
		return nil, s.recordFailure(ctx, input, "invalid_password")
	}

	if !user.Active {
		s.audit(ctx, input.Email, input, false, "user_inactive")
		return nil, ErrInvalidCredentials
	}

	if user.MFAEnabled {
		trusted, err := s.deviceTrusted(ctx, user.ID, input.Fingerprint)
		if err != nil {
			return nil, err
		}
		if !trusted {
			var ip, ua *string
			if input.IP != "" {
				ip = &input.IP
			}
			if input.UserAgent != "" {
				ua = &input.UserAgent
			}
			sessionID, err := s.mfa.CreateOrReplaceSession(ctx, user.ID, time.Now().Add(s.opts.MFASessionTTL), ip, ua)
			if err != nil {
				return nil, fmt.Errorf("create mfa session: %w", err)
			}
			s.audit(ctx, input.Email, input, false, "mfa_required")
			return &LoginResult{User: user, RequiresMFA: true, MFASessionID: sessionID}, nil
		}
	}

	return s.completeLogin(ctx, user, input.Email, input, "success")
}

// VerifyMFA validates the TOTP code for a pending login session and issues
// the token pair. TOTP failures count against a shared windowed counter keyed
// by user id, distinct from the password counter, so the MFA lockout survives
// session replacement and re-login until its window expires on its own.
func (s *Service) VerifyMFA(ctx context.Context, input VerifyMFAInput) (*LoginResult, error) {
	login := LoginInput{IP: input.IP, UserAgent: input.UserAgent, CorrelationID: input.CorrelationID}

	session, err := s.mfa.GetActiveSession(ctx, input.SessionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMFARequired
		}
		return nil, fmt.Errorf("load mfa session: %w", err)
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.MFASecret == nil {
		return nil, ErrMFANotEnabled
	}

	// The lockout gate runs before the code is checked; a locked user stays
	// rejected even with the right code until the window expires.
	locked, err := s.mfaLockout.Exceeded(ctx, user.ID.String())
	if err != nil {
		return nil, fmt.Errorf("mfa lockout check: %w", err)
	}
	if locked {
		s.audit(ctx, user.Email, login, false, "mfa_locked")
		return nil, ErrMFALocked
	}

	if !ValidateTOTP(input.Code, *user.MFASecret) {
		// Per-session count for the audit trail; the lockout decision comes
		// from the shared counter.
		if _, err := s.mfa.IncrementAttempt(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("record mfa attempt: %w", err)
		}
		count, err := s.mfaLockout.Record(ctx, user.ID.String())
		if err != nil {
			return nil, fmt.Errorf("record mfa failure: %w", err)
		}
		if count >= int64(s.opts.MaxMFAFailures) {
			s.audit(ctx, user.Email, login, false, "mfa_locked")
			return nil, ErrMFALocked
		}
		s.audit(ctx, user.Email, login, false, "invalid_mfa_code")
		return nil, ErrInvalidMFACode
	}

	if err := s.mfa.MarkConsumed(ctx, session.ID); err != nil {
		return nil, fmt.Errorf("consume mfa session: %w", err)
	}

	if input.RememberDevice && input.Fingerprint != "" {
		hash := HashFingerprint(input.Fingerprint, s.opts.DeviceSalt)
		if err := s.devices.Upsert(ctx, user.ID, hash, time.Now().Add(s.opts.DeviceTrustTTL)); err != nil {
			// Trust is a convenience; the login itself still succeeds.
			s.logger.Warn("failed to record trusted device",
				zap.String("user_id", user.ID.String()),
				zap.Error(err))
		}
	}

	return s.completeLogin(ctx, user, user.Email, login, "mfa_success")
}

// RefreshInput carries the refresh token plus the request metadata that goes
// into the audit trail when a reuse is detected.
type RefreshInput struct {
	RefreshToken  string
	IP            string
	UserAgent     string
	CorrelationID string
}

// Refresh validates a refresh token, rotates the token version and issues a
// new pair. A version mismatch means the token was already exchanged (or
// stolen); every outstanding refresh token for the user is invalidated, the
// reuse is audited, and the caller must re-authenticate from scratch.
func (s *Service) Refresh(ctx context.Context, input RefreshInput) (*TokenPair, error) {
	claims, err := s.tokens.VerifyRefreshToken(input.RefreshToken)
	if err != nil {
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.Active {
		return nil, ErrInvalidRefreshToken
	}

	if claims.TokenVersion != user.TokenVersion {
		// Replay of a rotated-out token. Kill the whole lineage.
		if _, err := s.users.IncrementTokenVersion(ctx, user.ID); err != nil {
			s.logger.Error("failed to revoke token lineage after reuse",
				zap.String("user_id", user.ID.String()),
				zap.Error(err))
		}
		s.audit(ctx, user.Email, LoginInput{
			IP:            input.IP,
			UserAgent:     input.UserAgent,
			CorrelationID: input.CorrelationID,
		}, false, "refresh_reuse")
		s.logger.Warn("refresh token reuse detected",
			zap.String("user_id", user.ID.String()),
			zap.String("correlation_id", input.CorrelationID),
			zap.Int64("presented_version", claims.TokenVersion),
			zap.Int64("current_version", user.TokenVersion))
		return nil, ErrInvalidRefreshToken
	}

	version, err := s.users.IncrementTokenVersion(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("rotate token version: %w", err)
	}

	pair, err := s.tokens.SignPair(user.ID, user.Email, version)
	if err != nil {
		return nil, fmt.Errorf("sign tokens: %w", err)
	}
	return &pair, nil
}

// Logout bumps the token version so every outstanding refresh token for the
// user is invalidated. Access tokens simply age out.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	if _, err := s.users.IncrementTokenVersion(ctx, userID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

// SetupMFA generates a pending TOTP secret for the user. MFA stays disabled
// until ConfirmMFA sees a valid code. While MFA is enabled the live secret
// cannot be replaced; the user must disable first, which demands a valid
// current code.
func (s *Service) SetupMFA(ctx context.Context, userID uuid.UUID) (secret, url string, err error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("load user: %w", err)
	}
	if user.MFAEnabled {
		return "", "", ErrMFAAlreadyEnabled
	}

	secret, url, err = GenerateMFASecret(user.Email)
	if err != nil {
		return "", "", err
	}
	if err := s.users.SetMFASecret(ctx, userID, secret); err != nil {
		return "", "", fmt.Errorf("store mfa secret: %w", err)
	}
	return secret, url, nil
}

// ConfirmMFA enables MFA once the user proves possession of the secret.
func (s *Service) ConfirmMFA(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if user.MFASecret == nil {
		return ErrMFANotEnabled
	}
	if !ValidateTOTP(code, *user.MFASecret) {
		return ErrInvalidMFACode
	}
	if err := s.users.SetMFAEnabled(ctx, userID, true); err != nil {
		return fmt.Errorf("enable mfa: %w", err)
	}
	return nil
}

// DisableMFA turns MFA off after a valid code and revokes all device trust.
func (s *Service) DisableMFA(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !user.MFAEnabled || user.MFASecret == nil {
		return ErrMFANotEnabled
	}
	if !ValidateTOTP(code, *user.MFASecret) {
		return ErrInvalidMFACode
	}
	if err := s.users.SetMFAEnabled(ctx, userID, false); err != nil {
		return fmt.Errorf("disable mfa: %w", err)
	}
	if err := s.devices.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("revoke trusted devices: %w", err)
	}
	return nil
}

func (s *Service) completeLogin(ctx context.Context, user model.User, email string, input LoginInput, reason string) (*LoginResult, error) {
	pair, err := s.tokens.SignPair(user.ID, user.Email, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("sign tokens: %w", err)
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("failed to update last login",
			zap.String("user_id", user.ID.String()),
			zap.Error(err))
	}
	s.audit(ctx, email, input, true, reason)

	// The failure counter is NOT reset here; it expires with its window.
	return &LoginResult{User: user, Tokens: &pair}, nil
}

// recordFailure counts the failed attempt against the account and returns
// the uniform credential error. The externally visible error never says
// whether the email exists.
func (s *Service) recordFailure(ctx context.Context, input LoginInput, reason string) error {
	if _, err := s.lockout.Record(ctx, input.Email); err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	s.audit(ctx, input.Email, input, false, reason)
	return ErrInvalidCredentials
}

func (s *Service) deviceTrusted(ctx context.Context, userID uuid.UUID, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, nil
	}
	hash := HashFingerprint(fingerprint, s.opts.DeviceSalt)
	trusted, err := s.devices.IsTrusted(ctx, userID, hash)
	if err != nil {
		return false, fmt.Errorf("check device trust: %w", err)
	}
	return trusted, nil
}

func (s *Service) audit(ctx context.Context, email string, input LoginInput, success bool, reason string) {
	err := s.attempts.Record(ctx, model.LoginAttempt{
		Email:         email,
		IP:            input.IP,
		UserAgent:     input.UserAgent,
		Success:       success,
		Reason:        reason,
		CorrelationID: input.CorrelationID,
	})
	if err != nil {
		s.logger.Error("failed to record login attempt", zap.Error(err))
	}
	s.logger.Info("login attempt",
		zap.String("email", logging.MaskEmail(email)),
		zap.Bool("success", success),
		zap.String("reason", reason),
		zap.String("correlation_id", input.CorrelationID))
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func hasLetter(s string) bool {
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return true
		}
	}
	return false
}
