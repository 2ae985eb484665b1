package auth

import "errors"

// Sentinel errors returned by the auth service. Handlers map these to HTTP
// statuses; the externally visible messages never distinguish unknown email
// from wrong password.
var (
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrAccountLocked       = errors.New("account temporarily locked")
	ErrMFARequired         = errors.New("mfa verification required")
	ErrInvalidMFACode      = errors.New("invalid mfa code")
	ErrMFALocked           = errors.New("too many mfa attempts")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrRateLimited         = errors.New("rate limit exceeded")

	ErrEmailTaken        = errors.New("email already registered")
	ErrWeakPassword      = errors.New("password does not meet policy")
	ErrMFANotEnabled     = errors.New("mfa is not enabled")
	ErrMFAAlreadyEnabled = errors.New("mfa is already enabled")
)
