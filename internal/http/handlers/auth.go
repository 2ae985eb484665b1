package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskmanager/auth-service/internal/auth"
	"github.com/taskmanager/auth-service/internal/logging"
	"github.com/taskmanager/auth-service/internal/metrics"
	"github.com/taskmanager/auth-service/internal/middleware"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	service *auth.Service
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(service *auth.Service, logger *zap.Logger, m *metrics.Metrics) *AuthHandler {
	return &AuthHandler{service: service, logger: logger, metrics: m}
}

// userResponse is the user object in API responses
type userResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	MFAEnabled bool   `json:"mfa_enabled"`
}

// tokenResponse is the access/refresh pair in API responses
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// registerRequest is the request body for POST /auth/register
type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister handles POST /auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.service.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			respondWithError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrEmailTaken):
			respondWithError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("registration failed",
				zap.String("email", logging.MaskEmail(req.Email)),
				zap.Error(err))
			respondWithError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, userResponse{
		ID:    user.ID.String(),
		Email: user.Email,
	})
}

// loginRequest is the request body for POST /auth/login
type loginRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

// loginResponse is the JSON response for login. Either the token fields are
// set, or requires_mfa is true and mfa_session_id carries the handle for
// POST /auth/verify-mfa.
type loginResponse struct {
	RequiresMFA  bool          `json:"requires_mfa"`
	MFASessionID string        `json:"mfa_session_id,omitempty"`
	AccessToken  string        `json:"access_token,omitempty"`
	RefreshToken string        `json:"refresh_token,omitempty"`
	TokenType    string        `json:"token_type,omitempty"`
	ExpiresIn    int64         `json:"expires_in,omitempty"`
	User         *userResponse `json:"user,omitempty"`
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	result, err := h.service.Login(r.Context(), auth.LoginInput{
		Email:         req.Email,
		Password:      req.Password,
		IP:            middleware.ClientIP(r),
		UserAgent:     r.UserAgent(),
		Fingerprint:   req.DeviceFingerprint,
		CorrelationID: chimw.GetReqID(r.Context()),
	})
	if err != nil {
		h.metrics.LoginAttempts.WithLabelValues(outcomeLabel(err)).Inc()
		h.writeAuthError(w, r, err)
		return
	}

	if result.RequiresMFA {
		h.metrics.LoginAttempts.WithLabelValues("mfa_required").Inc()
		respondWithJSON(w, http.StatusOK, loginResponse{
			RequiresMFA:  true,
			MFASessionID: result.MFASessionID.String(),
		})
		return
	}

	h.metrics.LoginAttempts.WithLabelValues("success").Inc()
	respondWithJSON(w, http.StatusOK, h.loginBody(result))
}

// verifyMFARequest is the request body for POST /auth/verify-mfa
type verifyMFARequest struct {
	MFASessionID      string `json:"mfa_session_id"`
	Code              string `json:"code"`
	RememberDevice    bool   `json:"remember_device,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

// HandleVerifyMFA handles POST /auth/verify-mfa
func (h *AuthHandler) HandleVerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	sessionID, err := uuid.Parse(strings.TrimSpace(req.MFASessionID))
	if err != nil || req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "mfa_session_id and code are required")
		return
	}

	result, err := h.service.VerifyMFA(r.Context(), auth.VerifyMFAInput{
		SessionID:      sessionID,
		Code:           req.Code,
		RememberDevice: req.RememberDevice,
		Fingerprint:    req.DeviceFingerprint,
		IP:             middleware.ClientIP(r),
		UserAgent:      r.UserAgent(),
		CorrelationID:  chimw.GetReqID(r.Context()),
	})
	if err != nil {
		h.metrics.MFAAttempts.WithLabelValues(outcomeLabel(err)).Inc()
		h.writeAuthError(w, r, err)
		return
	}

	h.metrics.MFAAttempts.WithLabelValues("success").Inc()
	respondWithJSON(w, http.StatusOK, h.loginBody(result))
}

// refreshRequest is the request body for POST /auth/refresh
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := h.service.Refresh(r.Context(), auth.RefreshInput{
		RefreshToken:  req.RefreshToken,
		IP:            middleware.ClientIP(r),
		UserAgent:     r.UserAgent(),
		CorrelationID: chimw.GetReqID(r.Context()),
	})
	if err != nil {
		h.metrics.RefreshAttempts.WithLabelValues(outcomeLabel(err)).Inc()
		h.writeAuthError(w, r, err)
		return
	}

	h.metrics.RefreshAttempts.WithLabelValues("success").Inc()
	respondWithJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(h.service.AccessTTL().Seconds()),
	})
}

// HandleLogout handles POST /auth/logout (protected)
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.service.Logout(r.Context(), userID); err != nil {
		h.logger.Error("logout failed", zap.String("user_id", userID.String()), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// mfaSetupResponse is the JSON response for POST /auth/mfa/setup
type mfaSetupResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

// HandleSetupMFA handles POST /auth/mfa/setup (protected)
func (h *AuthHandler) HandleSetupMFA(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	secret, url, err := h.service.SetupMFA(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrMFAAlreadyEnabled) {
			respondWithError(w, http.StatusConflict, auth.ErrMFAAlreadyEnabled.Error())
			return
		}
		h.logger.Error("mfa setup failed", zap.String("user_id", userID.String()), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "mfa setup failed")
		return
	}
	respondWithJSON(w, http.StatusOK, mfaSetupResponse{Secret: secret, URL: url})
}

// mfaCodeRequest is the request body for MFA confirm/disable
type mfaCodeRequest struct {
	Code string `json:"code"`
}

// HandleConfirmMFA handles POST /auth/mfa/confirm (protected)
func (h *AuthHandler) HandleConfirmMFA(w http.ResponseWriter, r *http.Request) {
	h.handleMFAToggle(w, r, h.service.ConfirmMFA)
}

// HandleDisableMFA handles POST /auth/mfa/disable (protected)
func (h *AuthHandler) HandleDisableMFA(w http.ResponseWriter, r *http.Request) {
	h.handleMFAToggle(w, r, h.service.DisableMFA)
}

func (h *AuthHandler) handleMFAToggle(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID, string) error) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req mfaCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := op(r.Context(), userID, req.Code); err != nil {
		h.writeAuthError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

// HandleMe handles GET /me (protected). Returns the authenticated user.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok || user == nil {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	respondWithJSON(w, http.StatusOK, userResponse{
		ID:         user.ID.String(),
		Email:      user.Email,
		MFAEnabled: user.MFAEnabled,
	})
}

func (h *AuthHandler) loginBody(result *auth.LoginResult) loginResponse {
	return loginResponse{
		RequiresMFA:  false,
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(h.service.AccessTTL().Seconds()),
		User: &userResponse{
			ID:         result.User.ID.String(),
			Email:      result.User.Email,
			MFAEnabled: result.User.MFAEnabled,
		},
	}
}

// writeAuthError maps service errors to HTTP statuses. Credential failures
// share one message so callers cannot tell which check failed.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondWithError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
	case errors.Is(err, auth.ErrAccountLocked):
		respondWithError(w, http.StatusLocked, auth.ErrAccountLocked.Error())
	case errors.Is(err, auth.ErrMFARequired):
		respondWithError(w, http.StatusUnauthorized, "mfa session expired, log in again")
	case errors.Is(err, auth.ErrInvalidMFACode):
		respondWithError(w, http.StatusUnauthorized, auth.ErrInvalidMFACode.Error())
	case errors.Is(err, auth.ErrMFALocked):
		respondWithError(w, http.StatusLocked, auth.ErrMFALocked.Error())
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		respondWithError(w, http.StatusUnauthorized, auth.ErrInvalidRefreshToken.Error())
	case errors.Is(err, auth.ErrMFANotEnabled):
		respondWithError(w, http.StatusBadRequest, auth.ErrMFANotEnabled.Error())
	case errors.Is(err, auth.ErrRateLimited):
		respondWithError(w, http.StatusTooManyRequests, auth.ErrRateLimited.Error())
	default:
		h.logger.Error("auth operation failed",
			zap.String("correlation_id", chimw.GetReqID(r.Context())),
			zap.Error(err))
		respondWithError(w, http.StatusServiceUnavailable, "service unavailable")
	}
}

// outcomeLabel folds an error into a low-cardinality metric label.
func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, auth.ErrMFARequired):
		return "mfa_session_expired"
	case errors.Is(err, auth.ErrInvalidMFACode):
		return "invalid_mfa_code"
	case errors.Is(err, auth.ErrMFALocked):
		return "mfa_locked"
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		return "invalid_refresh_token"
	case errors.Is(err, auth.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}

// respondWithJSON writes a JSON response body
func respondWithJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}
