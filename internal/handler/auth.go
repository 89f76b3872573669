package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sesamelabs/sesame/internal/ctxkeys"
	"github.com/sesamelabs/sesame/internal/service"
	"github.com/sesamelabs/sesame/internal/validation"
)

type authHandler struct {
	login    *service.LoginService
	mfa      *service.MFAService
	sessions *service.SessionRegistry
}

func NewAuthHandler(login *service.LoginService, mfa *service.MFAService, sessions *service.SessionRegistry) *authHandler {
	return &authHandler{
		login:    login,
		mfa:      mfa,
		sessions: sessions,
	}
}

type sendLinkRequest struct {
	Email   string         `json:"email"`
	Context map[string]any `json:"context,omitempty"`
}

// SendLink issues a magic-link token and emails it. Always returns 200 for
// a well-formed email so callers cannot probe which addresses exist.
func (h *authHandler) SendLink(w http.ResponseWriter, r *http.Request) {
	var req sendLinkRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	email := strings.TrimSpace(req.Email)
	if err := validation.ValidateEmail(email); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "a valid email is required"})
		return
	}

	result, err := h.login.SendLink(r.Context(), email, req.Context, ctxkeys.ClientIP(r.Context()))
	if err != nil {
		// Rate limits and disabled state are real errors; user lookup
		// failures are masked to prevent enumeration
		if maskable(err) {
			slog.Warn("magic link send masked", "error", err, "email", email)
			respondJSON(w, http.StatusOK, map[string]any{"sent": true})
			return
		}
		respondError(w, err)
		return
	}

	body := map[string]any{"sent": result.Sent}
	if result.Warning != "" {
		body["warning"] = result.Warning
	}
	respondJSON(w, http.StatusOK, body)
}

// Login exchanges a magic-link token for a session, or for a second-factor
// challenge when OTP or TOTP is in play. The token rides in the query
// string because this URL is what the email links to.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	secret := r.URL.Query().Get("token")
	if secret == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "token is required"})
		return
	}

	result, challenge, err := h.login.LoginWithToken(r.Context(), secret, ctxkeys.ClientIP(r.Context()), r.UserAgent())
	if err != nil {
		respondError(w, err)
		return
	}
	if challenge != nil {
		respondJSON(w, http.StatusAccepted, challenge)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type otpSendRequest struct {
	Email string `json:"email"`
}

// SendOTP creates and delivers a fresh one-time code, invalidating any
// outstanding codes for the address. Also serves resends.
func (h *authHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req otpSendRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	email := strings.TrimSpace(req.Email)
	if err := validation.ValidateEmail(email); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "a valid email is required"})
		return
	}

	err := h.login.SendOTP(r.Context(), email, ctxkeys.ClientIP(r.Context()))
	if err != nil {
		if maskable(err) {
			slog.Warn("otp send masked", "error", err, "email", email)
			respondJSON(w, http.StatusOK, map[string]any{"sent": true})
			return
		}
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"sent": true})
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerifyOTP completes a login parked on an email code challenge.
func (h *authHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.Email == "" || req.Code == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "email and code are required"})
		return
	}

	result, err := h.login.CompleteOTP(req.Email, req.Code, ctxkeys.ClientIP(r.Context()), r.UserAgent())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type totpLoginRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
	Token string `json:"token,omitempty"`
}

// VerifyMFATOTP completes a magic-link login parked on an authenticator
// challenge. The original link token proves the first factor.
func (h *authHandler) VerifyMFATOTP(w http.ResponseWriter, r *http.Request) {
	var req totpLoginRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.Token == "" || req.Code == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "token and code are required"})
		return
	}

	result, err := h.login.CompleteTOTP(req.Token, req.Code, ctxkeys.ClientIP(r.Context()), r.UserAgent())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// LoginTOTP is the authenticator-only entry point: email plus code, no
// magic link involved.
func (h *authHandler) LoginTOTP(w http.ResponseWriter, r *http.Request) {
	var req totpLoginRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.Email == "" || req.Code == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "email and code are required"})
		return
	}

	result, err := h.login.LoginWithTOTP(req.Email, req.Code, ctxkeys.ClientIP(r.Context()), r.UserAgent())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Logout revokes the caller's own session.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := ctxkeys.SessionID(r.Context())
	if sessionID == "" {
		respondJSON(w, http.StatusNoContent, nil)
		return
	}

	err := h.sessions.Revoke(sessionID, "logout")
	if err != nil && !errors.Is(err, service.ErrSessionNotFound) {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// SetupTOTP enrolls the authenticated user. The shared secret and
// provisioning URL are returned exactly once.
func (h *authHandler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	enrollment, err := h.mfa.SetupTOTP(user.ID, user.Email)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, enrollment)
}

type totpCodeRequest struct {
	Code string `json:"code"`
}

// ConfirmTOTP verifies the first code after enrollment and enables the
// authenticator.
func (h *authHandler) ConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	var req totpCodeRequest
	if err := decodeBody(r, &req); err != nil || req.Code == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "code is required"})
		return
	}

	user := ctxkeys.User(r.Context())
	err := h.mfa.VerifyTOTP(user.ID, req.Code, true)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"enabled": true})
}

func (h *authHandler) TOTPStatus(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	status, err := h.mfa.GetTOTPStatus(user.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func (h *authHandler) DisableTOTP(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	err := h.mfa.DisableTOTP(user.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// BackupCodes generates a fresh set, replacing any previous set. Plaintext
// codes are returned exactly once.
func (h *authHandler) BackupCodes(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	codes, err := h.mfa.GenerateBackupCodes(user.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"codes": codes})
}

// Sessions lists the caller's own sessions.
func (h *authHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	sessions, err := h.sessions.List(user.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// Me returns the authenticated user and claims.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"user":   ctxkeys.User(r.Context()),
		"claims": ctxkeys.Claims(r.Context()),
	})
}

// maskable reports errors that must not be distinguishable from success on
// unauthenticated endpoints.
func maskable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, service.ErrUserBlocked):
		return true
	}
	return false
}
