package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sesamelabs/sesame/internal/directory"
	"github.com/sesamelabs/sesame/internal/license"
	"github.com/sesamelabs/sesame/internal/model"
	"github.com/sesamelabs/sesame/internal/repository"
	"github.com/sesamelabs/sesame/internal/service"
	"github.com/sesamelabs/sesame/internal/validation"
)

type adminHandler struct {
	tokens   *service.TokenService
	sessions *service.SessionRegistry
	limiter  *service.RateLimitService
	mfa      *service.MFAService
	gate     *license.Gate
	dir      directory.Directory
	bans     repository.BannedIPRepository
}

func NewAdminHandler(
	tokens *service.TokenService,
	sessions *service.SessionRegistry,
	limiter *service.RateLimitService,
	mfa *service.MFAService,
	gate *license.Gate,
	dir directory.Directory,
	bans repository.BannedIPRepository,
) *adminHandler {
	return &adminHandler{
		tokens:   tokens,
		sessions: sessions,
		limiter:  limiter,
		mfa:      mfa,
		gate:     gate,
		dir:      dir,
		bans:     bans,
	}
}

// Tokens

type createTokenRequest struct {
	Email   string         `json:"email"`
	Context map[string]any `json:"context,omitempty"`
}

// CreateToken issues a magic-link token without sending it anywhere. The
// plaintext secret appears in this response and nowhere else.
func (h *adminHandler) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if err := validation.ValidateEmail(strings.TrimSpace(req.Email)); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "a valid email is required"})
		return
	}

	token, err := h.tokens.Issue(req.Email, req.Context)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"token":  token,
		"secret": token.Secret,
	})
}

func (h *adminHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")

	tokens, err := h.tokens.List(email)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (h *adminHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.tokens.ByID(r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, token)
}

type extendTokenRequest struct {
	Days int `json:"days"`
}

func (h *adminHandler) ExtendToken(w http.ResponseWriter, r *http.Request) {
	var req extendTokenRequest
	if err := decodeBody(r, &req); err != nil || req.Days <= 0 {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "days must be a positive integer"})
		return
	}

	token, err := h.tokens.Extend(r.PathValue("id"), req.Days)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, token)
}

func (h *adminHandler) BlockToken(w http.ResponseWriter, r *http.Request) {
	if err := h.tokens.Block(r.PathValue("id")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *adminHandler) ReactivateToken(w http.ResponseWriter, r *http.Request) {
	if err := h.tokens.Reactivate(r.PathValue("id")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *adminHandler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	if err := h.tokens.Delete(r.PathValue("id")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *adminHandler) CleanupTokens(w http.ResponseWriter, r *http.Request) {
	removed, err := h.tokens.CleanupExpired()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// Sessions

func (h *adminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.URL.Query().Get("user_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type revokeSessionRequest struct {
	Session string `json:"session"`
	Reason  string `json:"reason,omitempty"`
}

// RevokeSession accepts either a session id or, for older integrations,
// the bearer credential itself.
func (h *adminHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	var req revokeSessionRequest
	if err := decodeBody(r, &req); err != nil || req.Session == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "session is required"})
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = "revoked by admin"
	}

	if err := h.sessions.Revoke(req.Session, reason); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *adminHandler) UnrevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Unrevoke(r.PathValue("id")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *adminHandler) SweepSessions(w http.ResponseWriter, r *http.Request) {
	swept, err := h.sessions.SweepExpired()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"swept": swept})
}

// Users

type blockUserRequest struct {
	Blocked bool `json:"blocked"`
}

func (h *adminHandler) BlockUser(w http.ResponseWriter, r *http.Request) {
	var req blockUserRequest
	if err := decodeBody(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	err := h.dir.SetBlocked(r.PathValue("id"), req.Blocked)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// ResetUserTOTP removes a user's authenticator enrollment, for lockout
// recovery. The user re-enrolls on next login.
func (h *adminHandler) ResetUserTOTP(w http.ResponseWriter, r *http.Request) {
	if err := h.mfa.DisableTOTP(r.PathValue("id")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// IP bans

type banIPRequest struct {
	IP     string `json:"ip"`
	Reason string `json:"reason,omitempty"`
}

func (h *adminHandler) BanIP(w http.ResponseWriter, r *http.Request) {
	if !h.gate.HasFeature(license.FeatureIPBan) {
		respondError(w, service.ErrFeatureNotLicensed)
		return
	}

	var req banIPRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.IP) == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "ip is required"})
		return
	}

	if max := h.gate.MaxIPBans(); max >= 0 {
		count, err := h.bans.Count()
		if err != nil {
			respondError(w, err)
			return
		}
		if !license.WithinQuota(max, count) {
			respondError(w, service.ErrQuotaExceeded)
			return
		}
	}

	ban := &model.BannedIP{
		ID:        uuid.NewString(),
		IP:        strings.TrimSpace(req.IP),
		Reason:    req.Reason,
		CreatedAt: time.Now(),
	}
	if err := h.bans.Create(ban); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ban)
}

func (h *adminHandler) ListBannedIPs(w http.ResponseWriter, r *http.Request) {
	bans, err := h.bans.List()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"banned_ips": bans})
}

func (h *adminHandler) UnbanIP(w http.ResponseWriter, r *http.Request) {
	err := h.bans.Delete(r.PathValue("ip"))
	if errors.Is(err, repository.ErrBannedIPNotFound) {
		respondJSON(w, http.StatusNotFound, errorBody{Error: "ip not banned"})
		return
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// License

func (h *adminHandler) LicenseStatus(w http.ResponseWriter, r *http.Request) {
	tier := h.gate.EffectiveTier()

	current, err := h.gate.Current()
	if errors.Is(err, license.ErrNoLicense) {
		respondJSON(w, http.StatusOK, map[string]any{"tier": tier, "active": false})
		return
	}
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"tier":           tier,
		"active":         current.Active,
		"expires_at":     current.ExpiresAt,
		"last_validated": current.LastValidated,
	})
}

type activateLicenseRequest struct {
	Key string `json:"key"`
}

func (h *adminHandler) ActivateLicense(w http.ResponseWriter, r *http.Request) {
	var req activateLicenseRequest
	if err := decodeBody(r, &req); err != nil || req.Key == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "key is required"})
		return
	}

	lic, err := h.gate.Activate(r.Context(), req.Key)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tier": lic.Tier, "active": lic.Active})
}

func (h *adminHandler) PingLicense(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Refresh(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tier": h.gate.EffectiveTier()})
}

func (h *adminHandler) DeactivateLicense(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Deactivate(r.Context()); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// Rate limits

func (h *adminHandler) RateLimitStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.limiter.Stats()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *adminHandler) ResetRateLimits(w http.ResponseWriter, r *http.Request) {
	if err := h.limiter.Reset(); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
