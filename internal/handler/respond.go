package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sesamelabs/sesame/internal/directory"
	"github.com/sesamelabs/sesame/internal/license"
	"github.com/sesamelabs/sesame/internal/repository"
	"github.com/sesamelabs/sesame/internal/service"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// respondError maps service sentinel errors to HTTP statuses. Unknown
// errors become an opaque 500 so internals never leak to clients.
func respondError(w http.ResponseWriter, err error) {
	var rateErr *service.RateLimitedError
	if errors.As(err, &rateErr) {
		seconds := int(rateErr.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
		respondJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests", RetryAfter: seconds})
		return
	}

	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, service.ErrPluginDisabled):
		status, message = http.StatusServiceUnavailable, "authentication is disabled"
	case errors.Is(err, service.ErrRateLimited):
		status, message = http.StatusTooManyRequests, "too many requests"
	case errors.Is(err, service.ErrTokenInvalid):
		status, message = http.StatusUnauthorized, "invalid or expired token"
	case errors.Is(err, service.ErrOTPExpired):
		status, message = http.StatusUnauthorized, "code expired"
	case errors.Is(err, service.ErrOTPMaxAttempts):
		status, message = http.StatusUnauthorized, "too many attempts"
	case errors.Is(err, service.ErrOTPInvalid):
		status, message = http.StatusUnauthorized, "invalid code"
	case errors.Is(err, service.ErrTOTPInvalid):
		status, message = http.StatusUnauthorized, "invalid code"
	case errors.Is(err, service.ErrTOTPNotConfigured):
		status, message = http.StatusConflict, "authenticator not configured"
	case errors.Is(err, service.ErrUserNotFound), errors.Is(err, directory.ErrUserNotFound):
		status, message = http.StatusNotFound, "user not found"
	case errors.Is(err, service.ErrUserBlocked), errors.Is(err, directory.ErrUserBlocked):
		status, message = http.StatusForbidden, "user is blocked"
	case errors.Is(err, service.ErrFeatureNotLicensed):
		status, message = http.StatusPaymentRequired, "feature not available on current license"
	case errors.Is(err, service.ErrQuotaExceeded):
		status, message = http.StatusPaymentRequired, "license quota exceeded"
	case errors.Is(err, service.ErrSessionNotFound):
		status, message = http.StatusNotFound, "session not found"
	case errors.Is(err, service.ErrSessionExpired):
		status, message = http.StatusGone, "session already expired"
	case errors.Is(err, repository.ErrTokenNotFound):
		status, message = http.StatusNotFound, "token not found"
	case errors.Is(err, license.ErrNoLicense):
		status, message = http.StatusNotFound, "no license activated"
	case errors.Is(err, license.ErrServerUnavailable):
		status, message = http.StatusBadGateway, "license server unavailable"
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}

	respondJSON(w, status, errorBody{Error: message})
}

// decodeBody parses a JSON request body into dst, capping the read size.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
