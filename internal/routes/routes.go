package routes

import (
	"net/http"

	"github.com/sesamelabs/sesame/internal/app"
	"github.com/sesamelabs/sesame/internal/handler"
	"github.com/sesamelabs/sesame/internal/middleware"
)

func SetupRoutes(app *app.App) http.Handler {
	// Handlers
	auth := handler.NewAuthHandler(app.LoginService, app.MFAService, app.Sessions)
	admin := handler.NewAdminHandler(
		app.TokenService,
		app.Sessions,
		app.RateLimiter,
		app.MFAService,
		app.Gate,
		app.Directory,
		app.BannedIPs,
	)

	adminKey := middleware.RequireAdminKey(app.Cfg.AdminAPIKey)

	mux := http.NewServeMux()

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Magic-link flow
	mux.HandleFunc("POST /auth/send-link", auth.SendLink)
	mux.HandleFunc("GET /auth/login", auth.Login)

	// Email OTP
	mux.HandleFunc("POST /auth/otp/send", auth.SendOTP)
	mux.HandleFunc("POST /auth/otp/resend", auth.SendOTP)
	mux.HandleFunc("POST /auth/otp/verify", auth.VerifyOTP)

	// Authenticator
	mux.HandleFunc("POST /auth/verify-mfa-totp", auth.VerifyMFATOTP)
	mux.HandleFunc("POST /auth/login-totp", auth.LoginTOTP)

	// ============================================================================
	// AUTHENTICATED ROUTES
	// ============================================================================

	mux.HandleFunc("GET /auth/me", middleware.RequireAuth(auth.Me))
	mux.HandleFunc("POST /auth/logout", middleware.RequireAuth(auth.Logout))
	mux.HandleFunc("GET /auth/sessions", middleware.RequireAuth(auth.Sessions))

	mux.HandleFunc("POST /auth/totp/setup", middleware.RequireAuth(auth.SetupTOTP))
	mux.HandleFunc("POST /auth/totp/verify", middleware.RequireAuth(auth.ConfirmTOTP))
	mux.HandleFunc("GET /auth/totp/status", middleware.RequireAuth(auth.TOTPStatus))
	mux.HandleFunc("DELETE /auth/totp", middleware.RequireAuth(auth.DisableTOTP))
	mux.HandleFunc("POST /auth/totp/backup-codes", middleware.RequireAuth(auth.BackupCodes))

	// ============================================================================
	// ADMIN ROUTES
	// ============================================================================

	mux.HandleFunc("POST /admin/tokens", adminKey(admin.CreateToken))
	mux.HandleFunc("GET /admin/tokens", adminKey(admin.ListTokens))
	mux.HandleFunc("GET /admin/tokens/{id}", adminKey(admin.GetToken))
	mux.HandleFunc("POST /admin/tokens/{id}/extend", adminKey(admin.ExtendToken))
	mux.HandleFunc("POST /admin/tokens/{id}/block", adminKey(admin.BlockToken))
	mux.HandleFunc("POST /admin/tokens/{id}/reactivate", adminKey(admin.ReactivateToken))
	mux.HandleFunc("DELETE /admin/tokens/{id}", adminKey(admin.DeleteToken))
	mux.HandleFunc("POST /admin/tokens/cleanup", adminKey(admin.CleanupTokens))

	mux.HandleFunc("GET /admin/sessions", adminKey(admin.ListSessions))
	mux.HandleFunc("POST /admin/sessions/revoke", adminKey(admin.RevokeSession))
	mux.HandleFunc("POST /admin/sessions/{id}/unrevoke", adminKey(admin.UnrevokeSession))
	mux.HandleFunc("POST /admin/sessions/sweep", adminKey(admin.SweepSessions))

	mux.HandleFunc("POST /admin/users/{id}/block", adminKey(admin.BlockUser))
	mux.HandleFunc("DELETE /admin/users/{id}/totp", adminKey(admin.ResetUserTOTP))

	mux.HandleFunc("POST /admin/banned-ips", adminKey(admin.BanIP))
	mux.HandleFunc("GET /admin/banned-ips", adminKey(admin.ListBannedIPs))
	mux.HandleFunc("DELETE /admin/banned-ips/{ip}", adminKey(admin.UnbanIP))

	mux.HandleFunc("GET /admin/license", adminKey(admin.LicenseStatus))
	mux.HandleFunc("POST /admin/license/activate", adminKey(admin.ActivateLicense))
	mux.HandleFunc("POST /admin/license/ping", adminKey(admin.PingLicense))
	mux.HandleFunc("DELETE /admin/license", adminKey(admin.DeactivateLicense))

	mux.HandleFunc("GET /admin/rate-limits", adminKey(admin.RateLimitStats))
	mux.HandleFunc("DELETE /admin/rate-limits", adminKey(admin.ResetRateLimits))

	// Middleware chain (first executes first)
	return middleware.Chain(mux,
		middleware.RequestLogging,
		middleware.ClientIP,
		middleware.BlockBannedIPs(app.BannedIPs),
		middleware.AuthMiddleware(app.LoginService, app.Sessions, app.Directory),
	)
}
