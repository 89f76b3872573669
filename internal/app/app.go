package app

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sesamelabs/sesame/internal/config"
	"github.com/sesamelabs/sesame/internal/crypto"
	"github.com/sesamelabs/sesame/internal/db"
	"github.com/sesamelabs/sesame/internal/directory"
	"github.com/sesamelabs/sesame/internal/license"
	"github.com/sesamelabs/sesame/internal/notify"
	"github.com/sesamelabs/sesame/internal/repository"
	"github.com/sesamelabs/sesame/internal/service"
)

type App struct {
	Cfg          *config.Config
	DB           *sqlx.DB
	Directory    directory.Directory
	TokenService *service.TokenService
	Sessions     *service.SessionRegistry
	MFAService   *service.MFAService
	RateLimiter  *service.RateLimitService
	LoginService *service.LoginService
	Gate         *license.Gate
	BannedIPs    repository.BannedIPRepository

	licenseMonitor *license.Monitor
	janitor        *janitor
}

func New(cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	// Repositories
	userRepository := repository.NewUserRepository(database)
	tokenRepository := repository.NewTokenRepository(database)
	sessionRepository := repository.NewSessionRepository(database)
	otpRepository := repository.NewOTPRepository(database)
	totpRepository := repository.NewTOTPRepository(database)
	rateLimitRepository := repository.NewRateLimitRepository(database)
	licenseRepository := repository.NewLicenseRepository(database)
	bannedIPRepository := repository.NewBannedIPRepository(database)

	dir := directory.New(userRepository)

	// Licensing
	licenseClient := license.NewClient(cfg.LicenseServerURL)
	gate := license.NewGate(licenseRepository, licenseClient, cfg.LicenseKey)

	// TOTP secrets are encrypted at rest
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %v", err)
	}

	// Services
	tokenService := service.NewTokenService(cfg, tokenRepository, dir, gate)
	sessionRegistry := service.NewSessionRegistry(sessionRepository, gate)
	mfaService := service.NewMFAService(cfg, otpRepository, totpRepository, encryptor, gate)
	rateLimiter := service.NewRateLimitService(cfg, rateLimitRepository)

	notifier := notify.NewResendNotifier(cfg.ResendAPIKey, cfg.EmailFrom, cfg.IsDevelopment())
	renderer := notify.NewRenderer(cfg.AppName)

	loginService := service.NewLoginService(
		cfg,
		tokenService,
		sessionRegistry,
		mfaService,
		gate,
		dir,
		notifier,
		renderer,
		rateLimiter,
	)

	app := &App{
		Cfg:          cfg,
		DB:           database,
		Directory:    dir,
		TokenService: tokenService,
		Sessions:     sessionRegistry,
		MFAService:   mfaService,
		RateLimiter:  rateLimiter,
		LoginService: loginService,
		Gate:         gate,
		BannedIPs:    bannedIPRepository,
	}

	return app, nil
}

// StartBackground launches the license monitor and the periodic sweeps.
// Safe to skip in tests.
func (a *App) StartBackground() {
	a.licenseMonitor = license.StartMonitor(a.Gate, a.Cfg.LicensePing)
	a.janitor = startJanitor(a, 10*time.Minute)
}

func (a *App) Close() error {
	if a.janitor != nil {
		a.janitor.Stop()
	}
	if a.licenseMonitor != nil {
		a.licenseMonitor.Stop()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
