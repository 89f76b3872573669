package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	AppEnv  string
	AppURL  string
	Port    string

	// Master switch for the whole login flow. When off every login and
	// token endpoint rejects immediately.
	Enabled bool

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string
	DBConnection string

	// Bearer credentials
	JWTSecret     string
	SessionExpiry string // "<N>d", "<N>h" or "<N>m", e.g. "30d"

	// Magic-link tokens
	TokenLength       int  // secret length in bytes, clamped to 16..128
	TokenExpirePeriod int  // default token lifetime in seconds
	TokenStaysValid   bool // token remains usable after a successful login
	StoreLoginInfo    bool // record IP/user-agent on token use
	AllowUserCreation bool // auto-create unknown users on link request

	// Token context filtering (comma-separated field names; empty = no filter)
	ContextWhitelist []string
	ContextBlacklist []string
	ContextAllowed   []string // keys echoed into issued session claims

	// OTP second factor
	OTPEnabled     bool
	OTPLength      int
	OTPExpiry      int // seconds
	OTPMaxAttempts int
	OTPPepper      string

	// TOTP second factor
	RequireTOTP        bool // ask for TOTP when the user has it enrolled
	TOTPPrimaryEnabled bool // allow TOTP-only login without a magic link
	EncryptionKey      string

	// Rate limiting
	RateLimitDisabled bool
	RateLimitMax      int
	RateLimitWindow   time.Duration

	// Licensing
	LicenseServerURL string
	LicenseKey       string
	LicensePing      time.Duration

	// Admin API
	AdminAPIKey string

	// Email
	EmailFrom    string
	ResendAPIKey string

	// Observability (optional)
	SentryDSN string
}

func Load() *Config {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := &Config{
		// Application
		AppName: envString("APP_NAME", "Sesame"),
		AppEnv:  envRequired("APP_ENV"), // Required: 'development' or 'production'
		AppURL:  envRequired("APP_URL"), // Required: base URL for login links
		Port:    envString("PORT", "8090"),
		Enabled: envBool("AUTH_ENABLED", true),

		// Database
		DBDriver:     envString("DB_DRIVER", "sqlite"),
		DBConnection: envString("DB_CONNECTION", "./data/sesame.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"),

		// Bearer credentials
		JWTSecret:     envRequired("JWT_SECRET"),
		SessionExpiry: envString("SESSION_EXPIRY", "30d"),

		// Magic-link tokens
		TokenLength:       envInt("TOKEN_LENGTH", 32),
		TokenExpirePeriod: envInt("TOKEN_EXPIRE_PERIOD", 3600),
		TokenStaysValid:   envBool("TOKEN_STAYS_VALID", false),
		StoreLoginInfo:    envBool("STORE_LOGIN_INFO", true),
		AllowUserCreation: envBool("ALLOW_USER_CREATION", true),

		ContextWhitelist: envList("CONTEXT_WHITELIST"),
		ContextBlacklist: envList("CONTEXT_BLACKLIST"),
		ContextAllowed:   envListDefault("CONTEXT_ALLOWED", "redirect,locale,ref,plan"),

		// OTP
		OTPEnabled:     envBool("OTP_ENABLED", false),
		OTPLength:      envInt("OTP_LENGTH", 6),
		OTPExpiry:      envInt("OTP_EXPIRY", 300),
		OTPMaxAttempts: envInt("OTP_MAX_ATTEMPTS", 3),
		OTPPepper:      envString("OTP_PEPPER", ""),

		// TOTP
		RequireTOTP:        envBool("REQUIRE_TOTP", false),
		TOTPPrimaryEnabled: envBool("TOTP_PRIMARY_ENABLED", false),
		EncryptionKey:      envString("ENCRYPTION_KEY", ""),

		// Rate limiting
		RateLimitDisabled: envBool("RATE_LIMIT_DISABLED", false),
		RateLimitMax:      envInt("RATE_LIMIT_MAX", 5),
		RateLimitWindow:   envDuration("RATE_LIMIT_WINDOW", 15*time.Minute),

		// Licensing
		LicenseServerURL: envString("LICENSE_SERVER_URL", ""),
		LicenseKey:       envString("LICENSE_KEY", ""),
		LicensePing:      envDuration("LICENSE_PING_INTERVAL", 1*time.Hour),

		// Admin API
		AdminAPIKey: envString("ADMIN_API_KEY", ""),

		// Email (RESEND_API_KEY optional in development, required in production)
		EmailFrom:    envString("EMAIL_FROM", "noreply@example.com"),
		ResendAPIKey: envString("RESEND_API_KEY", ""),

		// Observability
		SentryDSN: envString("SENTRY_DSN", ""),
	}

	// Production: validate required services
	if cfg.IsProduction() {
		validateProduction(cfg)
	}

	return cfg
}

// validateProduction ensures all required services are configured for production
// deployments. Development allows email and secrets to use fallback modes for
// easier local testing.
func validateProduction(cfg *Config) {
	if cfg.ResendAPIKey == "" {
		slog.Error("production deployment requires RESEND_API_KEY",
			"hint", "set APP_ENV=development for local testing with email log mode")
		os.Exit(1)
	}
	if cfg.OTPEnabled && cfg.OTPPepper == "" {
		slog.Error("production deployment requires OTP_PEPPER when OTP is enabled")
		os.Exit(1)
	}
	if cfg.EncryptionKey == "" {
		slog.Error("production deployment requires ENCRYPTION_KEY for TOTP secrets at rest")
		os.Exit(1)
	}
	if cfg.AdminAPIKey == "" {
		slog.Error("production deployment requires ADMIN_API_KEY")
		os.Exit(1)
	}
}

func envString(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		value = def
	}
	return value
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

func envList(key string) []string {
	return splitList(os.Getenv(key))
}

func envListDefault(key, def string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = def
	}
	return splitList(v)
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envRequired(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	slog.Error("config required env var missing", "key", key)
	os.Exit(1)
	return ""
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Sanitized returns a copy of the config with only public/safe fields.
// All secrets and credentials are excluded.
func (c *Config) Sanitized() *Config {
	return &Config{
		AppName: c.AppName,
		AppEnv:  c.AppEnv,
		AppURL:  c.AppURL,
		Port:    c.Port,
		Enabled: c.Enabled,

		EmailFrom: c.EmailFrom,

		OTPEnabled:         c.OTPEnabled,
		RequireTOTP:        c.RequireTOTP,
		TOTPPrimaryEnabled: c.TOTPPrimaryEnabled,
	}
}
