package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Security  SecurityConfig
	TwoFactor TwoFactorConfig
	Redis     RedisConfig
	Alerts    AlertsConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	MigrateOnStart    bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// AuthConfig covers session issuance and the credential check itself
type AuthConfig struct {
	SessionSecret        string
	MaxSessionAge        time.Duration
	VerifyInterval       time.Duration
	CookieName           string
	CookieSecure         bool
	CookieDomain         string
	PasswordCheckTimeout time.Duration
	TwoFactorTimeout     time.Duration
	TimingDelayBaseMs    int
	TimingDelayRandomMs  int
	AttemptRetention     time.Duration
	SweepInterval        time.Duration
}

// SecurityConfig covers lockout, suspicious-activity and rate-limit policy
type SecurityConfig struct {
	MaxFailedAttempts     int
	LockoutWindow         time.Duration
	LockDuration          time.Duration
	SuspiciousWindow      time.Duration
	SuspiciousIPThreshold int

	GlobalRateLimit  int
	GlobalRateWindow time.Duration
	LoginRateLimit   int
	LoginRateWindow  time.Duration
	AdminRateLimit   int
	AdminRateWindow  time.Duration
	OpsRatePerMinute int
}

type TwoFactorConfig struct {
	EncryptionKey     []byte
	Issuer            string
	RecoveryCodeCount int
	RecoveryCodeCost  int
}

// RedisConfig enables the shared rate-limit store when URL is set
type RedisConfig struct {
	URL string
}

// AlertsConfig enables e-mail notification of security alerts when Recipients is set
type AlertsConfig struct {
	AWSRegion   string
	FromAddress string
	Recipients  []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	sessionSecret := getEnv("SESSION_SECRET", "")
	if sessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}

	env := getEnv("ENV", "development")

	encryptionKey, err := parseEncryptionKey(getEnv("TOTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			MigrateOnStart:    getEnvAsBool("DB_MIGRATE_ON_START", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			SessionSecret:        sessionSecret,
			MaxSessionAge:        getEnvAsDuration("SESSION_MAX_AGE", 8*time.Hour),
			VerifyInterval:       getEnvAsDuration("SESSION_VERIFY_INTERVAL", 5*time.Minute),
			CookieName:           getEnv("SESSION_COOKIE_NAME", "session"),
			CookieSecure:         getEnvAsBool("SESSION_COOKIE_SECURE", env == "production"),
			CookieDomain:         getEnv("SESSION_COOKIE_DOMAIN", ""),
			PasswordCheckTimeout: getEnvAsDuration("PASSWORD_CHECK_TIMEOUT", 3*time.Second),
			TwoFactorTimeout:     getEnvAsDuration("TWO_FACTOR_TIMEOUT", 3*time.Second),
			TimingDelayBaseMs:    getEnvAsInt("TIMING_DELAY_BASE_MS", 250),
			TimingDelayRandomMs:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
			AttemptRetention:     getEnvAsDuration("LOGIN_ATTEMPT_RETENTION", 30*24*time.Hour),
			SweepInterval:        getEnvAsDuration("SWEEP_INTERVAL", 1*time.Minute),
		},
		Security: SecurityConfig{
			MaxFailedAttempts:     getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
			LockoutWindow:         getEnvAsDuration("LOCKOUT_WINDOW", 15*time.Minute),
			LockDuration:          getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
			SuspiciousWindow:      getEnvAsDuration("SUSPICIOUS_WINDOW", 1*time.Hour),
			SuspiciousIPThreshold: getEnvAsInt("SUSPICIOUS_IP_THRESHOLD", 3),
			GlobalRateLimit:       getEnvAsInt("RATE_LIMIT_GLOBAL", 300),
			GlobalRateWindow:      getEnvAsDuration("RATE_LIMIT_GLOBAL_WINDOW", 1*time.Minute),
			LoginRateLimit:        getEnvAsInt("RATE_LIMIT_LOGIN", 5),
			LoginRateWindow:       getEnvAsDuration("RATE_LIMIT_LOGIN_WINDOW", 1*time.Minute),
			AdminRateLimit:        getEnvAsInt("RATE_LIMIT_ADMIN", 60),
			AdminRateWindow:       getEnvAsDuration("RATE_LIMIT_ADMIN_WINDOW", 1*time.Minute),
			OpsRatePerMinute:      getEnvAsInt("RATE_LIMIT_OPS", 30),
		},
		TwoFactor: TwoFactorConfig{
			EncryptionKey:     encryptionKey,
			Issuer:            getEnv("TOTP_ISSUER", "Bastion"),
			RecoveryCodeCount: getEnvAsInt("RECOVERY_CODE_COUNT", 10),
			RecoveryCodeCost:  getEnvAsInt("RECOVERY_CODE_BCRYPT_COST", 10),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Alerts: AlertsConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("ALERT_FROM_ADDRESS", ""),
			Recipients:  getEnvAsList("ALERT_RECIPIENTS"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateSessionSecret(sessionSecret, env); err != nil {
		return nil, err
	}

	if len(cfg.Alerts.Recipients) > 0 && cfg.Alerts.FromAddress == "" {
		return nil, fmt.Errorf("ALERT_FROM_ADDRESS is required when ALERT_RECIPIENTS is set")
	}

	return cfg, nil
}

// validateSessionSecret enforces minimum security standards for the signing secret
func validateSessionSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("SESSION_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// parseEncryptionKey decodes the base64 AES-256 key protecting TOTP secrets
func parseEncryptionKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required")
	}

	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be base64: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}

	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma-separated variable, dropping empty entries
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return []string{}
	}

	items := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS")
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
