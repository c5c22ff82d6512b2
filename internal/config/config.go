package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Credential modes select the single credential system of record for a deployment.
const (
	CredentialModeDevice  = "device"
	CredentialModeSession = "session"
)

// Config holds process-wide settings read once at startup.
type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	PGDSN           string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	VerifyRate      string
	CredentialMode  string
	AllowDurationMS int64
	AuthSecret      string
	MaxBodyBytes    int64
	ProvisionFile   string
	AdminRateBurst  int
	AdminRatePerSec int
}

// LoadDotEnv reads path (usually ".env") into the environment if it exists.
// Variables already set in the environment win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

// Load reads OPENWAY_* variables and validates them.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:       getenv("OPENWAY_HTTP_ADDR", ":8080"),
		GRPCAddr:       getenv("OPENWAY_GRPC_ADDR", ":9090"),
		PGDSN:          strings.TrimSpace(os.Getenv("OPENWAY_PG_DSN")),
		RedisAddr:      strings.TrimSpace(os.Getenv("OPENWAY_REDIS_ADDR")),
		RedisPassword:  os.Getenv("OPENWAY_REDIS_PASSWORD"),
		VerifyRate:     getenv("OPENWAY_VERIFY_RATE", "30/second"),
		CredentialMode: strings.ToLower(getenv("OPENWAY_CREDENTIAL_MODE", CredentialModeDevice)),
		AuthSecret:     strings.TrimSpace(os.Getenv("OPENWAY_AUTH_SECRET")),
		ProvisionFile:  strings.TrimSpace(os.Getenv("OPENWAY_PROVISION_FILE")),
	}
	var err error
	if cfg.RedisDB, err = getInt("OPENWAY_REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.AllowDurationMS, err = getInt64("OPENWAY_ALLOW_DURATION_MS", 800); err != nil {
		return Config{}, err
	}
	if cfg.MaxBodyBytes, err = getInt64("OPENWAY_MAX_BODY_BYTES", 16<<10); err != nil {
		return Config{}, err
	}
	if cfg.AdminRateBurst, err = getInt("OPENWAY_ADMIN_RATE_BURST", 10); err != nil {
		return Config{}, err
	}
	if cfg.AdminRatePerSec, err = getInt("OPENWAY_ADMIN_RATE_PER_SEC", 5); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch c.CredentialMode {
	case CredentialModeDevice, CredentialModeSession:
	default:
		return fmt.Errorf("config: OPENWAY_CREDENTIAL_MODE must be %q or %q, got %q",
			CredentialModeDevice, CredentialModeSession, c.CredentialMode)
	}
	if c.AllowDurationMS <= 0 {
		return fmt.Errorf("config: OPENWAY_ALLOW_DURATION_MS must be positive, got %d", c.AllowDurationMS)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("config: OPENWAY_MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes)
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("config: OPENWAY_HTTP_ADDR is required")
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid int for %s: %w", key, err)
	}
	return i, nil
}

func getInt64(key string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid int for %s: %w", key, err)
	}
	return i, nil
}
