package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the top-level service configuration
type Config struct {
	ServerConfig   ServerConfig   `json:"server"`
	DatabaseConfig DatabaseConfig `json:"database"`
	AuthConfig     AuthConfig     `json:"auth"`
	VaultConfig    VaultConfig    `json:"vault"`
	BillingConfig  BillingConfig  `json:"billing"`
	RedisConfig    RedisConfig    `json:"redis"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	LicenseConfig  LicenseConfig  `json:"license"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AdminOrigins   []string `json:"admin_origins"` // allowed origins for the admin dashboard
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// AuthConfig holds JWT and password settings for the admin surface
type AuthConfig struct {
	JWTSecret            string        `json:"jwt_secret"`
	AccessTokenDuration  time.Duration `json:"access_token_duration"`
	RefreshTokenDuration time.Duration `json:"refresh_token_duration"`
	BcryptCost           int           `json:"bcrypt_cost"`
	SeedAdmin            bool          `json:"seed_admin"`
	AdminEmail           string        `json:"admin_email"`
	AdminPassword        string        `json:"admin_password"`
}

// VaultConfig holds HashiCorp Vault settings for secret material
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	SecretPath string `json:"secret_path"` // KV v2 path holding jwt_secret and stripe_webhook_secret
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// BillingConfig holds Stripe webhook settings. An empty secret disables
// signature verification, which is only acceptable in development.
type BillingConfig struct {
	WebhookSecret string `json:"webhook_secret"`
}

// RedisConfig holds Redis settings for the public endpoint rate limiter
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`

	// Rate limit for the public verification endpoint, per client IP
	RateLimit       int `json:"rate_limit"`        // requests per window
	RateLimitWindow int `json:"rate_limit_window"` // window in seconds
}

// LoggingConfig controls the structured logger
type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// LicenseConfig holds key issuance defaults
type LicenseConfig struct {
	KeyPrefix             string `json:"key_prefix"`              // customer-facing key prefix, e.g. EMBP
	DefaultMaxActivations int    `json:"default_max_activations"` // slots per key when the product config omits it
}

// Load reads configuration from the JSON config file and applies
// environment variable overrides.
func Load() (*Config, error) {
	cfg := defaultConfig()

	path := getEnv("CONFIG_PATH", "config.json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ServerConfig: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			AdminOrigins: []string{"http://localhost:5173"},
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "license_server",
			Database: "license_server",
			SSLMode:  "disable",
		},
		AuthConfig: AuthConfig{
			AccessTokenDuration:  15 * time.Minute,
			RefreshTokenDuration: 7 * 24 * time.Hour,
			BcryptCost:           12,
			SeedAdmin:            true,
			AdminEmail:           "admin@embpay.local",
		},
		RedisConfig: RedisConfig{
			Address:         "localhost:6379",
			PoolSize:        10,
			RateLimit:       60,
			RateLimitWindow: 60,
		},
		LoggingConfig: LoggingConfig{
			Level:  "INFO",
			Output: "stdout",
		},
		LicenseConfig: LicenseConfig{
			KeyPrefix:             "EMBP",
			DefaultMaxActivations: 1,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.ServerConfig.Host = getEnv("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvInt("SERVER_PORT", cfg.ServerConfig.Port)

	cfg.DatabaseConfig.Host = getEnv("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvInt("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnv("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnv("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnv("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnv("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.AuthConfig.JWTSecret = getEnv("JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AdminEmail = getEnv("ADMIN_EMAIL", cfg.AuthConfig.AdminEmail)
	cfg.AuthConfig.AdminPassword = getEnv("ADMIN_PASSWORD", cfg.AuthConfig.AdminPassword)

	cfg.VaultConfig.Address = getEnv("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnv("VAULT_TOKEN", cfg.VaultConfig.Token)

	cfg.BillingConfig.WebhookSecret = getEnv("STRIPE_WEBHOOK_SECRET", cfg.BillingConfig.WebhookSecret)

	cfg.RedisConfig.Address = getEnv("REDIS_ADDR", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnv("REDIS_PASSWORD", cfg.RedisConfig.Password)

	cfg.LoggingConfig.Level = getEnv("LOG_LEVEL", cfg.LoggingConfig.Level)

	cfg.LicenseConfig.KeyPrefix = getEnv("LICENSE_KEY_PREFIX", cfg.LicenseConfig.KeyPrefix)
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerConfig.Port)
	}
	if c.LicenseConfig.DefaultMaxActivations < 1 {
		return fmt.Errorf("default_max_activations must be at least 1, got %d", c.LicenseConfig.DefaultMaxActivations)
	}
	if c.LicenseConfig.KeyPrefix == "" {
		return fmt.Errorf("license key_prefix must not be empty")
	}
	if c.RedisConfig.Enabled && c.RedisConfig.RateLimit <= 0 {
		return fmt.Errorf("redis rate_limit must be positive when redis is enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
