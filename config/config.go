package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultJWKSURL publishes the signing keys of Firebase ID tokens
const DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Firebase      FirebaseConfig
	Accounts      AccountStoreConfig
	Gateway       GatewayConfig
	IdentityCache IdentityCacheConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// FirebaseConfig identifies the issuing application at the identity provider.
// Only ProjectID takes part in token verification; the remaining fields are the
// client bootstrap settings handed to the sign-in collaborator.
type FirebaseConfig struct {
	ProjectID   string
	APIKey      string
	AppID       string
	AuthDomain  string
	JWKSURL     string
	KeySetTTL   time.Duration // fallback when the key endpoint sends no max-age
	HTTPTimeout time.Duration
	ClockSkew   time.Duration
}

// AccountStoreConfig describes where account records live
type AccountStoreConfig struct {
	Collection string
	InitSchema bool
}

// GatewayConfig tunes the verification gateway
type GatewayConfig struct {
	ProtectedPrefix     string
	VerifyTimeout       time.Duration
	LookupTimeout       time.Duration
	EnforceSubjectMatch bool
	RateLimitRPM        float64
}

// IdentityCacheConfig controls caching of verified identities between requests
type IdentityCacheConfig struct {
	Backend    string // memory, redis or none
	TTL        time.Duration
	MaxEntries int
	RedisURL   string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Firebase: FirebaseConfig{
			ProjectID:   getEnv("FIREBASE_PROJECT_ID", ""),
			APIKey:      getEnv("FIREBASE_API_KEY", ""),
			AppID:       getEnv("FIREBASE_APP_ID", ""),
			AuthDomain:  getEnv("FIREBASE_AUTH_DOMAIN", ""),
			JWKSURL:     getEnv("FIREBASE_JWKS_URL", DefaultJWKSURL),
			KeySetTTL:   getEnvAsDuration("FIREBASE_KEYSET_TTL", time.Hour),
			HTTPTimeout: getEnvAsDuration("FIREBASE_HTTP_TIMEOUT", 5*time.Second),
			ClockSkew:   getEnvAsDuration("FIREBASE_CLOCK_SKEW", 30*time.Second),
		},
		Accounts: AccountStoreConfig{
			Collection: getEnv("ACCOUNT_COLLECTION", "user-accounts"),
			InitSchema: getEnvAsBool("ACCOUNT_INIT_SCHEMA", false),
		},
		Gateway: GatewayConfig{
			ProtectedPrefix:     getEnv("GATEWAY_PROTECTED_PREFIX", "/api"),
			VerifyTimeout:       getEnvAsDuration("GATEWAY_VERIFY_TIMEOUT", 5*time.Second),
			LookupTimeout:       getEnvAsDuration("GATEWAY_LOOKUP_TIMEOUT", 3*time.Second),
			EnforceSubjectMatch: getEnvAsBool("GATEWAY_ENFORCE_SUBJECT_MATCH", false),
			RateLimitRPM:        getEnvAsFloat("RATE_LIMIT_RPM", 0),
		},
		IdentityCache: IdentityCacheConfig{
			Backend:    strings.ToLower(getEnv("IDENTITY_CACHE_BACKEND", "memory")),
			TTL:        getEnvAsDuration("IDENTITY_CACHE_TTL", 0),
			MaxEntries: getEnvAsInt("IDENTITY_CACHE_MAX_ENTRIES", 10000),
			RedisURL:   getEnv("REDIS_URL", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.IsProduction() && c.Firebase.ProjectID == "" {
		return fmt.Errorf("firebase project ID is required in production")
	}

	if c.Accounts.Collection == "" {
		return fmt.Errorf("account collection is required")
	}

	if !strings.HasPrefix(c.Gateway.ProtectedPrefix, "/") {
		return fmt.Errorf("protected prefix must start with '/': %q", c.Gateway.ProtectedPrefix)
	}
	if c.Gateway.VerifyTimeout <= 0 || c.Gateway.LookupTimeout <= 0 {
		return fmt.Errorf("gateway timeouts must be positive")
	}

	switch c.IdentityCache.Backend {
	case "none", "memory":
	case "redis":
		if c.IdentityCache.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when IDENTITY_CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unknown identity cache backend: %s", c.IdentityCache.Backend)
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "dev"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "transcriber_store"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
