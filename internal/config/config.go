package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the YAML file read when no path is given to Load.
const EnvConfigFile = "TICKETD_CONFIG_FILE"

// Storage backends
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Ticket        TicketConfig        `yaml:"ticket"`
	Storage       StorageConfig       `yaml:"storage"`
	Database      DatabaseConfig      `yaml:"database"`
	KeyStore      KeyStoreConfig      `yaml:"keystore"`
	Registry      RegistryConfig      `yaml:"registry"`
	Observability ObservabilityConfig `yaml:"observability"`
	Security      SecurityConfig      `yaml:"security"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TicketConfig holds ticket validity configuration
type TicketConfig struct {
	Lifetime      time.Duration `yaml:"lifetime"`
	RenewInterval time.Duration `yaml:"renew_interval"`
}

// StorageConfig selects where credential records live
type StorageConfig struct {
	Backend  string `yaml:"backend"`
	FilePath string `yaml:"file_path"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"name"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// KeyStoreConfig selects where session keys live
type KeyStoreConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
}

// RegistryConfig points at the unit registry used for permission checks
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	OTELEnabled    bool   `yaml:"otel_enabled"`
	OTELEndpoint   string `yaml:"otel_endpoint"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}

// SecurityConfig holds password derivation parameters. Clients and the
// server must agree on them.
type SecurityConfig struct {
	Argon2Memory      uint32 `yaml:"argon2_memory"`
	Argon2Iterations  uint32 `yaml:"argon2_iterations"`
	Argon2Parallelism uint8  `yaml:"argon2_parallelism"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Ticket: TicketConfig{
			Lifetime:      15 * time.Minute,
			RenewInterval: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Backend:  BackendFile,
			FilePath: "credentials.yaml",
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         "5432",
			User:         "ticketd",
			Database:     "ticketd",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		KeyStore: KeyStoreConfig{
			Backend:   BackendMemory,
			RedisAddr: "localhost:6379",
			Prefix:    "ticketd:session-key:",
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			ServiceName:    "ticketd",
			ServiceVersion: "0.1.0",
		},
		Security: SecurityConfig{
			Argon2Memory:      64 * 1024,
			Argon2Iterations:  3,
			Argon2Parallelism: 4,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path (or $TICKETD_CONFIG_FILE) and TICKETD_* environment variables, in
// that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("TICKETD_SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnv("TICKETD_SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = parseDuration("TICKETD_SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = parseDuration("TICKETD_SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = parseDuration("TICKETD_SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = parseDuration("TICKETD_SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Ticket.Lifetime = parseDuration("TICKETD_TICKET_LIFETIME", c.Ticket.Lifetime)
	c.Ticket.RenewInterval = parseDuration("TICKETD_TICKET_RENEW_INTERVAL", c.Ticket.RenewInterval)

	c.Storage.Backend = getEnv("TICKETD_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.FilePath = getEnv("TICKETD_STORAGE_FILE", c.Storage.FilePath)

	c.Database.URL = getEnv("TICKETD_DB_URL", c.Database.URL)
	c.Database.Host = getEnv("TICKETD_DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("TICKETD_DB_PORT", c.Database.Port)
	c.Database.User = getEnv("TICKETD_DB_USER", c.Database.User)
	c.Database.Password = getEnv("TICKETD_DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnv("TICKETD_DB_NAME", c.Database.Database)
	c.Database.SSLMode = getEnv("TICKETD_DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxOpenConns = parseInt("TICKETD_DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = parseInt("TICKETD_DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)

	c.KeyStore.Backend = getEnv("TICKETD_KEYSTORE_BACKEND", c.KeyStore.Backend)
	c.KeyStore.RedisAddr = getEnv("TICKETD_REDIS_ADDR", c.KeyStore.RedisAddr)
	c.KeyStore.RedisPassword = getEnv("TICKETD_REDIS_PASSWORD", c.KeyStore.RedisPassword)
	c.KeyStore.RedisDB = parseInt("TICKETD_REDIS_DB", c.KeyStore.RedisDB)
	c.KeyStore.Prefix = getEnv("TICKETD_REDIS_PREFIX", c.KeyStore.Prefix)

	c.Registry.Path = getEnv("TICKETD_REGISTRY_FILE", c.Registry.Path)

	c.Observability.LogLevel = getEnv("TICKETD_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("TICKETD_LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.OTELEnabled = parseBool("TICKETD_OTEL_ENABLED", c.Observability.OTELEnabled)
	c.Observability.OTELEndpoint = getEnv("TICKETD_OTEL_ENDPOINT", c.Observability.OTELEndpoint)
	c.Observability.ServiceName = getEnv("TICKETD_OTEL_SERVICE_NAME", c.Observability.ServiceName)
	c.Observability.ServiceVersion = getEnv("TICKETD_OTEL_SERVICE_VERSION", c.Observability.ServiceVersion)

	c.Security.Argon2Memory = uint32(parseInt("TICKETD_ARGON2_MEMORY", int(c.Security.Argon2Memory)))
	c.Security.Argon2Iterations = uint32(parseInt("TICKETD_ARGON2_ITERATIONS", int(c.Security.Argon2Iterations)))
	c.Security.Argon2Parallelism = uint8(parseInt("TICKETD_ARGON2_PARALLELISM", int(c.Security.Argon2Parallelism)))

	c.RateLimit.RequestsPerSecond = parseFloat("TICKETD_RATELIMIT_RPS", c.RateLimit.RequestsPerSecond)
	c.RateLimit.Burst = parseInt("TICKETD_RATELIMIT_BURST", c.RateLimit.Burst)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []error

	if c.Ticket.Lifetime <= 0 {
		errs = append(errs, errors.New("ticket lifetime must be positive"))
	}
	if c.Ticket.RenewInterval <= 0 || c.Ticket.RenewInterval >= c.Ticket.Lifetime {
		errs = append(errs, fmt.Errorf("ticket renew interval %s must be positive and shorter than the lifetime %s",
			c.Ticket.RenewInterval, c.Ticket.Lifetime))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile:
		if c.Storage.FilePath == "" {
			errs = append(errs, errors.New("TICKETD_STORAGE_FILE is required for the file backend"))
		}
	case BackendPostgres:
		if c.Database.URL == "" && c.Database.Password == "" {
			errs = append(errs, errors.New("TICKETD_DB_URL or TICKETD_DB_PASSWORD is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.KeyStore.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.KeyStore.RedisAddr == "" {
			errs = append(errs, errors.New("TICKETD_REDIS_ADDR is required for the redis key store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown key store backend %q", c.KeyStore.Backend))
	}

	if c.Security.Argon2Memory == 0 || c.Security.Argon2Iterations == 0 || c.Security.Argon2Parallelism == 0 {
		errs = append(errs, errors.New("argon2 parameters must be positive"))
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("rate limit must be positive"))
	}

	return errors.Join(errs...)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
