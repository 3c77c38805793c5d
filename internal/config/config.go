package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory    = "memory"
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"

	FeedMemory = "memory"
	FeedRedis  = "redis"
	FeedNATS   = "nats"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Feed      FeedConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Firestore FirestoreConfig
	Auth      AuthConfig
	Invites   InviteConfig
}

type ServerConfig struct {
	Host        string
	Port        int
	Secure      bool   // Send HSTS
	Environment string // "development", "production", "test"
	Debug       bool
	LogLevel    string
}

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Driver string
}

// FeedConfig selects the change feed that drives watches.
type FeedConfig struct {
	Driver string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type NATSConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
}

type AuthConfig struct {
	JWTSecret string
}

type InviteConfig struct {
	SweepInterval   time.Duration
	CreatePerMinute int
	StreamHeartbeat time.Duration
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// NeedsRedis reports whether any component talks to Redis.
func (c *Config) NeedsRedis() bool {
	return c.Feed.Driver == FeedRedis || c.Invites.CreatePerMinute > 0
}

// Warnings lists valid but risky combinations worth logging at startup.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Store.Driver == StoreFirestore && c.Feed.Driver == FeedMemory {
		warnings = append(warnings,
			"FEED_DRIVER=memory with STORE_DRIVER=firestore: watches only see writes made by this instance; use redis or nats when running more than one")
	}
	if c.Store.Driver == StorePostgres && c.Feed.Driver == FeedMemory {
		warnings = append(warnings,
			"FEED_DRIVER=memory with STORE_DRIVER=postgres: watches only see writes made by this instance")
	}
	return warnings
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        getEnvInt("SERVER_PORT", 8080),
			Secure:      getEnvBool("SERVER_SECURE", false),
			Environment: getEnv("APP_ENV", "development"),
			Debug:       getEnvBool("DEBUG", false),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		},
		Feed: FeedConfig{
			Driver: strings.ToLower(getEnv("FEED_DRIVER", FeedMemory)),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "quizduel"),
			Password: getEnv("DB_PASSWORD", "quizduel"),
			DBName:   getEnv("DB_NAME", "quizduel"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", "nats://localhost:4222"),
			Name:          getEnv("NATS_CLIENT_NAME", "quizduel"),
			MaxReconnects: getEnvInt("NATS_MAX_RECONNECTS", 60),
			ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
		Firestore: FirestoreConfig{
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
			CredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Invites: InviteConfig{
			SweepInterval:   getEnvDuration("INVITE_SWEEP_INTERVAL", 5*time.Second),
			CreatePerMinute: getEnvInt("INVITE_CREATE_PER_MINUTE", 20),
			StreamHeartbeat: getEnvDuration("STREAM_HEARTBEAT", 15*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreMemory, StorePostgres, StoreFirestore:
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", ErrInvalidConfig, c.Store.Driver)
	}

	switch c.Feed.Driver {
	case FeedMemory, FeedRedis, FeedNATS:
	default:
		return fmt.Errorf("%w: unknown FEED_DRIVER %q", ErrInvalidConfig, c.Feed.Driver)
	}

	if c.Auth.JWTSecret == "" {
		if c.Server.Environment == "production" {
			return fmt.Errorf("%w: JWT_SECRET is required in production", ErrInvalidConfig)
		}
		c.Auth.JWTSecret = "dev-secret-change-me"
	}

	if c.Invites.SweepInterval <= 0 {
		return fmt.Errorf("%w: INVITE_SWEEP_INTERVAL must be positive", ErrInvalidConfig)
	}
	if c.Invites.StreamHeartbeat <= 0 {
		return fmt.Errorf("%w: STREAM_HEARTBEAT must be positive", ErrInvalidConfig)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
