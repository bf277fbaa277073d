package config

import (
	"fmt"
	"time"

	"callsignal-backend/pkg/env"
)

// Store backends
const (
	StoreCockroach = "cockroach"
	StoreMemory    = "memory"
)

var defaultCORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	MinIO     MinIOConfig
	JWT       JWTConfig
	Log       LogConfig
	Push      PushConfig
	Signaling SignalingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int
	Environment     string // development, staging, production
	ServiceName     string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	CORSOrigins     []string
}

// StoreConfig selects the call store backend
type StoreConfig struct {
	Backend           string // cockroach, memory
	DirectorySeedFile string // JSON profiles for the memory directory
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	MaxConns       int
	MinConns       int
	ConnectRetries int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
	CacheTTL time.Duration
}

// CassandraConfig holds the call event journal configuration
type CassandraConfig struct {
	Enabled     bool
	Hosts       []string
	Keyspace    string
	Consistency string
	Timeout     time.Duration
}

// MinIOConfig holds the call archive configuration
type MinIOConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	Audience          string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// PushConfig holds push notification configuration
type PushConfig struct {
	Provider            string // mock, fcm, apns
	FirebaseProjectID   string
	FirebaseCredentials string
	APNsKeyPath         string
	APNsKeyID           string
	APNsTeamID          string
	APNsTopic           string
	APNsProduction      bool
}

// SignalingConfig holds limits applied to the signaling endpoints
type SignalingConfig struct {
	MaxPayloadBytes  int
	RateLimit        int
	RateWindow       time.Duration
	LifecycleRetries int
	HistoryLimit     int
	HistoryMaxLimit  int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            env.GetInt("PORT", 8083),
			Environment:     env.GetString("ENV", "development"),
			ServiceName:     env.GetString("SERVICE_NAME", "signaling-service"),
			ShutdownTimeout: env.GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  env.GetDuration("REQUEST_TIMEOUT", 15*time.Second),
			CORSOrigins:     env.GetStringSlice("CORS_ALLOWED_ORIGINS", defaultCORSOrigins),
		},
		Store: StoreConfig{
			Backend:           env.GetString("STORE_BACKEND", StoreCockroach),
			DirectorySeedFile: env.GetString("DIRECTORY_SEED_FILE", ""),
		},
		Database: DatabaseConfig{
			Host:           env.GetString("DB_HOST", "localhost"),
			Port:           env.GetInt("DB_PORT", 26257),
			User:           env.GetString("DB_USER", "root"),
			Password:       env.GetStringFromFile("DB_PASSWORD", ""),
			Database:       env.GetString("DB_NAME", "callsignal"),
			SSLMode:        env.GetString("DB_SSL_MODE", "disable"),
			MaxConns:       env.GetInt("DB_MAX_CONNS", 25),
			MinConns:       env.GetInt("DB_MIN_CONNS", 5),
			ConnectRetries: env.GetInt("DB_CONNECT_RETRIES", 5),
		},
		Redis: RedisConfig{
			Enabled:  env.GetBool("REDIS_ENABLED", true),
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
			CacheTTL: env.GetDuration("DIRECTORY_CACHE_TTL", 5*time.Minute),
		},
		Cassandra: CassandraConfig{
			Enabled:     env.GetBool("CASSANDRA_ENABLED", false),
			Hosts:       env.GetStringSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace:    env.GetString("CASSANDRA_KEYSPACE", "callsignal"),
			Consistency: env.GetString("CASSANDRA_CONSISTENCY", "QUORUM"),
			Timeout:     env.GetDuration("CASSANDRA_TIMEOUT", 600*time.Millisecond),
		},
		MinIO: MinIOConfig{
			Enabled:   env.GetBool("MINIO_ENABLED", false),
			Endpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:    env.GetBool("MINIO_USE_SSL", false),
			Bucket:    env.GetString("MINIO_BUCKET", "call-archive"),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			Audience:          env.GetString("JWT_AUDIENCE", "callsignal-api"),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/app.log"),
		},
		Push: PushConfig{
			Provider:            env.GetString("PUSH_PROVIDER", "mock"),
			FirebaseProjectID:   env.GetString("FIREBASE_PROJECT_ID", ""),
			FirebaseCredentials: env.GetString("FIREBASE_CREDENTIALS_PATH", ""),
			APNsKeyPath:         env.GetString("APNS_KEY_PATH", ""),
			APNsKeyID:           env.GetString("APNS_KEY_ID", ""),
			APNsTeamID:          env.GetString("APNS_TEAM_ID", ""),
			APNsTopic:           env.GetString("APNS_TOPIC", ""),
			APNsProduction:      env.GetBool("APNS_PRODUCTION", false),
		},
		Signaling: SignalingConfig{
			MaxPayloadBytes:  env.GetInt("SIGNALING_MAX_PAYLOAD_BYTES", 64*1024),
			RateLimit:        env.GetInt("SIGNALING_RATE_LIMIT", 300),
			RateWindow:       env.GetDuration("SIGNALING_RATE_WINDOW", time.Minute),
			LifecycleRetries: env.GetInt("SIGNALING_LIFECYCLE_RETRIES", 3),
			HistoryLimit:     env.GetInt("CALL_HISTORY_LIMIT", 20),
			HistoryMaxLimit:  env.GetInt("CALL_HISTORY_MAX_LIMIT", 100),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.Store.Backend == StoreMemory {
			return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
		}
	}

	switch c.Store.Backend {
	case StoreCockroach, StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	if c.Signaling.MaxPayloadBytes <= 0 {
		return fmt.Errorf("SIGNALING_MAX_PAYLOAD_BYTES must be positive")
	}
	if c.Signaling.LifecycleRetries < 1 {
		return fmt.Errorf("SIGNALING_LIFECYCLE_RETRIES must be at least 1")
	}
	if c.Signaling.HistoryLimit <= 0 || c.Signaling.HistoryLimit > c.Signaling.HistoryMaxLimit {
		return fmt.Errorf("CALL_HISTORY_LIMIT must be between 1 and CALL_HISTORY_MAX_LIMIT")
	}

	return nil
}

// CockroachURL builds the pgx connection string
func (d DatabaseConfig) CockroachURL() string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}
