package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the sync daemon.
type Config struct {
	App          AppConfig
	Remote       RemoteConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Mongo        MongoConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Sync         SyncConfig
	Queue        QueueConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// Remote backends understood by RemoteConfig.Backend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// RemoteConfig selects the authoritative store.
type RemoteConfig struct {
	Backend string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values for the push channel.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// MongoConfig holds MongoDB connection values.
type MongoConfig struct {
	URI      string
	Database string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level   string
	Format  string
	Service string
}

// AuthConfig defines bearer token verification.
type AuthConfig struct {
	JWTSecret string
}

// SyncConfig tunes connectivity probing, flushing and retry backoff.
type SyncConfig struct {
	ProbeIntervalSeconds int
	ApplyTimeoutSeconds  int
	BackoffBaseSeconds   int
	BackoffMultiplier    float64
	BackoffCapSeconds    int
	BackoffJitter        float64
	MaxUnknownAttempts   int
	Workers              int
	CollapseUpdates      bool
}

// QueueConfig locates the durable local queue.
type QueueConfig struct {
	DBPath string
}

// NotificationConfig holds delivery channel settings.
type NotificationConfig struct {
	EmailFrom        string
	AdminEmails      []string
	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPass         string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	MaxAttempts      int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	queuePath := os.Getenv("QUEUE_DB_PATH")
	if queuePath == "" {
		queuePath, err = DefaultQueuePath()
		if err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-sync"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "127.0.0.1"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Remote: RemoteConfig{
			Backend: strings.ToLower(getEnv("REMOTE_BACKEND", BackendMemory)),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            redisDB,
			ChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "ticketsync"),
		},
		Mongo: MongoConfig{
			URI:      os.Getenv("MONGO_URI"),
			Database: getEnv("MONGO_DATABASE", "ticketsync"),
		},
		Logger: LoggerConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Format:  getEnv("LOG_FORMAT", "json"),
			Service: getEnv("APP_NAME", "ticket-sync"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", "dev-secret"),
		},
		Sync: SyncConfig{
			ProbeIntervalSeconds: getEnvAsInt("SYNC_PROBE_INTERVAL_SECONDS", 10),
			ApplyTimeoutSeconds:  getEnvAsInt("SYNC_APPLY_TIMEOUT_SECONDS", 15),
			BackoffBaseSeconds:   getEnvAsInt("SYNC_BACKOFF_BASE_SECONDS", 2),
			BackoffMultiplier:    getEnvAsFloat("SYNC_BACKOFF_MULTIPLIER", 2),
			BackoffCapSeconds:    getEnvAsInt("SYNC_BACKOFF_CAP_SECONDS", 30),
			BackoffJitter:        getEnvAsFloat("SYNC_BACKOFF_JITTER", 0.2),
			MaxUnknownAttempts:   getEnvAsInt("SYNC_MAX_UNKNOWN_ATTEMPTS", 8),
			Workers:              getEnvAsInt("SYNC_WORKERS", 4),
			CollapseUpdates:      getEnvAsBool("SYNC_COLLAPSE_UPDATES", true),
		},
		Queue: QueueConfig{
			DBPath: queuePath,
		},
		Notification: NotificationConfig{
			EmailFrom:        getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			AdminEmails:      getEnvAsList("NOTIFY_ADMIN_EMAILS"),
			SMTPHost:         os.Getenv("NOTIFY_SMTP_HOST"),
			SMTPPort:         getEnvAsInt("NOTIFY_SMTP_PORT", 587),
			SMTPUser:         os.Getenv("NOTIFY_SMTP_USER"),
			SMTPPass:         os.Getenv("NOTIFY_SMTP_PASS"),
			TwilioAccountSID: os.Getenv("NOTIFY_TWILIO_ACCOUNT_SID"),
			TwilioAuthToken:  os.Getenv("NOTIFY_TWILIO_AUTH_TOKEN"),
			TwilioFrom:       os.Getenv("NOTIFY_TWILIO_FROM"),
			MaxAttempts:      getEnvAsInt("NOTIFY_MAX_ATTEMPTS", 2),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Remote.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for REMOTE_BACKEND=%s", BackendPostgres)
		}
	case BackendMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("MONGO_URI is required for REMOTE_BACKEND=%s", BackendMongo)
		}
	default:
		return fmt.Errorf("unknown REMOTE_BACKEND %q", c.Remote.Backend)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("SYNC_WORKERS must be positive, got %d", c.Sync.Workers)
	}
	return nil
}

// DefaultQueuePath returns ~/.ticketsync/queue.db.
func DefaultQueuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".ticketsync", "queue.db"), nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// ProbeInterval returns the reachability probe period.
func (s SyncConfig) ProbeInterval() time.Duration {
	return seconds(s.ProbeIntervalSeconds, 10)
}

// ApplyTimeout returns the per-attempt remote apply timeout.
func (s SyncConfig) ApplyTimeout() time.Duration {
	return seconds(s.ApplyTimeoutSeconds, 15)
}

// BackoffBase returns the first retry delay.
func (s SyncConfig) BackoffBase() time.Duration {
	return seconds(s.BackoffBaseSeconds, 2)
}

// BackoffCap returns the largest retry delay.
func (s SyncConfig) BackoffCap() time.Duration {
	return seconds(s.BackoffCapSeconds, 30)
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
