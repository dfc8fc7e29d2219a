package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"enrollgate/internal/conversion"
	pkgstrings "enrollgate/pkg/platform/strings"
)

const envPrefix = "ENROLLGATE_"

// Config is the whole process configuration.
type Config struct {
	Server     Server
	Store      StoreConfig
	Redis      RedisConfig
	Backend    BackendConfig
	Health     HealthConfig
	Queue      QueueConfig
	Audit      AuditConfig
	Kafka      KafkaConfig
	Conversion ConversionConfig
}

// Server captures the local HTTP API configuration.
type Server struct {
	Addr               string
	LogLevel           string
	LogFormat          string
	CORSAllowedOrigins []string
	// OperatorToken guards lifecycle mutations when set.
	OperatorToken      string
	// SubmitRateLimit is the per-client cap on code submissions per minute.
	// Zero disables throttling.
	SubmitRateLimit    int
}

// StoreConfig selects the device-local durable store.
type StoreConfig struct {
	Driver string // file, sqlite, redis or memory
	Path   string
	// EncryptionKey seals records at rest when set.
	EncryptionKey string
}

// RedisConfig holds connection settings for the redis store driver.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BackendConfig selects and configures the transport to the backend of record.
type BackendConfig struct {
	Driver         string // rest or postgres
	URL            string
	APIKey         string
	JWTSecret      string
	PostgresDSN    string
	PostgresDriver string // pgx or postgres
	BranchID       string
	CallTimeout    time.Duration
}

type HealthConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

type QueueConfig struct {
	MaxRetries    int
	DrainInterval time.Duration
}

type AuditConfig struct {
	MaxEntries   int
	MirrorSink   string // backend, kafka or none
	MirrorBuffer int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type ConversionConfig struct {
	EmptyRequirementsPolicy conversion.EmptyRequirementsPolicy
}

// FromEnv builds the configuration from ENROLLGATE_* environment variables,
// applying defaults, and validates it.
func FromEnv() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	r := reader{getenv: getenv}

	cfg := Config{
		Server: Server{
			Addr:               r.str("ADDR", "127.0.0.1:8089"),
			LogLevel:           r.str("LOG_LEVEL", "info"),
			LogFormat:          r.str("LOG_FORMAT", "json"),
			CORSAllowedOrigins: pkgstrings.SplitCSV(r.str("CORS_ALLOWED_ORIGINS", "")),
			OperatorToken:      r.str("OPERATOR_TOKEN", ""),
			SubmitRateLimit:    r.integer("SUBMIT_RATE_LIMIT", 30),
		},
		Store: StoreConfig{
			Driver:        r.str("STORE_DRIVER", "file"),
			Path:          r.str("STORE_PATH", "./data"),
			EncryptionKey: r.str("STORE_ENCRYPTION_KEY", ""),
		},
		Redis: RedisConfig{
			URL:          r.str("REDIS_URL", ""),
			PoolSize:     r.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: r.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  r.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  r.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: r.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Backend: BackendConfig{
			Driver:         r.str("BACKEND_DRIVER", "rest"),
			URL:            r.str("BACKEND_URL", ""),
			APIKey:         r.str("BACKEND_API_KEY", ""),
			JWTSecret:      r.str("BACKEND_JWT_SECRET", ""),
			PostgresDSN:    r.str("POSTGRES_DSN", ""),
			PostgresDriver: r.str("POSTGRES_DRIVER", "pgx"),
			BranchID:       r.str("BRANCH_ID", ""),
			CallTimeout:    r.duration("CALL_TIMEOUT", 15*time.Second),
		},
		Health: HealthConfig{
			Interval: r.duration("HEALTH_INTERVAL", 30*time.Second),
			Timeout:  r.duration("HEALTH_TIMEOUT", 5*time.Second),
		},
		Queue: QueueConfig{
			MaxRetries:    r.integer("QUEUE_MAX_RETRIES", 3),
			DrainInterval: r.duration("DRAIN_INTERVAL", 2*time.Minute),
		},
		Audit: AuditConfig{
			MaxEntries:   r.integer("AUDIT_MAX_ENTRIES", 1000),
			MirrorSink:   r.str("MIRROR_SINK", "backend"),
			MirrorBuffer: r.integer("MIRROR_BUFFER", 256),
		},
		Kafka: KafkaConfig{
			Brokers: pkgstrings.SplitCSV(r.str("KAFKA_BROKERS", "")),
			Topic:   r.str("KAFKA_TOPIC", "enrollgate.verification-audit"),
		},
	}

	policy, ok := conversion.ParseEmptyRequirementsPolicy(r.str("EMPTY_REQUIREMENTS_POLICY", "block"))
	if !ok {
		r.fail("EMPTY_REQUIREMENTS_POLICY", "must be block or allow")
	}
	cfg.Conversion.EmptyRequirementsPolicy = policy

	r.errs = append(r.errs, cfg.validate()...)
	if len(r.errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %w", errors.Join(r.errs...))
	}
	return cfg, nil
}

func (c Config) validate() []error {
	var errs []error
	bad := func(name, msg string) {
		errs = append(errs, fmt.Errorf("%s%s %s", envPrefix, name, msg))
	}

	switch c.Store.Driver {
	case "file", "sqlite", "memory":
	case "redis":
		if c.Redis.URL == "" {
			bad("REDIS_URL", "is required when STORE_DRIVER=redis")
		}
	default:
		bad("STORE_DRIVER", "must be file, sqlite, redis or memory")
	}

	switch c.Backend.Driver {
	case "rest":
		if c.Backend.URL == "" {
			bad("BACKEND_URL", "is required when BACKEND_DRIVER=rest")
		}
		if c.Backend.APIKey == "" {
			bad("BACKEND_API_KEY", "is required when BACKEND_DRIVER=rest")
		}
	case "postgres":
		if c.Backend.PostgresDSN == "" {
			bad("POSTGRES_DSN", "is required when BACKEND_DRIVER=postgres")
		}
		if c.Backend.PostgresDriver != "pgx" && c.Backend.PostgresDriver != "postgres" {
			bad("POSTGRES_DRIVER", "must be pgx or postgres")
		}
	default:
		bad("BACKEND_DRIVER", "must be rest or postgres")
	}

	switch c.Audit.MirrorSink {
	case "backend", "none":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			bad("KAFKA_BROKERS", "is required when MIRROR_SINK=kafka")
		}
	default:
		bad("MIRROR_SINK", "must be backend, kafka or none")
	}

	if c.Server.SubmitRateLimit < 0 {
		bad("SUBMIT_RATE_LIMIT", "must not be negative")
	}
	if c.Health.Interval <= 0 {
		bad("HEALTH_INTERVAL", "must be positive")
	}
	if c.Queue.MaxRetries < 1 {
		bad("QUEUE_MAX_RETRIES", "must be at least 1")
	}
	if c.Audit.MaxEntries < 1 {
		bad("AUDIT_MAX_ENTRIES", "must be at least 1")
	}
	return errs
}

// reader collects parse errors so every bad variable is reported at once.
type reader struct {
	getenv func(string) string
	errs   []error
}

func (r *reader) fail(name, msg string) {
	r.errs = append(r.errs, fmt.Errorf("%s%s %s", envPrefix, name, msg))
}

func (r *reader) str(name, def string) string {
	if v := r.getenv(envPrefix + name); v != "" {
		return v
	}
	return def
}

func (r *reader) integer(name string, def int) int {
	raw := r.getenv(envPrefix + name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(name, "must be an integer")
		return def
	}
	return n
}

func (r *reader) duration(name string, def time.Duration) time.Duration {
	raw := r.getenv(envPrefix + name)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(name, "must be a duration such as 30s")
		return def
	}
	return d
}
