package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "warden/pkg/platform/strings"
)

// Config is the full process configuration, read once at startup.
type Config struct {
	Server    Server
	Redis     RedisConfig
	Postgres  PostgresConfig
	Kafka     KafkaConfig
	LLM       LLMConfig
	CallBus   CallBusConfig
	Detection DetectionConfig
	Audit     AuditConfig
	LogLevel  string
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	AdminAPIToken   string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	// ChatRateLimit is the per client IP request budget per minute on
	// /api/chat. Zero disables the limit.
	ChatRateLimit int
}

// RedisConfig configures the optional Redis replay set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig configures the optional durable audit and replay stores.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// KafkaConfig configures the optional audit stream sink.
type KafkaConfig struct {
	Brokers     []string
	AuditTopic  string
	BufferSize  int
	FlushPeriod time.Duration
}

// LLMConfig configures the model backend client.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	RetryDelay  time.Duration
	Temperature float64
	MaxTokens   int
}

// CallBusConfig configures capability tokens and delegation grants.
type CallBusConfig struct {
	MasterSecret string
	TokenTTL     time.Duration
}

// DetectionConfig points at the optional detection policy file.
type DetectionConfig struct {
	PolicyFile  string
	WatchPolicy bool
}

// AuditConfig configures the local hash-chained audit log.
type AuditConfig struct {
	ChainPath string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            getEnv("WARDEN_ADDR", ":8080"),
			AdminAPIToken:   os.Getenv("ADMIN_API_TOKEN"),
			RequestTimeout:  getDuration("REQUEST_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			ChatRateLimit:   getInt("CHAT_RATE_LIMIT_PER_MINUTE", 60),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:     getList("KAFKA_BROKERS"),
			AuditTopic:  getEnv("KAFKA_AUDIT_TOPIC", "warden.audit"),
			BufferSize:  getInt("KAFKA_AUDIT_BUFFER", 10000),
			FlushPeriod: getDuration("KAFKA_AUDIT_FLUSH_PERIOD", time.Second),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKey:      os.Getenv("LLM_API_KEY"),
			Model:       getEnv("LLM_MODEL", "openai/gpt-4-turbo-preview"),
			Timeout:     getDuration("LLM_TIMEOUT", 60*time.Second),
			RetryDelay:  getDuration("LLM_RETRY_DELAY", 500*time.Millisecond),
			Temperature: getFloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:   getInt("LLM_MAX_TOKENS", 2000),
		},
		CallBus: CallBusConfig{
			// Development default; production deployments must override it.
			MasterSecret: getEnv("CALLBUS_MASTER_SECRET", "dev-callbus-secret-change-in-production"),
			TokenTTL:     getDuration("CALLBUS_TOKEN_TTL", 30*time.Second),
		},
		Detection: DetectionConfig{
			PolicyFile:  os.Getenv("DETECTION_POLICY_FILE"),
			WatchPolicy: getBool("DETECTION_POLICY_WATCH", true),
		},
		Audit: AuditConfig{
			ChainPath: os.Getenv("AUDIT_CHAIN_PATH"),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	return pstrings.DedupeAndTrim(strings.Split(raw, ","))
}
