package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded once from the environment
// and injected explicitly into every component that needs it.
type Config struct {
	Environment string
	AdminAPIKey string

	Server     ServerConfig
	Logging    LoggingConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	Dispatch   DispatchConfig
	OTP        OTPConfig
	Email      EmailProviderConfig
	WhatsApp   WhatsAppProviderConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
	// HealthTTL bounds how long a successful availability probe is trusted
	// before the next admission check pings Redis again.
	HealthTTL time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type ClickhouseConfig struct {
	Enabled  bool
	URL      string
	Database string
	Username string
	Password string
}

// DispatchConfig carries the named knobs of the dispatch pipeline: per-channel
// requests-per-second limits, worker/batch sizing, and delay bounds.
type DispatchConfig struct {
	Workers     int
	BatchSize   int
	MaxAttempts int

	// RateRetryDelay is how far a locally rate-denied job is pushed back.
	RateRetryDelay time.Duration
	// MaxInlineWait is the longest a worker will sleep for a not-yet-due job
	// before republishing it instead.
	MaxInlineWait time.Duration
	// RetryBackoff is the provider-failure retry schedule; attempts beyond
	// its length clamp to the last entry.
	RetryBackoff []time.Duration

	// Limits maps channel name to its requests-per-second ceiling.
	Limits map[string]int
}

type OTPConfig struct {
	CodeLength     int
	TTL            time.Duration
	MaxVerifyTries int
}

type EmailProviderConfig struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

type WhatsAppProviderConfig struct {
	BaseURL       string
	Token         string
	PhoneNumberID string
	Timeout       time.Duration
}

// LoadConfig reads configuration from the environment. A .env file is honored
// when present (development convenience); real deployments set variables
// directly.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),

		Server: ServerConfig{
			Port:         getInt("SERVER_PORT", 8080),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},

		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},

		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getInt("REDIS_DB", 0),
			PoolSize:  getInt("REDIS_POOL_SIZE", 50),
			HealthTTL: getDuration("REDIS_HEALTH_TTL", 5*time.Second),
		},

		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			Topic:   getEnv("KAFKA_DISPATCH_TOPIC", "otp-dispatch"),
			GroupID: getEnv("KAFKA_GROUP_ID", "otp-dispatch-workers"),
		},

		Clickhouse: ClickhouseConfig{
			Enabled:  getBool("CLICKHOUSE_ENABLED", false),
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Database: getEnv("CLICKHOUSE_DATABASE", "otp_dispatch"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},

		Dispatch: DispatchConfig{
			Workers:        getInt("DISPATCH_WORKERS", 4),
			BatchSize:      getInt("DISPATCH_BATCH_SIZE", 100),
			MaxAttempts:    getInt("DISPATCH_MAX_ATTEMPTS", 3),
			RateRetryDelay: getDuration("DISPATCH_RATE_RETRY_DELAY", 200*time.Millisecond),
			MaxInlineWait:  getDuration("DISPATCH_MAX_INLINE_WAIT", 100*time.Millisecond),
			RetryBackoff: []time.Duration{
				getDuration("DISPATCH_RETRY_BACKOFF_1", 2*time.Second),
				getDuration("DISPATCH_RETRY_BACKOFF_2", 10*time.Second),
				getDuration("DISPATCH_RETRY_BACKOFF_3", 30*time.Second),
			},
			Limits: map[string]int{
				"email":    getInt("EMAIL_RATE_PER_SECOND", 10),
				"whatsapp": getInt("WHATSAPP_RATE_PER_SECOND", 2),
			},
		},

		OTP: OTPConfig{
			CodeLength:     getInt("OTP_CODE_LENGTH", 6),
			TTL:            getDuration("OTP_TTL", 5*time.Minute),
			MaxVerifyTries: getInt("OTP_MAX_VERIFY_TRIES", 5),
		},

		Email: EmailProviderConfig{
			BaseURL: getEnv("EMAIL_PROVIDER_URL", "https://api.mail.example.com/v1/send"),
			APIKey:  getEnv("EMAIL_PROVIDER_API_KEY", ""),
			From:    getEnv("EMAIL_FROM", "no-reply@example.com"),
			Timeout: getDuration("EMAIL_PROVIDER_TIMEOUT", 10*time.Second),
		},

		WhatsApp: WhatsAppProviderConfig{
			BaseURL:       getEnv("WHATSAPP_API_URL", "https://graph.facebook.com/v19.0"),
			Token:         getEnv("WHATSAPP_TOKEN", ""),
			PhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			Timeout:       getDuration("WHATSAPP_API_TIMEOUT", 10*time.Second),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
