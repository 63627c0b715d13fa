package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPPort        string
	Environment     string
	LogLevel        string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	TracingEnabled  bool
	Backend         BackendConfig
	Retry           RetryConfig
	Breaker         BreakerConfig
	Store           StoreConfig
	Upload          UploadConfig
	Notifier        NotifierConfig
	ShippingTTL     time.Duration
}

// BackendConfig points at the storefront REST backend that owns carts and orders.
type BackendConfig struct {
	BaseURL        string
	RateLimitRPS   float64
	RateLimitBurst int
}

type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

type BreakerConfig struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// StoreConfig selects where the device-local cart and token cache lives.
type StoreConfig struct {
	Driver        string // sqlite | redis | memory
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	Namespace     string
}

type UploadConfig struct {
	URL    string // empty disables payment proof upload
	Preset string
}

type NotifierConfig struct {
	Kind         string // http | kafka
	KafkaBrokers []string
	KafkaTopic   string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.SetConfigName(".env")
	v.AddConfigPath(".")
	v.AddConfigPath("..")

	v.SetDefault("HTTP_PORT", "8085")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_INITIAL_DELAY", "1s")
	v.SetDefault("RETRY_MAX_DELAY", "5s")
	v.SetDefault("BREAKER_MAX_FAILURES", 5)
	v.SetDefault("BREAKER_OPEN_TIMEOUT", "30s")
	v.SetDefault("STORE_DRIVER", "sqlite")
	v.SetDefault("SQLITE_PATH", "storefront.db")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("STORE_NAMESPACE", "default")
	v.SetDefault("UPLOAD_PRESET", "payment_proofs")
	v.SetDefault("NOTIFIER", "http")
	v.SetDefault("KAFKA_TOPIC", "order-notifications")
	v.SetDefault("SHIPPING_TTL", "10m")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// a missing .env is fine, the environment is enough
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{
		HTTPPort:        v.GetString("HTTP_PORT"),
		Environment:     v.GetString("ENVIRONMENT"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		RequestTimeout:  v.GetDuration("REQUEST_TIMEOUT"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		TracingEnabled:  v.GetBool("TRACING_ENABLED"),
		Backend: BackendConfig{
			BaseURL:        strings.TrimSuffix(strings.TrimSpace(getEnvOrViper(v, "API_BASE_URL", "")), "/"),
			RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
			RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),
		},
		Retry: RetryConfig{
			MaxAttempts:  v.GetInt("RETRY_MAX_ATTEMPTS"),
			InitialDelay: v.GetDuration("RETRY_INITIAL_DELAY"),
			MaxDelay:     v.GetDuration("RETRY_MAX_DELAY"),
		},
		Breaker: BreakerConfig{
			MaxFailures: v.GetUint32("BREAKER_MAX_FAILURES"),
			OpenTimeout: v.GetDuration("BREAKER_OPEN_TIMEOUT"),
		},
		Store: StoreConfig{
			Driver:        strings.ToLower(v.GetString("STORE_DRIVER")),
			SQLitePath:    v.GetString("SQLITE_PATH"),
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: getEnvOrViper(v, "REDIS_PASSWORD", ""),
			Namespace:     v.GetString("STORE_NAMESPACE"),
		},
		Upload: UploadConfig{
			URL:    strings.TrimSpace(getEnvOrViper(v, "UPLOAD_URL", "")),
			Preset: v.GetString("UPLOAD_PRESET"),
		},
		Notifier: NotifierConfig{
			Kind:         strings.ToLower(v.GetString("NOTIFIER")),
			KafkaBrokers: splitList(getEnvOrViper(v, "KAFKA_BROKERS", "")),
			KafkaTopic:   v.GetString("KAFKA_TOPIC"),
		},
		ShippingTTL: v.GetDuration("SHIPPING_TTL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL, got %q", c.Backend.BaseURL)
	}
	switch c.Store.Driver {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite, redis or memory, got %q", c.Store.Driver)
	}
	switch c.Notifier.Kind {
	case "http":
	case "kafka":
		if len(c.Notifier.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when NOTIFIER=kafka")
		}
	default:
		return fmt.Errorf("NOTIFIER must be http or kafka, got %q", c.Notifier.Kind)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func getEnvOrViper(v *viper.Viper, key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
