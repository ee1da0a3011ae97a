package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig              `mapstructure:"server"`
	Database     DatabaseConfig            `mapstructure:"database"`
	JWT          JWTConfig                 `mapstructure:"jwt"`
	RateLimit    RateLimitConfig           `mapstructure:"rate_limit"`
	Webhooks     WebhooksConfig            `mapstructure:"webhooks"`
	Verification VerificationConfig        `mapstructure:"verification"`
	Providers    map[string]ProviderConfig `mapstructure:"providers"`
	Redis        RedisConfig               `mapstructure:"redis"`
	RabbitMQ     RabbitMQConfig            `mapstructure:"rabbitmq"`
	Logging      LoggingConfig             `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	// Driver is either "sqlite3" or "pgx".
	Driver         string `mapstructure:"driver"`
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type RateLimitConfig struct {
	VerifyPerMinute int `mapstructure:"verify_per_minute"`
	APIPerMinute    int `mapstructure:"api_per_minute"`
}

type WebhooksConfig struct {
	WorkerCount   int           `mapstructure:"worker_count"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  string        `mapstructure:"retry_backoff"`
	Timeout       time.Duration `mapstructure:"timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	LeaseDuration time.Duration `mapstructure:"lease_duration"`
	// SecretKey is a 64 hex character key used to encrypt subscription secrets at rest.
	SecretKey string `mapstructure:"secret_key"`
}

// Schedule parses RetryBackoff ("1m,5m,30m") into delays.
func (c WebhooksConfig) Schedule() ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(c.RetryBackoff, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return nil, fmt.Errorf("invalid retry_backoff entry %q: %w", part, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("retry_backoff entry %q must be positive", part)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("retry_backoff is empty")
	}
	return out, nil
}

type VerificationConfig struct {
	IntentTTL   time.Duration `mapstructure:"intent_ttl"`
	ExpirySweep time.Duration `mapstructure:"expiry_sweep"`
}

type ProviderConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

type RedisConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.url", "file:data/paycheck.db")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("jwt.issuer", "paycheck")
	v.SetDefault("jwt.access_token_ttl", "15m")

	v.SetDefault("rate_limit.verify_per_minute", 60)
	v.SetDefault("rate_limit.api_per_minute", 600)

	v.SetDefault("webhooks.worker_count", 8)
	v.SetDefault("webhooks.retry_attempts", 6)
	v.SetDefault("webhooks.retry_backoff", "1m,5m,30m,2h,12h")
	v.SetDefault("webhooks.timeout", "10s")
	v.SetDefault("webhooks.poll_interval", "30s")
	v.SetDefault("webhooks.batch_size", 50)
	v.SetDefault("webhooks.lease_duration", "2m")

	v.SetDefault("verification.intent_ttl", "20m")
	v.SetDefault("verification.expiry_sweep", "1m")

	v.SetDefault("redis.prefix", "paycheck:rate_limit")
	v.SetDefault("rabbitmq.exchange", "payment_events")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Webhooks.RetryAttempts < 1 {
		return nil, fmt.Errorf("webhooks.retry_attempts must be at least 1")
	}
	if _, err := config.Webhooks.Schedule(); err != nil {
		return nil, err
	}

	return &config, nil
}
