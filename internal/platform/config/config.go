package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Delivery       DeliveryConfig       `mapstructure:"delivery"`
	Signing        SigningConfig        `mapstructure:"signing"`
	Secrets        SecretsConfig        `mapstructure:"secrets"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	Worker         WorkerConfig         `mapstructure:"worker"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret          string        `mapstructure:"secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

// DeliveryConfig tunes the outbound send path. AllowHTTP is the operator
// override that permits plain http destinations; it is off in production.
type DeliveryConfig struct {
	HTTPTimeout         time.Duration `mapstructure:"http_timeout"`
	MaxResponseBytes    int           `mapstructure:"max_response_bytes"`
	BatchLimit          int           `mapstructure:"batch_limit"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	MaxRedirects        int           `mapstructure:"max_redirects"`
	AllowHTTP           bool          `mapstructure:"allow_http"`
	BreakerThreshold    int           `mapstructure:"breaker_threshold"`
	BreakerCooldown     time.Duration `mapstructure:"breaker_cooldown"`
	ReplayNonceTTL      time.Duration `mapstructure:"replay_nonce_ttl"`
	SignatureSkewWindow time.Duration `mapstructure:"signature_skew_window"`
}

type SigningConfig struct {
	KeyID string `mapstructure:"key_id"`
}

type SecretsConfig struct {
	// EncryptionKey is the base64 32-byte key used to unseal provider
	// integration credentials.
	EncryptionKey string `mapstructure:"encryption_key"`
}

type ReconciliationConfig struct {
	Window          time.Duration `mapstructure:"window"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
}

type RateLimitConfig struct {
	APIReadPerMinute  int `mapstructure:"api_read_per_minute"`
	APIWritePerMinute int `mapstructure:"api_write_per_minute"`
}

type WorkerConfig struct {
	DeliveryInterval       time.Duration `mapstructure:"delivery_interval"`
	HealthCheckInterval    time.Duration `mapstructure:"health_check_interval"`
	ReconciliationInterval time.Duration `mapstructure:"reconciliation_interval"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("delivery.http_timeout", 10*time.Second)
	viper.SetDefault("delivery.max_response_bytes", 4096)
	viper.SetDefault("delivery.batch_limit", 50)
	viper.SetDefault("delivery.max_attempts", 8)
	viper.SetDefault("delivery.max_redirects", 0)
	viper.SetDefault("delivery.breaker_threshold", 5)
	viper.SetDefault("delivery.breaker_cooldown", 5*time.Minute)
	viper.SetDefault("delivery.replay_nonce_ttl", 10*time.Minute)
	viper.SetDefault("delivery.signature_skew_window", 5*time.Minute)
	viper.SetDefault("reconciliation.window", 24*time.Hour)
	viper.SetDefault("reconciliation.provider_timeout", 15*time.Second)
	viper.SetDefault("worker.delivery_interval", time.Minute)
	viper.SetDefault("worker.health_check_interval", 5*time.Minute)
	viper.SetDefault("worker.reconciliation_interval", time.Hour)
}
