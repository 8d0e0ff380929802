package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/3rs4lg4d0/eventpipe/evp"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Backend string `mapstructure:"backend"` // zerolog or zap
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Driver   string `mapstructure:"driver"` // pgx, sql or gorm
	MaxConns int32  `mapstructure:"max_conns"`
}

type PipelineConfig struct {
	QueueCapacity int         `mapstructure:"queue_capacity"`
	Relay         RelayConfig `mapstructure:"relay"`
}

type RelayConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	ClaimTTL       time.Duration `mapstructure:"claim_ttl"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

type KafkaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Client          string        `mapstructure:"client"` // confluent or kafka-go
	ClientID        string        `mapstructure:"client_id"`
	Brokers         []string      `mapstructure:"brokers"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

type RedisConfig struct {
	Addr           string        `mapstructure:"addr"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	PermissionsTTL time.Duration `mapstructure:"permissions_ttl"`
}

type MetricsConfig struct {
	Backend string `mapstructure:"backend"` // prometheus or tally
	Addr    string `mapstructure:"addr"`
}

// Settings maps the pipeline section to the pipeline settings.
func (c Config) Settings() evp.Settings {
	return evp.Settings{
		EnableRelay:    c.Pipeline.Relay.Enabled,
		RelayInterval:  c.Pipeline.Relay.Interval,
		RelayBatchSize: c.Pipeline.Relay.BatchSize,
		ClaimTTL:       c.Pipeline.Relay.ClaimTTL,
		HandlerTimeout: c.Pipeline.Relay.HandlerTimeout,
		QueueCapacity:  c.Pipeline.QueueCapacity,
	}
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env
// overrides (EVP_*, e.g. EVP_POSTGRES_DSN).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("merge %s: %w", path, err)
		}
	}

	// env override (EVP_*)
	v.SetEnvPrefix("EVP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Log.Backend {
	case "zerolog", "zap":
	default:
		return fmt.Errorf("unknown log backend %q", c.Log.Backend)
	}
	switch c.Postgres.Driver {
	case "pgx", "sql", "gorm":
	default:
		return fmt.Errorf("unknown postgres driver %q", c.Postgres.Driver)
	}
	switch c.Kafka.Client {
	case "confluent", "kafka-go":
	default:
		return fmt.Errorf("unknown kafka client %q", c.Kafka.Client)
	}
	switch c.Metrics.Backend {
	case "prometheus", "tally":
	default:
		return fmt.Errorf("unknown metrics backend %q", c.Metrics.Backend)
	}
	relay := c.Pipeline.Relay
	if relay.HandlerTimeout >= relay.ClaimTTL {
		return fmt.Errorf("relay handler_timeout (%s) must be lower than claim_ttl (%s)", relay.HandlerTimeout, relay.ClaimTTL)
	}
	if c.Kafka.Enabled && c.Kafka.DeliveryTimeout >= relay.HandlerTimeout {
		return fmt.Errorf("kafka delivery_timeout (%s) must be lower than relay handler_timeout (%s)", c.Kafka.DeliveryTimeout, relay.HandlerTimeout)
	}
	return nil
}
