// Package config loads runtime settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	pstrings "peppolrelay/pkg/platform/strings"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Addr      string          `yaml:"addr"`
	AppName   string          `yaml:"app_name"`
	DataDir   string          `yaml:"data_dir"`
	LogFormat string          `yaml:"log_format"`
	LogLevel  string          `yaml:"log_level"`
	Storage   string          `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Auth      AuthConfig      `yaml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Gateways  GatewaysConfig  `yaml:"gateways"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	BalanceKey   string        `yaml:"balance_key"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type AuthConfig struct {
	JWTSigningKey    string `yaml:"jwt_signing_key"`
	JWTIssuer        string `yaml:"jwt_issuer"`
	MonitorTokenHash string `yaml:"monitor_token_hash"`
	WebhookSecret    string `yaml:"webhook_secret"`
}

type SchedulerConfig struct {
	SendInterval    time.Duration `yaml:"send_interval"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
	ReceiveInterval time.Duration `yaml:"receive_interval"`
	SyncLimit       int           `yaml:"sync_limit"`
	SlowDownFactor  int64         `yaml:"slow_down_factor"`
	EventsInterval  time.Duration `yaml:"events_interval"`
	EventsBatchSize int           `yaml:"events_batch_size"`
	EventsRetention time.Duration `yaml:"events_retention"`

	// Throttle spreads new documents over calendar days while the balance
	// is exhausted instead of making them due at the requested time.
	Throttle bool `yaml:"throttle"`
}

type GatewaysConfig struct {
	DefaultAccessPoint string         `yaml:"default_access_point"`
	ConnectTimeout     time.Duration  `yaml:"connect_timeout"`
	ResponseTimeout    time.Duration  `yaml:"response_timeout"`
	Scrada             ScradaConfig   `yaml:"scrada"`
	EInvoice           EInvoiceConfig `yaml:"einvoice"`
}

type ScradaConfig struct {
	URL       string `yaml:"url"`
	CompanyID string `yaml:"company_id"`
	APIKey    string `yaml:"api_key"`
	Password  string `yaml:"password"`

	// inbound documents fetched in parallel per receive tick
	FetchConcurrency int `yaml:"fetch_concurrency"`
}

// Enabled reports whether credentials are configured.
func (c ScradaConfig) Enabled() bool {
	return c.URL != "" && c.CompanyID != "" && c.APIKey != ""
}

type EInvoiceConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

func (c EInvoiceConfig) Enabled() bool {
	return c.URL != "" && c.APIKey != ""
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:      ":8080",
		AppName:   "peppol-relay",
		DataDir:   os.TempDir(),
		LogFormat: "json",
		LogLevel:  "info",
		Storage:   StorageMemory,
		Database: DatabaseConfig{
			MaxConns:        10,
			MaxOpenConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			BalanceKey:   "peppolrelay:balance",
		},
		Kafka: KafkaConfig{Topic: "peppol.documents"},
		Scheduler: SchedulerConfig{
			SendInterval:    time.Second,
			SyncInterval:    60 * time.Second,
			ReceiveInterval: 300 * time.Second,
			SyncLimit:       60,
			SlowDownFactor:  2,
			EventsInterval:  2 * time.Second,
			EventsBatchSize: 100,
			EventsRetention: 7 * 24 * time.Hour,
		},
		Gateways: GatewaysConfig{
			DefaultAccessPoint: "SCRADA",
			ConnectTimeout:     time.Second,
			ResponseTimeout:    3 * time.Second,
			Scrada:             ScradaConfig{FetchConcurrency: 4},
		},
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	// ${VAR} references are expanded before parsing
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("PEPPOLRELAY_ADDR", &c.Addr)
	str("APP_NAME", &c.AppName)
	str("DATA_DIR", &c.DataDir)
	str("LOG_FORMAT", &c.LogFormat)
	str("LOG_LEVEL", &c.LogLevel)
	str("STORAGE", &c.Storage)
	str("DATABASE_URL", &c.Database.URL)
	str("REDIS_URL", &c.Redis.URL)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = pstrings.SplitList(v)
	}
	str("JWT_SIGNING_KEY", &c.Auth.JWTSigningKey)
	str("JWT_ISSUER", &c.Auth.JWTIssuer)
	str("MONITOR_TOKEN_HASH", &c.Auth.MonitorTokenHash)
	str("WEBHOOK_SECRET", &c.Auth.WebhookSecret)
	str("DEFAULT_ACCESS_POINT", &c.Gateways.DefaultAccessPoint)

	dur("SCHEDULER_SEND_INTERVAL", &c.Scheduler.SendInterval)
	dur("SCHEDULER_SYNC_INTERVAL", &c.Scheduler.SyncInterval)
	dur("SCHEDULER_RECEIVE_INTERVAL", &c.Scheduler.ReceiveInterval)
	integer("SCHEDULER_SYNC_LIMIT", &c.Scheduler.SyncLimit)
	if v := os.Getenv("SCHEDULER_THROTTLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SCHEDULER_THROTTLE: %w", err))
		} else {
			c.Scheduler.Throttle = b
		}
	}
	dur("EVENTS_RETENTION", &c.Scheduler.EventsRetention)
	if v := os.Getenv("SCHEDULER_SLOW_DOWN_FACTOR"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SCHEDULER_SLOW_DOWN_FACTOR: %w", err))
		} else {
			c.Scheduler.SlowDownFactor = n
		}
	}

	str("SCRADA_URL", &c.Gateways.Scrada.URL)
	str("SCRADA_COMPANY_ID", &c.Gateways.Scrada.CompanyID)
	str("SCRADA_API_KEY", &c.Gateways.Scrada.APIKey)
	str("SCRADA_PASSWORD", &c.Gateways.Scrada.Password)
	integer("SCRADA_FETCH_CONCURRENCY", &c.Gateways.Scrada.FetchConcurrency)
	str("EINVOICE_URL", &c.Gateways.EInvoice.URL)
	str("EINVOICE_API_KEY", &c.Gateways.EInvoice.APIKey)
	dur("GATEWAY_CONNECT_TIMEOUT", &c.Gateways.ConnectTimeout)
	dur("GATEWAY_RESPONSE_TIMEOUT", &c.Gateways.ResponseTimeout)

	return errors.Join(errs...)
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.AppName == "" {
		errs = append(errs, errors.New("app name is required"))
	}
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	if c.Scheduler.SendInterval <= 0 || c.Scheduler.SyncInterval <= 0 || c.Scheduler.ReceiveInterval <= 0 {
		errs = append(errs, errors.New("scheduler intervals must be positive"))
	}
	if c.Scheduler.SyncLimit <= 0 {
		errs = append(errs, errors.New("scheduler sync limit must be positive"))
	}
	if c.Scheduler.SlowDownFactor <= 0 {
		errs = append(errs, errors.New("scheduler slow down factor must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}
