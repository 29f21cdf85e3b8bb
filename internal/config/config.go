package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	SES      SESConfig      `yaml:"ses"`
	Redis    RedisConfig    `yaml:"redis"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Importer ImporterConfig `yaml:"importer"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig selects and configures the record store backend.
// Backend is one of "dynamodb", "postgres", or "memory".
type StoreConfig struct {
	Backend string `yaml:"backend"`

	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// DynamoDBConfig holds DynamoDB table settings
type DynamoDBConfig struct {
	Table      string `yaml:"table"`
	Region     string `yaml:"region"`
	AWSProfile string `yaml:"aws_profile"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	DatabaseURL  string `yaml:"database_url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// SESConfig holds AWS SES sending credentials and identity defaults
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
	ReplyTo   string `yaml:"reply_to"`
}

// RedisConfig holds Redis connection settings for the import progress mirror
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DispatchConfig holds batch dispatch tuning knobs
type DispatchConfig struct {
	BatchSize     int `yaml:"batch_size"`
	InsertDelayMs int `yaml:"insert_delay_ms"`
	SendDelayMs   int `yaml:"send_delay_ms"`
}

// InsertDelay returns the inter-insert throttle as a duration.
func (c DispatchConfig) InsertDelay() time.Duration {
	return time.Duration(c.InsertDelayMs) * time.Millisecond
}

// SendDelay returns the inter-send throttle as a duration.
func (c DispatchConfig) SendDelay() time.Duration {
	return time.Duration(c.SendDelayMs) * time.Millisecond
}

// ImporterConfig holds import job defaults
type ImporterConfig struct {
	UploadDir           string `yaml:"upload_dir"`
	ChunkSize           int    `yaml:"chunk_size"`
	MaxProcessingTimeMs int    `yaml:"max_processing_time_ms"`
	AutoResume          bool   `yaml:"auto_resume"`
	ResumeIntervalSecs  int    `yaml:"resume_interval_secs"`
}

// MaxProcessingTime returns the per-chunk soft deadline as a duration.
func (c ImporterConfig) MaxProcessingTime() time.Duration {
	return time.Duration(c.MaxProcessingTimeMs) * time.Millisecond
}

// ResumeInterval returns the worker's poll interval between chunk
// invocations of auto-resuming jobs.
func (c ImporterConfig) ResumeInterval() time.Duration {
	return time.Duration(c.ResumeIntervalSecs) * time.Second
}

// LoggingConfig holds structured logging settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.DynamoDB.Region == "" {
		cfg.Store.DynamoDB.Region = "us-east-1"
	}
	if cfg.Store.Postgres.MaxOpenConns == 0 {
		cfg.Store.Postgres.MaxOpenConns = 10
	}
	if cfg.Store.Postgres.MaxIdleConns == 0 {
		cfg.Store.Postgres.MaxIdleConns = 5
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 100
	}
	if cfg.Dispatch.InsertDelayMs == 0 {
		cfg.Dispatch.InsertDelayMs = 25
	}
	if cfg.Dispatch.SendDelayMs == 0 {
		cfg.Dispatch.SendDelayMs = 50
	}
	if cfg.Importer.UploadDir == "" {
		cfg.Importer.UploadDir = "/tmp/campaign-dispatch/uploads"
	}
	if cfg.Importer.ChunkSize == 0 {
		cfg.Importer.ChunkSize = 500
	}
	if cfg.Importer.MaxProcessingTimeMs == 0 {
		cfg.Importer.MaxProcessingTimeMs = 25000
	}
	if cfg.Importer.ResumeIntervalSecs == 0 {
		cfg.Importer.ResumeIntervalSecs = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// Validate checks backend selection consistency. Called after env
// overrides, not inside Load, so file values can be completed from the
// environment.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "dynamodb", "postgres", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend == "dynamodb" && c.Store.DynamoDB.Table == "" {
		return fmt.Errorf("store.dynamodb.table is required for the dynamodb backend")
	}
	if c.Store.Backend == "postgres" && c.Store.Postgres.DatabaseURL == "" {
		return fmt.Errorf("store.postgres.database_url is required for the postgres backend")
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("DYNAMODB_TABLE"); v != "" {
		cfg.Store.DynamoDB.Table = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Store.DynamoDB.Region = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.Postgres.DatabaseURL = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_FROM_EMAIL"); v != "" {
		cfg.SES.FromEmail = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
