// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Decoder, Grammar, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Decoder  DecoderConfig  `yaml:"decoder"`
	Grammar  GrammarConfig  `yaml:"grammar"`
	Parsing  ParsingConfig  `yaml:"parsing"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	// RateLimit is the number of requests per minute allowed from one
	// client address. Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	ParseRequests string `yaml:"parseRequests"`
	ParseResults  string `yaml:"parseResults"`
	ParseEvents   string `yaml:"parseEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// DecoderConfig controls the chart decoder: beam, supertag candidate
// selection, pruning, per-sentence timeout and batch parallelism.
type DecoderConfig struct {
	BeamWidth           int           `yaml:"beamWidth"`
	TopK                int           `yaml:"topK"`
	SupertaggingPruning bool          `yaml:"supertaggingPruning"`
	Beta                float64       `yaml:"beta"`
	PruningRule         string        `yaml:"pruningRule"`
	Timeout             time.Duration `yaml:"timeout"`
	CategoryFiltering   bool          `yaml:"categoryFiltering"`
	GenericRules        bool          `yaml:"genericRules"`
	Workers             int           `yaml:"workers"`
}

// Pruning rules accepted by DecoderConfig.PruningRule.
const (
	PruningMultiplicative = "multiplicative"
	PruningAdditive       = "additive"
)

// Validate reports every invalid decoder setting.
func (d DecoderConfig) Validate() error {
	var errs []error
	if d.BeamWidth <= 0 {
		errs = append(errs, fmt.Errorf("beamWidth must be positive, got %d", d.BeamWidth))
	}
	if d.TopK <= 0 {
		errs = append(errs, fmt.Errorf("topK must be positive, got %d", d.TopK))
	}
	if d.Beta < 0 {
		errs = append(errs, fmt.Errorf("beta must not be negative, got %g", d.Beta))
	}
	switch d.PruningRule {
	case PruningMultiplicative, PruningAdditive:
	default:
		errs = append(errs, fmt.Errorf("unknown pruningRule %q", d.PruningRule))
	}
	if d.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", d.Workers))
	}
	return errors.Join(errs...)
}

// GrammarConfig locates the instantiated rules, the tag vocabulary and the
// lexical category dictionary.
type GrammarConfig struct {
	Source           string `yaml:"source"`
	UnaryRulesPath   string `yaml:"unaryRulesPath"`
	BinaryRulesPath  string `yaml:"binaryRulesPath"`
	VocabularyPath   string `yaml:"vocabularyPath"`
	CategoryDictPath string `yaml:"categoryDictPath"`
}

// Grammar sources accepted by GrammarConfig.Source.
const (
	GrammarSourceFile     = "file"
	GrammarSourcePostgres = "postgres"
)

// ParsingConfig controls request limits of the parse service.
type ParsingConfig struct {
	MaxTokens      int  `yaml:"maxTokens"`
	MaxBatchSize   int  `yaml:"maxBatchSize"`
	MaxDerivations int  `yaml:"maxDerivations"`
	PersistResults bool `yaml:"persistResults"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Decoder.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decoder config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"*"},
			RateLimit:       600,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "ccgparser",
			User:            "ccgparser",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "ccgparser-group",
			Topics: KafkaTopics{
				ParseRequests: "parse-requests",
				ParseResults:  "parse-results",
				ParseEvents:   "parse-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Decoder: DecoderConfig{
			BeamWidth:           8,
			TopK:                3,
			SupertaggingPruning: true,
			Beta:                0.00001,
			PruningRule:         PruningMultiplicative,
			Timeout:             4 * time.Second,
			CategoryFiltering:   false,
			GenericRules:        false,
			Workers:             0,
		},
		Grammar: GrammarConfig{
			Source:           GrammarSourceFile,
			UnaryRulesPath:   "data/instantiated_unary_rules.json",
			BinaryRulesPath:  "data/instantiated_binary_rules.json",
			VocabularyPath:   "data/lexical_category2idx.json",
			CategoryDictPath: "data/cat_dict.json",
		},
		Parsing: ParsingConfig{
			MaxTokens:      250,
			MaxBatchSize:   64,
			MaxDerivations: 5,
			PersistResults: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads CCG_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CCG_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CCG_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("CCG_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("CCG_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("CCG_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("CCG_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("CCG_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CCG_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CCG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CCG_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CCG_DECODER_BEAM_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Decoder.BeamWidth = n
		}
	}
	if v := os.Getenv("CCG_DECODER_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Decoder.TopK = n
		}
	}
	if v := os.Getenv("CCG_DECODER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Decoder.Timeout = d
		}
	}
	if v := os.Getenv("CCG_DECODER_CATEGORY_FILTERING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Decoder.CategoryFiltering = b
		}
	}
	if v := os.Getenv("CCG_GRAMMAR_SOURCE"); v != "" {
		cfg.Grammar.Source = v
	}
	if v := os.Getenv("CCG_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CCG_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
