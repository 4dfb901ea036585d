package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"abbot/pkg/errors"
)

type Config struct {
	App           AppConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Telegram      TelegramConfig
	AI            AIConfig
	Payments      PaymentsConfig
	Oracle        OracleConfig
	Meter         MeterConfig
	Funding       FundingConfig
	Metrics       MetricsConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"abbot"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type PostgresConfig struct {
	// Postgres is optional: without a host the bot runs on in-memory storage
	Host     string `envconfig:"POSTGRES_HOST"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"abbot"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"25"`
}

func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"abbot"`
}

func (c ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type TelegramConfig struct {
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
}

type AIConfig struct {
	Provider     string `envconfig:"AI_PROVIDER" default:"openai"` // openai or gemini
	OpenAIKey    string `envconfig:"OPENAI_API_KEY"`
	GeminiKey    string `envconfig:"GEMINI_API_KEY"`
	Model        string `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	SystemPrompt string `envconfig:"AI_SYSTEM_PROMPT" default:"You are a helpful assistant."`
	MaxHistory   int    `envconfig:"AI_MAX_HISTORY" default:"20"`
}

// PaymentsConfig selects and configures the payment processor.
// Exactly one processor is active per deployment.
type PaymentsConfig struct {
	Processor string `envconfig:"PAYMENT_PROCESSOR" default:"strike"` // strike, lnbits, opennode

	StrikeAPIKey  string `envconfig:"STRIKE_API_KEY"`
	StrikeBaseURL string `envconfig:"STRIKE_BASE_URL" default:"https://api.strike.me"`

	LNbitsAPIKey  string `envconfig:"LNBITS_API_KEY"`
	LNbitsBaseURL string `envconfig:"LNBITS_BASE_URL"`

	OpenNodeAPIKey  string `envconfig:"OPENNODE_API_KEY"`
	OpenNodeBaseURL string `envconfig:"OPENNODE_BASE_URL" default:"https://api.opennode.com"`
}

type OracleConfig struct {
	StalenessWindow time.Duration `envconfig:"ORACLE_STALENESS_WINDOW" default:"15m"`
	FetchTimeout    time.Duration `envconfig:"ORACLE_FETCH_TIMEOUT" default:"10s"`
}

type MeterConfig struct {
	InputUSDPer1K  string `envconfig:"METER_INPUT_USD_PER_1K" default:"0.0025"`
	OutputUSDPer1K string `envconfig:"METER_OUTPUT_USD_PER_1K" default:"0.01"`
}

type FundingConfig struct {
	PollInterval       time.Duration `envconfig:"FUNDING_POLL_INTERVAL" default:"1s"`
	FailureThreshold   int           `envconfig:"FUNDING_FAILURE_THRESHOLD" default:"5"`
	PendingGrace       time.Duration `envconfig:"FUNDING_PENDING_GRACE" default:"10m"`
	FallbackAddress    string        `envconfig:"FUNDING_FALLBACK_ADDRESS"`
	InvoiceDescription string        `envconfig:"FUNDING_INVOICE_DESCRIPTION" default:"Chat credit top-up"`
	JanitorInterval    time.Duration `envconfig:"FUNDING_JANITOR_INTERVAL" default:"1h"`
	TerminalRetention  time.Duration `envconfig:"FUNDING_TERMINAL_RETENTION" default:"168h"` // 7 days
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Addr    string `envconfig:"METRICS_ADDR" default:":9090"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for background workers
type WorkerConfig struct {
	RateRefreshInterval time.Duration `envconfig:"WORKER_RATE_REFRESH_INTERVAL" default:"5m"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate enforces the cross-field requirements envconfig tags cannot express
func (c *Config) validate() error {
	switch c.Payments.Processor {
	case "strike":
		if c.Payments.StrikeAPIKey == "" {
			return errors.Wrapf(errors.ErrInvalidInput, "STRIKE_API_KEY is required for processor strike")
		}
	case "lnbits":
		if c.Payments.LNbitsAPIKey == "" || c.Payments.LNbitsBaseURL == "" {
			return errors.Wrapf(errors.ErrInvalidInput, "LNBITS_API_KEY and LNBITS_BASE_URL are required for processor lnbits")
		}
	case "opennode":
		if c.Payments.OpenNodeAPIKey == "" {
			return errors.Wrapf(errors.ErrInvalidInput, "OPENNODE_API_KEY is required for processor opennode")
		}
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown payment processor %q", c.Payments.Processor)
	}

	switch c.AI.Provider {
	case "openai":
		if c.AI.OpenAIKey == "" {
			return errors.Wrapf(errors.ErrInvalidInput, "OPENAI_API_KEY is required for provider openai")
		}
	case "gemini":
		if c.AI.GeminiKey == "" {
			return errors.Wrapf(errors.ErrInvalidInput, "GEMINI_API_KEY is required for provider gemini")
		}
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown AI provider %q", c.AI.Provider)
	}

	return nil
}
