package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/voxbill/voxbill/internal/types"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig   `validate:"required"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Consumer   ConsumerConfig   `mapstructure:"consumer"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
	Webhook    Webhook          `mapstructure:"webhook"`
	Billing    BillingConfig    `mapstructure:"billing" validate:"required"`
	Retry      RetryConfig      `mapstructure:"retry" validate:"required"`
	Gateway    GatewayConfig    `mapstructure:"gateway" validate:"required"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Temporal   TemporalConfig   `mapstructure:"temporal"`
	Lock       LockConfig       `mapstructure:"lock" validate:"required"`
}

type DeploymentConfig struct {
	Mode types.RunMode `mapstructure:"mode" validate:"required"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
	// APIKey guards the admin API, empty disables the check
	APIKey string `mapstructure:"api_key"`
}

type LoggingConfig struct {
	Level types.LogLevel `mapstructure:"level" validate:"required"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	DBName                 string `mapstructure:"dbname"`
	SSLMode                string `mapstructure:"sslmode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	ClientID      string   `mapstructure:"client_id"`
	// UsageTopic carries call completion events produced by the telephony platform
	UsageTopic    string `mapstructure:"usage_topic"`
	TLS           bool   `mapstructure:"tls"`
	UseSASL       bool   `mapstructure:"use_sasl"`
	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUser      string `mapstructure:"sasl_user"`
	SASLPassword  string `mapstructure:"sasl_password"`
}

// ConsumerConfig drives the call completion consumer
type ConsumerConfig struct {
	Enabled         bool             `mapstructure:"enabled"`
	PubSub          types.PubSubType `mapstructure:"pubsub"`
	MaxRetries      int              `mapstructure:"max_retries"`
	InitialInterval time.Duration    `mapstructure:"initial_interval"`
	MaxInterval     time.Duration    `mapstructure:"max_interval"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// BillingConfig holds the pricing knobs of the billing cycle
type BillingConfig struct {
	Currency string `mapstructure:"currency" validate:"required,len=3"`
	// TaxRate is a flat decimal rate applied to the invoice subtotal, e.g. "0.08"
	TaxRate          string        `mapstructure:"tax_rate" validate:"required"`
	PaymentTermsDays int           `mapstructure:"payment_terms_days" validate:"gte=0"`
	Concurrency      int           `mapstructure:"concurrency" validate:"gte=1"`
	BatchSize        int           `mapstructure:"batch_size" validate:"gte=1"`
	Overage          OverageConfig `mapstructure:"overage"`
}

// OverageConfig holds per unit rates in cents for usage beyond plan allowances
type OverageConfig struct {
	CallMinuteRate int64 `mapstructure:"call_minute_rate" validate:"gte=0"`
	// MinutesPerConcurrentCall scales the plan's concurrent call limit into an included minute allowance
	MinutesPerConcurrentCall int64 `mapstructure:"minutes_per_concurrent_call" validate:"gte=0"`
	SeatRate                 int64 `mapstructure:"seat_rate" validate:"gte=0"`
	SMSRate                  int64 `mapstructure:"sms_rate" validate:"gte=0"`
	SMSAllowance             int64 `mapstructure:"sms_allowance" validate:"gte=0"`
}

// RetryConfig governs the payment retry scheduler
type RetryConfig struct {
	MaxRetries         int           `mapstructure:"max_retries" validate:"gte=0"`
	BaseDelay          time.Duration `mapstructure:"base_delay" validate:"required"`
	Exponential        bool          `mapstructure:"exponential"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	ProcessingInterval time.Duration `mapstructure:"processing_interval"`
	PendingTimeout     time.Duration `mapstructure:"pending_timeout" validate:"required"`
	Concurrency        int           `mapstructure:"concurrency" validate:"gte=1"`
	RetryableReasons   []string      `mapstructure:"retryable_reasons"`
}

type GatewayConfig struct {
	Timeout time.Duration `mapstructure:"timeout" validate:"required"`
	// RateLimit is the number of gateway calls per second allowed per provider
	RateLimit float64      `mapstructure:"rate_limit" validate:"gt=0"`
	Burst     int          `mapstructure:"burst" validate:"gte=1"`
	Stripe    StripeConfig `mapstructure:"stripe"`
	Bank      BankConfig   `mapstructure:"bank"`
}

type StripeConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	SecretKey string `mapstructure:"secret_key"`
}

type BankConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// SchedulerConfig holds cron specs for the worker mode triggers
type SchedulerConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	BillingCycleSpec string `mapstructure:"billing_cycle_spec"`
	RetryProcessSpec string `mapstructure:"retry_process_spec"`
	PendingSweepSpec string `mapstructure:"pending_sweep_spec"`
	ProcessOverages  bool   `mapstructure:"process_overages"`
}

type TemporalConfig struct {
	Address   string `mapstructure:"address"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
	APIKey    string `mapstructure:"api_key"`
	TLS       bool   `mapstructure:"tls"`
}

type LockConfig struct {
	Provider types.LockProvider `mapstructure:"provider" validate:"required,oneof=memory redis"`
	TTL      time.Duration      `mapstructure:"ttl"`
	Key      string             `mapstructure:"key"`
}

func NewConfig() (*Configuration, error) {
	// a missing .env file is fine, the environment may already be populated
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/voxbill")

	v.SetEnvPrefix("VOXBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("deployment.mode", d.Deployment.Mode)
	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("postgres.host", d.Postgres.Host)
	v.SetDefault("postgres.port", d.Postgres.Port)
	v.SetDefault("postgres.sslmode", d.Postgres.SSLMode)
	v.SetDefault("postgres.max_open_conns", d.Postgres.MaxOpenConns)
	v.SetDefault("postgres.max_idle_conns", d.Postgres.MaxIdleConns)
	v.SetDefault("postgres.conn_max_lifetime_minutes", d.Postgres.ConnMaxLifetimeMinutes)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("webhook.topic", d.Webhook.Topic)
	v.SetDefault("webhook.pubsub", d.Webhook.PubSub)
	v.SetDefault("kafka.usage_topic", d.Kafka.UsageTopic)
	v.SetDefault("kafka.consumer_group", d.Kafka.ConsumerGroup)
	v.SetDefault("kafka.client_id", d.Kafka.ClientID)
	v.SetDefault("consumer.enabled", d.Consumer.Enabled)
	v.SetDefault("consumer.pubsub", d.Consumer.PubSub)
	v.SetDefault("consumer.max_retries", d.Consumer.MaxRetries)
	v.SetDefault("consumer.initial_interval", d.Consumer.InitialInterval)
	v.SetDefault("consumer.max_interval", d.Consumer.MaxInterval)
	v.SetDefault("billing.currency", d.Billing.Currency)
	v.SetDefault("billing.tax_rate", d.Billing.TaxRate)
	v.SetDefault("billing.payment_terms_days", d.Billing.PaymentTermsDays)
	v.SetDefault("billing.concurrency", d.Billing.Concurrency)
	v.SetDefault("billing.batch_size", d.Billing.BatchSize)
	v.SetDefault("billing.overage.call_minute_rate", d.Billing.Overage.CallMinuteRate)
	v.SetDefault("billing.overage.minutes_per_concurrent_call", d.Billing.Overage.MinutesPerConcurrentCall)
	v.SetDefault("billing.overage.seat_rate", d.Billing.Overage.SeatRate)
	v.SetDefault("billing.overage.sms_rate", d.Billing.Overage.SMSRate)
	v.SetDefault("billing.overage.sms_allowance", d.Billing.Overage.SMSAllowance)
	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.exponential", d.Retry.Exponential)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.processing_interval", d.Retry.ProcessingInterval)
	v.SetDefault("retry.pending_timeout", d.Retry.PendingTimeout)
	v.SetDefault("retry.concurrency", d.Retry.Concurrency)
	v.SetDefault("retry.retryable_reasons", d.Retry.RetryableReasons)
	v.SetDefault("gateway.timeout", d.Gateway.Timeout)
	v.SetDefault("gateway.rate_limit", d.Gateway.RateLimit)
	v.SetDefault("gateway.burst", d.Gateway.Burst)
	v.SetDefault("gateway.bank.max_retries", d.Gateway.Bank.MaxRetries)
	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("scheduler.billing_cycle_spec", d.Scheduler.BillingCycleSpec)
	v.SetDefault("scheduler.retry_process_spec", d.Scheduler.RetryProcessSpec)
	v.SetDefault("scheduler.pending_sweep_spec", d.Scheduler.PendingSweepSpec)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)
	v.SetDefault("lock.provider", d.Lock.Provider)
	v.SetDefault("lock.ttl", d.Lock.TTL)
	v.SetDefault("lock.key", d.Lock.Key)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := decimal.NewFromString(c.Billing.TaxRate); err != nil {
		return fmt.Errorf("billing.tax_rate: %w", err)
	}
	if err := c.Webhook.PubSub.Validate(); err != nil {
		return fmt.Errorf("webhook.pubsub: %w", err)
	}
	if err := c.Consumer.PubSub.Validate(); err != nil {
		return fmt.Errorf("consumer.pubsub: %w", err)
	}
	return nil
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts and tests
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Postgres: PostgresConfig{
			Host:                   "localhost",
			Port:                   5432,
			SSLMode:                "disable",
			MaxOpenConns:           10,
			MaxIdleConns:           5,
			ConnMaxLifetimeMinutes: 60,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "voxbill-usage",
			ClientID:      "voxbill",
			UsageTopic:    "call_completed",
		},
		Consumer: ConsumerConfig{
			Enabled:         true,
			PubSub:          types.MemoryPubSub,
			MaxRetries:      3,
			InitialInterval: time.Second,
			MaxInterval:     30 * time.Second,
		},
		Cache: CacheConfig{Enabled: true, TTL: 10 * time.Minute},
		Webhook: Webhook{
			Topic:  "billing_events",
			PubSub: types.MemoryPubSub,
		},
		Billing: BillingConfig{
			Currency:         "usd",
			TaxRate:          "0.08",
			PaymentTermsDays: 0,
			Concurrency:      4,
			BatchSize:        100,
			Overage: OverageConfig{
				CallMinuteRate:           5,
				MinutesPerConcurrentCall: 1000,
				SeatRate:                 1500,
				SMSRate:                  0,
				SMSAllowance:             0,
			},
		},
		Retry: RetryConfig{
			MaxRetries:         3,
			BaseDelay:          60 * time.Minute,
			Exponential:        true,
			MaxDelay:           24 * time.Hour,
			ProcessingInterval: 15 * time.Minute,
			PendingTimeout:     2 * time.Hour,
			Concurrency:        4,
			RetryableReasons:   retryableReasonsDefault(),
		},
		Gateway: GatewayConfig{
			Timeout:   30 * time.Second,
			RateLimit: 20,
			Burst:     5,
			Bank:      BankConfig{MaxRetries: 3},
		},
		Scheduler: SchedulerConfig{
			Enabled:          true,
			BillingCycleSpec: "0 2 * * *",
			RetryProcessSpec: "*/15 * * * *",
			PendingSweepSpec: "30 * * * *",
		},
		Temporal: TemporalConfig{
			Namespace: "default",
			TaskQueue: "billing",
		},
		Lock: LockConfig{
			Provider: types.LockProviderMemory,
			TTL:      2 * time.Hour,
			Key:      "voxbill:billing_cycle",
		},
	}
}

func retryableReasonsDefault() []string {
	reasons := make([]string, 0, len(types.DefaultRetryableFailureReasons))
	for _, r := range types.DefaultRetryableFailureReasons {
		reasons = append(reasons, r.String())
	}
	return reasons
}

// GetTaxRate returns the configured flat tax rate
func (c BillingConfig) GetTaxRate() decimal.Decimal {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}
