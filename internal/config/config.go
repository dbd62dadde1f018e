package config

import (
	"time"

	"github.com/bookwell/service-booking/pkg/config"
	"github.com/spf13/viper"
)

// PaymentConfig holds the payment service client settings.
type PaymentConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
}

// LifecycleConfig tunes the state machine and its background workers.
type LifecycleConfig struct {
	CommitAttempts int

	SweepInterval  time.Duration
	SweepBatchSize int
	SweepWorkers   int

	OutboxInterval    time.Duration
	OutboxBatchSize   int
	OutboxWorkers     int
	OutboxMaxAttempts int
	OutboxLease       time.Duration
}

// LogConfig controls the optional rotated log file.
type LogConfig struct {
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ServiceConfig holds all configuration for the booking service.
type ServiceConfig struct {
	Port            string
	AppEnv          string
	DefaultCurrency string
	MigrationsDir   string
	DBConfig        config.DatabaseConfig
	JWTConfig       config.JWTConfig
	KafkaConfig     config.KafkaConfig
	Payment         PaymentConfig
	Lifecycle       LifecycleConfig
	Log             LogConfig
}

// Load reads configuration from environment variables.
func Load() (*ServiceConfig, error) {
	v, err := config.Load("BOOKING")
	if err != nil {
		return nil, err
	}
	setDefaults(v)

	return &ServiceConfig{
		Port:            config.GetServicePort(v, "SERVICE_PORT"),
		AppEnv:          config.GetAppEnv(v),
		DefaultCurrency: v.GetString("DEFAULT_CURRENCY"),
		MigrationsDir:   v.GetString("MIGRATIONS_DIR"),
		DBConfig:        config.LoadDatabaseConfig(v, "DB_NAME"),
		JWTConfig:       config.LoadJWTConfig(v),
		KafkaConfig:     config.LoadKafkaConfig(v),
		Payment: PaymentConfig{
			BaseURL:     v.GetString("PAYMENT_URL"),
			APIKey:      v.GetString("PAYMENT_API_KEY"),
			Timeout:     v.GetDuration("PAYMENT_TIMEOUT"),
			MaxAttempts: v.GetInt("PAYMENT_MAX_ATTEMPTS"),
		},
		Lifecycle: LifecycleConfig{
			CommitAttempts:    v.GetInt("COMMIT_ATTEMPTS"),
			SweepInterval:     v.GetDuration("SWEEP_INTERVAL"),
			SweepBatchSize:    v.GetInt("SWEEP_BATCH_SIZE"),
			SweepWorkers:      v.GetInt("SWEEP_WORKERS"),
			OutboxInterval:    v.GetDuration("OUTBOX_INTERVAL"),
			OutboxBatchSize:   v.GetInt("OUTBOX_BATCH_SIZE"),
			OutboxWorkers:     v.GetInt("OUTBOX_WORKERS"),
			OutboxMaxAttempts: v.GetInt("OUTBOX_MAX_ATTEMPTS"),
			OutboxLease:       v.GetDuration("OUTBOX_LEASE"),
		},
		Log: LogConfig{
			FilePath:   v.GetString("LOG_FILE"),
			MaxSizeMB:  v.GetInt("LOG_MAX_SIZE_MB"),
			MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
			MaxAgeDays: v.GetInt("LOG_MAX_AGE_DAYS"),
		},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_NAME", "booking")
	v.SetDefault("DEFAULT_CURRENCY", "USD")
	v.SetDefault("MIGRATIONS_DIR", "migrations")

	v.SetDefault("PAYMENT_URL", "http://localhost:8083")
	v.SetDefault("PAYMENT_TIMEOUT", 5*time.Second)
	v.SetDefault("PAYMENT_MAX_ATTEMPTS", 3)

	v.SetDefault("COMMIT_ATTEMPTS", 3)
	v.SetDefault("SWEEP_INTERVAL", time.Minute)
	v.SetDefault("SWEEP_BATCH_SIZE", 200)
	v.SetDefault("SWEEP_WORKERS", 4)
	v.SetDefault("OUTBOX_INTERVAL", 30*time.Second)
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("OUTBOX_WORKERS", 4)
	v.SetDefault("OUTBOX_MAX_ATTEMPTS", 8)
	v.SetDefault("OUTBOX_LEASE", 2*time.Minute)

	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 14)
}
