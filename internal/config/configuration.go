package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// WebServer Configuration
	WebServerPort int    `mapstructure:"WEBSERVER_PORT"`
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL" validate:"required,url"`
	SessionSecret string `mapstructure:"SESSION_SECRET"`

	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`

	// Ingest / worker protocol
	IngestCallbackSecret    string `mapstructure:"INGEST_CALLBACK_SECRET" validate:"required,min=16"`
	IngestAllowOtherSources bool   `mapstructure:"INGEST_ALLOW_OTHER_SOURCES"`
	WorkerDispatch          string `mapstructure:"WORKER_DISPATCH" validate:"oneof=http amqp"`
	WorkerURL               string `mapstructure:"WORKER_URL" validate:"required_if=WorkerDispatch http"`
	WorkerSecret            string `mapstructure:"WORKER_SECRET"`
	WorkerDispatchTimeout   int    `mapstructure:"WORKER_DISPATCH_TIMEOUT_SECONDS" validate:"gte=1"`
	AMQPURL                 string `mapstructure:"AMQP_URL" validate:"required_if=WorkerDispatch amqp"`
	AMQPQueue               string `mapstructure:"AMQP_QUEUE"`

	// Transcription
	TranscriptionBackend    string `mapstructure:"TRANSCRIPTION_BACKEND" validate:"oneof=http speech none"`
	TranscriptionServiceURL string `mapstructure:"TRANSCRIPTION_SERVICE_URL" validate:"required_if=TranscriptionBackend http"`
	TranscriptionTimeout    int    `mapstructure:"TRANSCRIPTION_TIMEOUT_SECONDS" validate:"gte=1"`
	TranscriptionRetryDelay int    `mapstructure:"TRANSCRIPTION_RETRY_DELAY_MS" validate:"gte=0"`
	SpeechLanguageCode      string `mapstructure:"SPEECH_LANGUAGE_CODE"`

	// Blob storage
	StorageBackend        string `mapstructure:"STORAGE_BACKEND" validate:"oneof=gcs minio none"`
	StorageBucket         string `mapstructure:"STORAGE_BUCKET" validate:"required_unless=StorageBackend none"`
	GCSCredentialsFile    string `mapstructure:"GCS_CREDENTIALS_FILE"`
	GCSCredentialsJSON    string `mapstructure:"GOOGLE_APPLICATION_CREDENTIALS_JSON"`
	MinioEndpoint         string `mapstructure:"MINIO_ENDPOINT" validate:"required_if=StorageBackend minio"`
	MinioAccessKey        string `mapstructure:"MINIO_ACCESS_KEY"`
	MinioSecretKey        string `mapstructure:"MINIO_SECRET_KEY"`
	MinioUseSSL           bool   `mapstructure:"MINIO_USE_SSL"`
	MinioRegion           string `mapstructure:"MINIO_REGION"`
	UploadMaxBytes        int64  `mapstructure:"UPLOAD_MAX_BYTES" validate:"gte=1"`
	SignedWriteTTLMinutes int    `mapstructure:"SIGNED_WRITE_TTL_MINUTES" validate:"gte=1"`
	SignedReadTTLHours    int    `mapstructure:"SIGNED_READ_TTL_HOURS" validate:"gte=1"`

	// Reconciliation sweep
	SweepIntervalSeconds         int `mapstructure:"SWEEP_INTERVAL_SECONDS" validate:"gte=1"`
	QueuedRedispatchAfterSeconds int `mapstructure:"QUEUED_REDISPATCH_AFTER_SECONDS" validate:"gte=1"`
	MaxDispatchAttempts          int `mapstructure:"MAX_DISPATCH_ATTEMPTS" validate:"gte=1"`
	ProcessingCeilingMinutes     int `mapstructure:"PROCESSING_CEILING_MINUTES" validate:"gte=1"`
	TranscriptionCeilingMinutes  int `mapstructure:"TRANSCRIPTION_CEILING_MINUTES" validate:"gte=1"`
	BackfillWindowHours          int `mapstructure:"BACKFILL_WINDOW_HOURS" validate:"gte=1"`

	// Tracing
	OtelEnabled      bool    `mapstructure:"OTEL_ENABLED"`
	OtelEndpoint     string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelInsecure     bool    `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OtelSamplerRatio float64 `mapstructure:"OTEL_SAMPLER_RATIO" validate:"gte=0,lte=1"`
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	for _, s := range []*string{&c.SessionSecret, &c.IngestCallbackSecret, &c.WorkerSecret, &c.MinioSecretKey, &c.GCSCredentialsJSON} {
		if *s != "" {
			*s = "***"
		}
	}
	return c
}

func (c Config) DispatchTimeout() time.Duration {
	return time.Duration(c.WorkerDispatchTimeout) * time.Second
}

func (c Config) TranscriptionAttemptTimeout() time.Duration {
	return time.Duration(c.TranscriptionTimeout) * time.Second
}

func (c Config) TranscriptionRetryBackoff() time.Duration {
	return time.Duration(c.TranscriptionRetryDelay) * time.Millisecond
}

func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c any) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		tag := field.Tag.Get("mapstructure")

		if tag != "" {
			viper.BindEnv(tag)
		}

		// Handle nested structs
		if field.Type.Kind() == reflect.Struct && tag == "" {
			nestedTyp := fieldVal.Type()
			for j := 0; j < fieldVal.NumField(); j++ {
				nestedField := nestedTyp.Field(j)
				nestedTag := nestedField.Tag.Get("mapstructure")
				if nestedTag != "" {
					viper.BindEnv(nestedTag)
				}
			}
		}
	}
	slog.Info("Environment variables bound", "fields", typ.NumField())
}

// loadDotEnv reads a .env file from the working directory when present.
// Variables already set in the environment win.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}
}

func LoadConfig(ctx context.Context) (*Config, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	slog.Info("Loaded configuration", "config", cfg.Redacted())

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadDatabaseConfig reads the same environment as LoadConfig but only
// validates the database settings, for tools that never serve requests.
func LoadDatabaseConfig(ctx context.Context) (*Config, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	validate := validator.New()
	if err := validate.StructPartial(cfg, "DatabaseDSN", "DatabaseRetries"); err != nil {
		return nil, fmt.Errorf("validate database config: %w", err)
	}

	return cfg, nil
}

func readConfig() (*Config, error) {
	loadDotEnv()
	bindEnv(Config{})
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("WEBSERVER_PORT", 8080)
	viper.SetDefault("DATABASE_RETRIES", 10)
	viper.SetDefault("WORKER_DISPATCH", "http")
	viper.SetDefault("WORKER_DISPATCH_TIMEOUT_SECONDS", 5)
	viper.SetDefault("AMQP_QUEUE", "ingest.dispatch")
	viper.SetDefault("TRANSCRIPTION_BACKEND", "http")
	viper.SetDefault("TRANSCRIPTION_TIMEOUT_SECONDS", 120)
	viper.SetDefault("TRANSCRIPTION_RETRY_DELAY_MS", 500)
	viper.SetDefault("SPEECH_LANGUAGE_CODE", "en-US")
	viper.SetDefault("STORAGE_BACKEND", "none")
	viper.SetDefault("UPLOAD_MAX_BYTES", int64(500*1024*1024))
	viper.SetDefault("SIGNED_WRITE_TTL_MINUTES", 10)
	viper.SetDefault("SIGNED_READ_TTL_HOURS", 24)
	viper.SetDefault("SWEEP_INTERVAL_SECONDS", 60)
	viper.SetDefault("QUEUED_REDISPATCH_AFTER_SECONDS", 120)
	viper.SetDefault("MAX_DISPATCH_ATTEMPTS", 5)
	viper.SetDefault("PROCESSING_CEILING_MINUTES", 30)
	viper.SetDefault("TRANSCRIPTION_CEILING_MINUTES", 15)
	viper.SetDefault("BACKFILL_WINDOW_HOURS", 24)
	viper.SetDefault("OTEL_SAMPLER_RATIO", 0.1)

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
