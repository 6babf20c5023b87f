package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// WorkerConfig configures the reference ingest worker (cmd/worker).
type WorkerConfig struct {
	Port           int    `mapstructure:"WORKER_PORT"`
	Dispatch       string `mapstructure:"WORKER_DISPATCH" validate:"oneof=http amqp"`
	WorkerSecret   string `mapstructure:"WORKER_SECRET"`
	CallbackSecret string `mapstructure:"INGEST_CALLBACK_SECRET" validate:"required,min=16"`
	AMQPURL        string `mapstructure:"AMQP_URL" validate:"required_if=Dispatch amqp"`
	AMQPQueue      string `mapstructure:"AMQP_QUEUE"`
	YtdlpPath      string `mapstructure:"YTDLP_PATH"`
	WorkDir        string `mapstructure:"WORK_DIR" validate:"required"`
	Concurrency    int    `mapstructure:"WORKER_CONCURRENCY" validate:"gte=1"`
}

func LoadWorkerConfig(ctx context.Context) (*WorkerConfig, error) {
	loadDotEnv()
	bindEnv(WorkerConfig{})
	viper.AutomaticEnv()

	viper.SetDefault("WORKER_PORT", 8090)
	viper.SetDefault("WORKER_DISPATCH", "http")
	viper.SetDefault("AMQP_QUEUE", "ingest.dispatch")
	viper.SetDefault("YTDLP_PATH", "yt-dlp")
	viper.SetDefault("WORK_DIR", "/tmp/carrot-worker")
	viper.SetDefault("WORKER_CONCURRENCY", 2)

	cfg := WorkerConfig{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal worker config: %w", err)
	}

	redacted := cfg
	if redacted.CallbackSecret != "" {
		redacted.CallbackSecret = "***"
	}
	if redacted.WorkerSecret != "" {
		redacted.WorkerSecret = "***"
	}
	slog.Info("Loaded worker configuration", "config", redacted)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate worker config: %w", err)
	}

	return &cfg, nil
}
