package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/api/option"
	"thirdcoast.systems/carrot/internal/config"
	"thirdcoast.systems/carrot/internal/dispatch"
	"thirdcoast.systems/carrot/internal/ingest"
	"thirdcoast.systems/carrot/internal/storage"
	"thirdcoast.systems/carrot/internal/tracing"
	"thirdcoast.systems/carrot/internal/transcription"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewBlobStore builds the configured blob store. It returns a nil store when
// STORAGE_BACKEND is none.
func NewBlobStore(ctx context.Context, conf config.Config) (storage.BlobStore, io.Closer, error) {
	policy := storage.Policy{
		MaxBytes: conf.UploadMaxBytes,
		WriteTTL: time.Duration(conf.SignedWriteTTLMinutes) * time.Minute,
		ReadTTL:  time.Duration(conf.SignedReadTTLHours) * time.Hour,
	}

	switch conf.StorageBackend {
	case "gcs":
		var opts []option.ClientOption
		switch {
		case conf.GCSCredentialsJSON != "":
			opts = append(opts, option.WithCredentialsJSON([]byte(conf.GCSCredentialsJSON)))
		case conf.GCSCredentialsFile != "":
			opts = append(opts, option.WithCredentialsFile(conf.GCSCredentialsFile))
		}
		gcs, err := storage.NewGCS(ctx, storage.GCSConfig{Bucket: conf.StorageBucket, Policy: policy}, opts...)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Blob storage ready", "backend", "gcs", "bucket", conf.StorageBucket)
		return gcs, gcs, nil
	case "minio":
		m, err := storage.NewMinIO(storage.MinIOConfig{
			Endpoint:  conf.MinioEndpoint,
			AccessKey: conf.MinioAccessKey,
			SecretKey: conf.MinioSecretKey,
			UseSSL:    conf.MinioUseSSL,
			Region:    conf.MinioRegion,
			Bucket:    conf.StorageBucket,
			Policy:    policy,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, nil, err
		}
		slog.Info("Blob storage ready", "backend", "minio", "endpoint", conf.MinioEndpoint, "bucket", conf.StorageBucket)
		return m, nopCloser{}, nil
	default:
		slog.Warn("No blob storage configured; uploads and worker upload targets are disabled")
		return nil, nopCloser{}, nil
	}
}

// NewDispatcher builds the worker dispatcher for WORKER_DISPATCH.
func NewDispatcher(conf config.Config) (dispatch.Dispatcher, io.Closer, error) {
	switch conf.WorkerDispatch {
	case "amqp":
		d, err := dispatch.NewAMQPDispatcher(conf.AMQPURL, conf.AMQPQueue)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Worker dispatch via AMQP", "queue", conf.AMQPQueue)
		return d, d, nil
	case "http", "":
		slog.Info("Worker dispatch via HTTP", "url", conf.WorkerURL)
		return dispatch.NewHTTPDispatcher(conf.WorkerURL, conf.WorkerSecret, conf.DispatchTimeout()), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown worker dispatch %q", conf.WorkerDispatch)
	}
}

// NewTranscriptionBackend builds the backend for TRANSCRIPTION_BACKEND.
func NewTranscriptionBackend(ctx context.Context, conf config.Config) (transcription.Backend, io.Closer, error) {
	switch conf.TranscriptionBackend {
	case "http":
		return transcription.NewHTTPBackend(conf.TranscriptionServiceURL), nopCloser{}, nil
	case "speech":
		var opts []option.ClientOption
		switch {
		case conf.GCSCredentialsJSON != "":
			opts = append(opts, option.WithCredentialsJSON([]byte(conf.GCSCredentialsJSON)))
		case conf.GCSCredentialsFile != "":
			opts = append(opts, option.WithCredentialsFile(conf.GCSCredentialsFile))
		}
		b, err := transcription.NewSpeechBackend(ctx, conf.SpeechLanguageCode, opts...)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	default:
		slog.Warn("No transcription backend configured; transcriptions will fail with a fallback message")
		return transcription.NoneBackend{}, nopCloser{}, nil
	}
}

func TranscriptionConfig(conf config.Config) transcription.Config {
	return transcription.Config{
		AttemptTimeout: conf.TranscriptionAttemptTimeout(),
		RetryDelay:     conf.TranscriptionRetryBackoff(),
	}
}

func SweepConfig(conf config.Config) ingest.SweepConfig {
	return ingest.SweepConfig{
		Interval:             conf.SweepInterval(),
		RedispatchAfter:      time.Duration(conf.QueuedRedispatchAfterSeconds) * time.Second,
		MaxDispatchAttempts:  conf.MaxDispatchAttempts,
		ProcessingCeiling:    time.Duration(conf.ProcessingCeilingMinutes) * time.Minute,
		TranscriptionCeiling: time.Duration(conf.TranscriptionCeilingMinutes) * time.Minute,
		BackfillWindow:       time.Duration(conf.BackfillWindowHours) * time.Hour,
	}
}

func TracingConfig(conf config.Config, service, version string) tracing.Config {
	return tracing.Config{
		Enabled:     conf.OtelEnabled,
		ServiceName: service,
		Version:     version,
		Endpoint:    conf.OtelEndpoint,
		Insecure:    conf.OtelInsecure,
		SampleRatio: conf.OtelSamplerRatio,
	}
}
