package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"thirdcoast.systems/carrot/internal/config"
	"thirdcoast.systems/carrot/internal/dispatch"
	"thirdcoast.systems/carrot/internal/transcription"
)

func TestNewBlobStoreNone(t *testing.T) {
	blobs, closer, err := NewBlobStore(context.Background(), config.Config{StorageBackend: "none"})
	require.NoError(t, err)
	require.Nil(t, blobs)
	require.NoError(t, closer.Close())
}

func TestNewDispatcherHTTP(t *testing.T) {
	d, _, err := NewDispatcher(config.Config{WorkerDispatch: "http", WorkerURL: "http://worker:8090", WorkerDispatchTimeout: 5})
	require.NoError(t, err)
	require.IsType(t, &dispatch.HTTPDispatcher{}, d)

	_, _, err = NewDispatcher(config.Config{WorkerDispatch: "carrier-pigeon"})
	require.Error(t, err)
}

func TestNewTranscriptionBackend(t *testing.T) {
	b, _, err := NewTranscriptionBackend(context.Background(), config.Config{TranscriptionBackend: "http", TranscriptionServiceURL: "http://asr:9000"})
	require.NoError(t, err)
	require.Equal(t, "http", b.Name())

	b, _, err = NewTranscriptionBackend(context.Background(), config.Config{TranscriptionBackend: "none"})
	require.NoError(t, err)
	require.IsType(t, transcription.NoneBackend{}, b)
}

func TestSweepConfig(t *testing.T) {
	sc := SweepConfig(config.Config{
		SweepIntervalSeconds:         30,
		QueuedRedispatchAfterSeconds: 90,
		MaxDispatchAttempts:          4,
		ProcessingCeilingMinutes:     20,
		TranscriptionCeilingMinutes:  10,
		BackfillWindowHours:          6,
	})
	require.Equal(t, 30*time.Second, sc.Interval)
	require.Equal(t, 90*time.Second, sc.RedispatchAfter)
	require.Equal(t, 4, sc.MaxDispatchAttempts)
	require.Equal(t, 20*time.Minute, sc.ProcessingCeiling)
	require.Equal(t, 10*time.Minute, sc.TranscriptionCeiling)
	require.Equal(t, 6*time.Hour, sc.BackfillWindow)
}

func TestOpenDBPoolWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := OpenDBPoolWithRetry(ctx, config.Config{DatabaseDSN: "postgres://u:p@127.0.0.1:1/db?connect_timeout=1", DatabaseRetries: 3})
	require.Error(t, err)
}
