package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"thirdcoast.systems/carrot/internal/config"
	"thirdcoast.systems/carrot/internal/dispatch"
	"thirdcoast.systems/carrot/pkg/ffmpeg"
	"thirdcoast.systems/carrot/pkg/ytdlp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting ingest worker")

	conf, err := config.LoadWorkerConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(conf.WorkDir, 0o755); err != nil {
		slog.Error("failed to create work dir", "dir", conf.WorkDir, "error", err)
		os.Exit(1)
	}

	client := ytdlp.New(conf.YtdlpPath)
	client.LogCallback = func(stream, line string) {
		slog.Debug("yt-dlp", "stream", stream, "line", line)
	}
	versionCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if v, err := client.Version(versionCtx); err != nil {
		slog.Warn("failed to run yt-dlp", "path", client.PathOrDefault(), "error", err)
	} else {
		slog.Info("yt-dlp ready", "version", v)
	}
	cancel()
	if !ffmpeg.Available() {
		slog.Warn("ffmpeg not found, trims will fail and downloads will not be probed")
	}

	r := newRunner(client, conf.CallbackSecret, conf.WorkDir)

	g, gctx := errgroup.WithContext(ctx)
	switch conf.Dispatch {
	case "amqp":
		g.Go(func() error {
			return dispatch.Consume(gctx, conf.AMQPURL, conf.AMQPQueue, conf.Concurrency, r.Handle)
		})
	default:
		if conf.WorkerSecret == "" {
			slog.Warn("WORKER_SECRET is empty, dispatches are not authenticated")
		}
		// Work outlives the request that delivered it but not the process.
		recv := newReceiver(ctx, r.Handle, conf.WorkerSecret, conf.Concurrency)
		addr := ":" + strconv.Itoa(conf.Port)
		g.Go(func() error {
			slog.Info("Listening", "addr", addr)
			if err := recv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := recv.Shutdown(shutdownCtx)
			recv.Drain()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("worker failed", "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("Ingest worker stopped")
}
