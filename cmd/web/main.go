package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"thirdcoast.systems/carrot/cmd/web/auth"
	"thirdcoast.systems/carrot/cmd/web/internal/web"
	"thirdcoast.systems/carrot/internal/application"
	"thirdcoast.systems/carrot/internal/config"
	"thirdcoast.systems/carrot/internal/db"
	"thirdcoast.systems/carrot/internal/ingest"
	"thirdcoast.systems/carrot/internal/jobs"
	"thirdcoast.systems/carrot/internal/media"
	"thirdcoast.systems/carrot/internal/posts"
	"thirdcoast.systems/carrot/internal/tracing"
	"thirdcoast.systems/carrot/internal/transcription"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting web service", "version", version)

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if conf.DatabaseRetries <= 0 {
		conf.DatabaseRetries = 10
	}

	shutdownTracing := tracing.Init(ctx, application.TracingConfig(*conf, "carrot-web", version))
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer dbc.Close()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				slog.Warn("failed to close component", "error", err)
			}
		}
	}()

	blobs, blobsCloser, err := application.NewBlobStore(ctx, *conf)
	if err != nil {
		slog.Error("failed to initialize blob storage", "error", err)
		os.Exit(1)
	}
	closers = append(closers, blobsCloser)

	dispatcher, dispatcherCloser, err := application.NewDispatcher(*conf)
	if err != nil {
		slog.Error("failed to initialize worker dispatch", "error", err)
		os.Exit(1)
	}
	closers = append(closers, dispatcherCloser)

	backend, backendCloser, err := application.NewTranscriptionBackend(ctx, *conf)
	if err != nil {
		slog.Error("failed to initialize transcription backend", "error", err)
		os.Exit(1)
	}
	closers = append(closers, backendCloser)

	baseURL := strings.TrimRight(conf.PublicBaseURL, "/")
	jobStore := jobs.NewPostgresStore(dbc)
	postStore := posts.NewPostgresStore(dbc)
	transcriber := transcription.New(postStore, backend, application.TranscriptionConfig(*conf))
	manager := media.NewManager(media.NewPostgresStore(dbc), jobStore, blobs, dispatcher, media.Config{
		VariantCallbackURL: baseURL + "/api/variants/callback",
	})
	orch := ingest.New(ingest.Deps{
		Jobs:        jobStore,
		Posts:       postStore,
		Media:       manager,
		Transcriber: transcriber,
		Blobs:       blobs,
		Dispatcher:  dispatcher,
	}, ingest.Config{
		CallbackURL:       baseURL + "/api/ingest/callback",
		CallbackSecret:    conf.IngestCallbackSecret,
		AllowOtherSources: conf.IngestAllowOtherSources,
		DispatchTimeout:   conf.DispatchTimeout(),
	})

	sessionMgr := auth.NewSessionManager(conf.SessionSecret)

	e, err := web.NewWebserver(orch, sessionMgr)
	if err != nil {
		slog.Error("failed to create webserver", "error", err)
		os.Exit(1)
	}

	addr := ":" + strconv.Itoa(conf.WebServerPort)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return orch.RunSweeper(gctx, application.SweepConfig(*conf))
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	// Let detached dispatches and transcription attempts record their outcome.
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orch.Wait(drainCtx); err != nil {
		slog.Warn("dispatches still in flight at shutdown", "error", err)
	}
	if err := transcriber.Wait(drainCtx); err != nil {
		slog.Warn("transcriptions still running at shutdown", "error", err)
	}

	if runErr != nil {
		slog.Error("server failed", "error", runErr)
		stop()
		os.Exit(1)
	}
	slog.Info("Web service stopped")
}
