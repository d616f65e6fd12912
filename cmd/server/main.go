package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"chzzk-recorder/internal/chzzk"
	"chzzk-recorder/internal/orchestrator"
	"chzzk-recorder/internal/platform/config"
	"chzzk-recorder/internal/platform/logger"
	"chzzk-recorder/internal/platform/metrics"
	"chzzk-recorder/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/gofrs/flock"
	"golang.org/x/time/rate"
)

const (
	httpShutdownTimeout     = 10 * time.Second
	recorderShutdownPadding = 15 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "recorder:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = config.Load()
	settings, err := config.FromEnv()
	if err != nil {
		return err
	}

	log := logger.New(settings.LogLevel, settings.LogFormat)

	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lockPath := filepath.Join(settings.DataDir, "recorder.lock")
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another recorder is already running (lock %s)", lockPath)
	}
	defer func() { _ = lock.Unlock() }()

	store, err := storage.Open(settings.DBPath, storage.DefaultOptions())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if settings.NIDAut != "" || settings.NIDSes != "" {
		if err := store.PutCredentials(ctx, orchestrator.Credentials{NIDAut: settings.NIDAut, NIDSes: settings.NIDSes}); err != nil {
			return err
		}
	}

	api := chzzk.NewClientWithOptions(chzzk.Options{RateLimit: rate.Limit(settings.APIRatePerSecond)})
	met := metrics.New()

	launcher := orchestrator.StreamlinkLauncher{
		Command: settings.CaptureCommand,
		Quality: settings.CaptureQuality,
		Log:     logger.WithComponent(log, "capture"),
	}
	pipeline := orchestrator.NewPipeline(
		orchestrator.FFmpegTranscoder{Command: settings.TranscodeCommand},
		logger.WithComponent(log, "finalize"),
	)
	sup := orchestrator.NewSupervisor(orchestrator.SupervisorConfig{
		OutputDir:      settings.OutputDir,
		TerminateGrace: settings.TerminateGrace.Duration,
	}, store, launcher, pipeline, logger.WithComponent(log, "supervisor"), met)
	svc := orchestrator.NewService(orchestrator.ServiceConfig{
		PollInterval:       settings.PollInterval.Duration,
		MaxConcurrentPolls: settings.MaxConcurrentPolls,
		TrustedHostSuffix:  settings.TrustedHostSuffix,
	}, store, api, sup, logger.WithComponent(log, "service"), met)

	if err := svc.Recover(ctx); err != nil {
		return err
	}

	h := orchestrator.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	if settings.HTTPRateLimit > 0 {
		r.Use(httprate.LimitByIP(settings.HTTPRateLimit, time.Minute))
	}
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveCaptures(svc.ActiveCaptures()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	srv := &http.Server{
		Addr:              ":" + settings.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		_ = svc.Run(ctx)
	}()

	log.Info("recorder starting",
		"port", settings.Port,
		"db_path", settings.DBPath,
		"output_dir", settings.OutputDir,
		"poll_interval", settings.PollInterval.Duration,
		"log_level", settings.LogLevel,
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining connections")
	case err := <-serverErr:
		if err != nil {
			log.Error("server error", "error", err)
			runErr = err
		}
		stop()
	}
	<-pollDone

	httpCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	// Captures get their interrupt grace plus time to exit.
	recCtx, recCancel := context.WithTimeout(context.Background(), settings.TerminateGrace.Duration+recorderShutdownPadding)
	defer recCancel()
	if err := svc.Shutdown(recCtx); err != nil {
		log.Error("recorder shutdown incomplete", "error", err)
	}

	log.Info("recorder stopped")
	return runErr
}
