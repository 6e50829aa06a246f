package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cliplab/clipd/internal/api"
	"github.com/cliplab/clipd/internal/clip"
	"github.com/cliplab/clipd/internal/config"
	"github.com/cliplab/clipd/internal/db"
	"github.com/cliplab/clipd/internal/logging"
	"github.com/cliplab/clipd/internal/media"
	"github.com/cliplab/clipd/internal/playback"
	"github.com/cliplab/clipd/internal/store"
	"github.com/cliplab/clipd/internal/transcribe"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting clipd", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := clip.NewRepository(database.Conn())

	uploads, err := store.New(cfg.UploadsDir())
	if err != nil {
		return fmt.Errorf("failed to create uploads store: %w", err)
	}
	clips, err := store.New(cfg.ClipsDir())
	if err != nil {
		return fmt.Errorf("failed to create clips store: %w", err)
	}
	audio, err := store.New(cfg.AudioDir())
	if err != nil {
		return fmt.Errorf("failed to create audio store: %w", err)
	}

	engine, err := media.NewFFmpeg(media.Config{
		FFmpegPath:      cfg.FFmpegPath(),
		FFprobePath:     cfg.FFprobePath(),
		ProbeTimeout:    cfg.TimeoutProbe(),
		ExtractTimeout:  cfg.TimeoutExtract(),
		AssembleTimeout: cfg.TimeoutAssemble(),
		Logger:          logging.WithComponent(logger, "media"),
	})
	if err != nil {
		return fmt.Errorf("media engine unavailable: %w", err)
	}

	if cfg.STTAPIKey() == "" {
		logger.Warn("no STT API key configured; transcription requests will be rejected by the provider",
			"env", config.EnvSTTAPIKey)
	}
	stt := transcribe.NewOpenAIClient(cfg.STTBaseURL(), cfg.STTAPIKey(), cfg.STTModel(),
		cfg.TimeoutTranscribe(), logging.WithComponent(logger, "stt"))

	// The runner does not exist yet when the service is built; the notify
	// closure resolves it at call time.
	var runner *clip.Runner
	service := clip.NewService(clip.ServiceConfig{
		Repository:     repo,
		Uploads:        uploads,
		Clips:          clips,
		Audio:          audio,
		Engine:         engine,
		Transcriber:    stt,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         logger,
		Notify: func() {
			if runner != nil {
				runner.Kick()
			}
		},
	})
	runner = clip.NewRunner(service, repo, logging.WithComponent(logger, "runner"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Service:        service,
		Runner:         runner,
		Uploads:        uploads,
		Clips:          clips,
		Playback:       playback.NewServer(logger),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         logging.WithComponent(logger, "api"),
		StartTime:      startTime,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()
	logger.Info("clipd listening", "addr", apiServer.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
