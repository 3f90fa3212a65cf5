package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/satindergrewal/loopbook/internal/api"
	"github.com/satindergrewal/loopbook/internal/audio"
	"github.com/satindergrewal/loopbook/internal/config"
	"github.com/satindergrewal/loopbook/internal/library"
	"github.com/satindergrewal/loopbook/internal/output"
	"github.com/satindergrewal/loopbook/internal/playback"
	"github.com/satindergrewal/loopbook/internal/preview"
	"github.com/satindergrewal/loopbook/internal/shell"
	"github.com/satindergrewal/loopbook/internal/store"
	"github.com/satindergrewal/loopbook/internal/stream"
)

const usage = `usage: loopbook [serve|shell]

  serve   HTTP API and WebRTC monitor (default)
  shell   interactive command line
`

func main() {
	mode := "serve"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	if mode != "serve" && mode != "shell" {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, mode, cfg, logger); err != nil {
		logger.Error("loopbook exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, mode string, cfg config.Config, logger *slog.Logger) error {
	db := store.New(cfg.DBPath, logger)
	defer db.Close()

	// Broadcaster: fan-out PCM frames to the monitor and the sound card
	broadcaster := stream.NewBroadcaster()

	var out playback.Output
	if cfg.DeviceOutput {
		device := output.NewDevice(broadcaster, logger)
		defer device.Close()
		out = device
	}

	engine, err := playback.NewEngine(db, &audio.Decoder{FFmpegPath: cfg.FFmpegPath}, playback.Options{
		CacheSize: cfg.CacheSize,
		Output:    out,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	engine.SetEventFunc(func(ev playback.Event) {
		switch ev.Kind {
		case playback.EventStopped:
			broadcaster.Flush(ev.Gen)
		case playback.EventFailed:
			logger.Warn("playback failed", slog.String("loop", ev.LoopID), slog.Any("error", ev.Err))
		}
		logger.Debug("playback event", slog.String("kind", string(ev.Kind)), slog.String("loop", ev.LoopID))
	})
	go broadcaster.Run(ctx, engine.Frames())

	lib, err := library.Open(ctx, db, engine, logger)
	if err != nil {
		return err
	}

	var tracks *preview.Tracks
	if cfg.SpotifyEnabled() {
		tracks = preview.NewTracksWithCredentials(ctx, cfg.SpotifyClientID, cfg.SpotifyClientSecret)
	}

	if mode == "shell" {
		sh := shell.New(lib, engine, os.Stdout, logger)
		if tracks != nil {
			sh.WithTracks(tracks)
		}
		return sh.Run(ctx, historyPath(cfg.DBPath))
	}
	return serve(ctx, cfg, lib, engine, broadcaster, tracks, logger)
}

func serve(ctx context.Context, cfg config.Config, lib *library.Library, engine *playback.Engine, b *stream.Broadcaster, tracks *preview.Tracks, logger *slog.Logger) error {
	if cfg.LogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	monitor := stream.NewMonitor(b, logger)
	defer monitor.Close()

	handler := api.New(lib, engine, monitor, logger)
	if tracks != nil {
		handler.WithTracks(tracks)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("loopbook listening", slog.String("addr", addr), slog.String("db", cfg.DBPath))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func historyPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "history")
}
