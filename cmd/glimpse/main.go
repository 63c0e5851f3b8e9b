package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mfalcone/glimpse/internal/audio"
	"github.com/mfalcone/glimpse/internal/config"
	"github.com/mfalcone/glimpse/internal/controller"
	"github.com/mfalcone/glimpse/internal/engine"
	"github.com/mfalcone/glimpse/internal/httpapi"
	"github.com/mfalcone/glimpse/internal/media"
	"github.com/mfalcone/glimpse/internal/model"
	"github.com/mfalcone/glimpse/internal/observability"
)

func main() {
	// A missing .env is fine; the environment itself still applies.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var opener model.Opener
	if cfg.GeminiAPIKey != "" {
		opener = model.NewGeminiOpener(cfg.GeminiAPIKey)
		log.Printf("model backend: gemini live (%s)", cfg.GeminiModel)
	} else {
		opener = model.NewScriptedOpener()
		log.Printf("model backend: scripted (GEMINI_API_KEY is not set, sessions will replay nothing)")
	}

	devices, err := audio.NewDeviceProvider()
	if err != nil {
		// Audio hardware is optional; sessions degrade to text and video.
		log.Printf("audio devices unavailable: %v", err)
		devices = nil
	}

	eng := engine.New(opener, devices, engine.Options{
		Connect: model.ConnectConfig{
			Model:           cfg.GeminiModel,
			MaxOutputTokens: int32(cfg.MaxOutputTokens),
			Temperature:     float32(cfg.Temperature),
			VoiceName:       cfg.GeminiVoice,
			EnableSearch:    cfg.EnableSearch,
		},
		FrameWaitTimeout: cfg.FrameWaitTimeout,
		StopJoinTimeout:  cfg.StopJoinTimeout,
		MicEnabled:       cfg.MicEnabled,
		PlaybackEnabled:  cfg.PlaybackEnabled,
	}, metrics)

	frames := media.NewFrameQueue(cfg.FrameQueueCapacity)
	ctrl := controller.New(eng, frames, metrics)

	api := httpapi.New(cfg, ctrl, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	if err := ctrl.Stop(); err != nil && !errors.Is(err, controller.ErrNoSession) {
		log.Printf("session shutdown failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
