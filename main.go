package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/krau/alttext/config"
	"github.com/krau/alttext/model"
	"github.com/krau/alttext/onnx"
	"github.com/krau/alttext/pipeline"
	"github.com/krau/alttext/server"
)

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	slog.Info("Starting alt text service")

	cfg := config.C()

	ort.SetSharedLibraryPath(onnx.LibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("Failed to initialize ONNX Runtime environment", slog.String("error", err.Error()))
		return
	}
	defer ort.DestroyEnvironment()

	registry := model.NewRegistry(cfg)
	if err := registry.WarmUp(ctx); err != nil {
		slog.Warn("Model warm-up failed, deferring to lazy per-request loading", slog.String("error", err.Error()))
	}

	pipe := pipeline.New(
		pipeline.Config{
			Prompt:  cfg.RefinePrompt,
			Timeout: cfg.InferenceTimeout(),
		},
		func(ctx context.Context) (pipeline.Captioner, error) {
			c, err := registry.Captioner(ctx)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		func(ctx context.Context) (pipeline.Refiner, error) {
			r, err := registry.Refiner(ctx)
			if err != nil {
				return nil, err
			}
			return r, nil
		},
	)

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(cfg, pipe)

	addr := cfg.Host + ":" + cfg.Port
	slog.Info("Listening on", slog.String("address", addr))
	go func() {
		if err := srv.Router().Run(addr); err != nil {
			slog.Error("Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}
