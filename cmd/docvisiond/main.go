package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/docvisionhq/docvision/internal/common"
	"github.com/docvisionhq/docvision/internal/cues"
	"github.com/docvisionhq/docvision/internal/normalize"
	"github.com/docvisionhq/docvision/internal/ocr"
	"github.com/docvisionhq/docvision/internal/orchestrator"
	"github.com/docvisionhq/docvision/internal/server"
	"github.com/docvisionhq/docvision/internal/upload"
	"github.com/docvisionhq/docvision/internal/vision"
)

func main() {
	// Env
	_ = godotenv.Load()
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("main.config_load_failed", "error", err)
		os.Exit(1)
	}

	// Logger
	logger := common.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("main.config_invalid", "error", err)
		os.Exit(1)
	}

	// Context with signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Wiring
	store, err := upload.NewStore(cfg.Server.UploadDir)
	if err != nil {
		logger.Error("main.upload_store_failed", "error", err)
		os.Exit(1)
	}

	validator := upload.NewValidator(upload.Limits{
		MaxImageMB: cfg.Limits.MaxImageMB,
		MaxPDFMB:   cfg.Limits.MaxPDFMB,
		MinWidth:   cfg.Limits.MinWidth,
		MinHeight:  cfg.Limits.MinHeight,
		MaxWidth:   cfg.Limits.MaxWidth,
		MaxHeight:  cfg.Limits.MaxHeight,
	}, logger)

	extractor := ocr.NewExtractor(ocr.Config{
		Tesseract:   cfg.OCR.Tesseract,
		Language:    cfg.OCR.Language,
		TessdataDir: cfg.OCR.TessdataDir,
	}, logger)

	normalizer := normalize.NewNormalizer(normalize.Config{
		DPI:      cfg.PDF.DPI,
		Pdftoppm: cfg.PDF.Pdftoppm,
	}, logger)

	classifier := vision.NewClient(vision.Config{
		BaseURL:     cfg.Vision.BaseURL,
		APIKey:      cfg.Vision.APIKey,
		Model:       cfg.Vision.Model,
		Temperature: cfg.Vision.Temperature,
		Timeout:     cfg.Vision.Timeout,
	}, extractor, logger)

	detector := cues.NewClient(cues.Config{
		URL:       cfg.Detection.URL,
		APIKey:    cfg.Detection.APIKey,
		Timeout:   cfg.Detection.Timeout,
		MaxResize: cfg.Detection.MaxResize,
	}, logger)

	orch := orchestrator.New(cfg.Limits, validator, store, normalizer, classifier, detector, logger)
	srv := server.New(orch, logger)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Routes(),
	}

	go func() {
		logger.Info("main.listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("main.serve_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("main.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("main.shutdown_failed", "error", err)
		os.Exit(1)
	}
	logger.Info("main.stopped")
}
