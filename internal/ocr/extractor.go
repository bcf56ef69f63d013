package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Config for the tesseract extractor.
type Config struct {
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	Language    string // default "eng"
	TessdataDir string
}

// Extractor runs tesseract over page images to produce the OCR text fed into
// classification.
type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &Extractor{cfg: cfg, runner: ExecRunner{}, logger: logger}
}

// WithRunner replaces the command runner; used by tests.
func (e *Extractor) WithRunner(r Runner) *Extractor {
	e.runner = r
	return e
}

// ExtractText OCRs one page image given as raw bytes.
func (e *Extractor) ExtractText(ctx context.Context, imageData []byte) (string, error) {
	start := time.Now()

	tmp, err := os.CreateTemp("", "dv-ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("create ocr temp file: %w", err)
	}
	path := tmp.Name()
	defer func() {
		if err := os.Remove(path); err != nil {
			e.logger.Warn("ocr temp file cleanup failed", "path", path, "error", err)
		}
	}()
	if _, err := tmp.Write(imageData); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write ocr temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close ocr temp file: %w", err)
	}

	args := []string{path, "stdout", "-l", e.cfg.Language}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}

	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w (stderr: %s)", err, truncate(string(errb), 512))
	}

	txt := Normalize(string(out))
	e.logger.Debug("ocr.extract.ok",
		"bytes_in", len(imageData),
		"text_len", len(txt),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return txt, nil
}
