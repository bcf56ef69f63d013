// Package normalize turns an uploaded file into an ordered sequence of page
// images. Images pass through unchanged; PDFs are rendered page by page at a
// fixed DPI. Page order is load-bearing: downstream consumers treat page 0 as
// the representative page for classification.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/docvisionhq/docvision/internal/common"
	"github.com/docvisionhq/docvision/internal/ocr"
	"github.com/docvisionhq/docvision/internal/upload"
)

// PageImage is one normalized raster page. For a non-PDF upload there is
// exactly one, named "image"; for a PDF, one per rendered page in page order.
type PageImage struct {
	Index int
	Name  string
	Data  []byte
}

// Config for PDF rasterization.
type Config struct {
	DPI      int    // render resolution, default 302
	Pdftoppm string // binary name or absolute path; if empty -> "pdftoppm"
}

// Normalizer converts uploads into page images.
type Normalizer struct {
	cfg    Config
	runner ocr.Runner
	logger *slog.Logger
}

func NewNormalizer(cfg Config, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 302
	}
	return &Normalizer{cfg: cfg, runner: ocr.ExecRunner{}, logger: logger}
}

// WithRunner replaces the command runner; used by tests.
func (n *Normalizer) WithRunner(r ocr.Runner) *Normalizer {
	n.runner = r
	return n
}

// Normalize produces the page sequence for a file. path is the persisted
// on-disk copy, required for PDF rendering. maxPages caps the number of
// leading pages rendered for a PDF; 0 renders all pages.
func (n *Normalizer) Normalize(ctx context.Context, f upload.File, path string, maxPages int) ([]PageImage, error) {
	if !f.IsPDF() {
		return []PageImage{{Index: 0, Name: "image", Data: f.Content}}, nil
	}
	return n.renderPDF(ctx, path, maxPages)
}

func (n *Normalizer) renderPDF(ctx context.Context, path string, maxPages int) ([]PageImage, error) {
	tmpDir, err := os.MkdirTemp("", "dv-pages-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			n.logger.Warn("page temp dir cleanup failed", "path", tmpDir, "error", err)
		}
	}()

	optimized := filepath.Join(tmpDir, "optimized.pdf")
	if err := optimizePDF(path, optimized); err != nil {
		return nil, fmt.Errorf("%w: not a well-formed PDF: %v", common.ErrNormalization, err)
	}
	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return nil, fmt.Errorf("%w: page count: %v", common.ErrNormalization, err)
	}

	pages, err := n.RenderPages(ctx, optimized, tmpDir, maxPages)
	if err != nil {
		return nil, err
	}
	n.logger.Debug("normalize.pdf.ok", "page_count", pageCount, "rendered", len(pages), "dpi", n.cfg.DPI)
	return pages, nil
}

// RenderPages rasterizes the leading pages of a prepared PDF into PNGs.
func (n *Normalizer) RenderPages(ctx context.Context, pdfPath, workDir string, maxPages int) ([]PageImage, error) {
	prefix := filepath.Join(workDir, "page")

	// pdftoppm -r <dpi> -png [-l <maxPages>] <in.pdf> <workdir/page>
	args := []string{"-r", strconv.Itoa(n.cfg.DPI), "-png"}
	if maxPages > 0 {
		args = append(args, "-l", strconv.Itoa(maxPages))
	}
	args = append(args, pdfPath, prefix)

	_, errb, err := n.runner.Run(ctx, n.cfg.Pdftoppm, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pdftoppm: %v (stderr: %s)", common.ErrNormalization, err, string(errb))
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...); pdftoppm
	// zero-pads page numbers, so lexical order is page order
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if maxPages > 0 && len(matches) > maxPages {
		matches = matches[:maxPages]
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: pdftoppm produced no images", common.ErrNormalization)
	}

	pages := make([]PageImage, 0, len(matches))
	for i, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("%w: read rendered page: %v", common.ErrNormalization, err)
		}
		pages = append(pages, PageImage{Index: i, Name: filepath.Base(m), Data: data})
	}
	return pages, nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}
