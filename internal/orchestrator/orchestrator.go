// Package orchestrator coordinates a batch: quotas, per-file validation,
// cache lookups, normalization, collaborator fan-out under a concurrency
// bound, and reassembly of outcomes in input order. One bad file never
// aborts its siblings.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/docvisionhq/docvision/constants"
	"github.com/docvisionhq/docvision/internal/cache"
	"github.com/docvisionhq/docvision/internal/common"
	"github.com/docvisionhq/docvision/internal/cues"
	"github.com/docvisionhq/docvision/internal/normalize"
	"github.com/docvisionhq/docvision/internal/upload"
	"github.com/docvisionhq/docvision/internal/vision"
)

// Classifier is the classification collaborator consumed by the core.
type Classifier interface {
	Classify(ctx context.Context, imageData []byte) (vision.ClassificationResult, error)
}

// LogoDetector is the visual-cue collaborator consumed by the core.
type LogoDetector interface {
	Detect(ctx context.Context, imageData []byte, maxResults int) ([]cues.Logo, error)
}

// Normalizer turns a file into its ordered page images.
type Normalizer interface {
	Normalize(ctx context.Context, f upload.File, path string, maxPages int) ([]normalize.PageImage, error)
}

// Validator runs the stateless per-file checks.
type Validator interface {
	Validate(f upload.File) error
}

// Saver persists the write-once on-disk copy keyed by ContentKey.
type Saver interface {
	Save(key string, content []byte) (string, error)
}

// AnalysisOutcome is the per-file result of AnalyzeBatch: exactly one of
// Result or Err is set.
type AnalysisOutcome struct {
	File   string
	Result *vision.ClassificationResult
	Err    error
}

// VisualOutcome is the per-file result of ExtractVisualCuesBatch: exactly
// one of Cues or Err is set.
type VisualOutcome struct {
	File string
	Cues []cues.PageVisualCues
	Err  error
}

// Orchestrator owns the process-wide caches and the collaborator
// concurrency bound shared across concurrent batches.
type Orchestrator struct {
	limits     common.LimitsConfig
	validator  Validator
	store      Saver
	normalizer Normalizer
	classifier Classifier
	detector   LogoDetector

	textCache   *cache.Store[vision.ClassificationResult]
	visualCache *cache.Store[[]cues.PageVisualCues]

	sem    *semaphore.Weighted
	logger *slog.Logger
}

func New(limits common.LimitsConfig, validator Validator, store Saver, normalizer Normalizer, classifier Classifier, detector LogoDetector, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if limits.Concurrency <= 0 {
		limits.Concurrency = 5
	}
	return &Orchestrator{
		limits:      limits,
		validator:   validator,
		store:       store,
		normalizer:  normalizer,
		classifier:  classifier,
		detector:    detector,
		textCache:   cache.New[vision.ClassificationResult](limits.CacheMaxEntries),
		visualCache: cache.New[[]cues.PageVisualCues](limits.CacheMaxEntries),
		sem:         semaphore.NewWeighted(int64(limits.Concurrency)),
		logger:      logger,
	}
}

// AnalyzeBatch classifies every file in the batch. The returned slice has
// one outcome per input file in input order. The only batch-level failure is
// the total-file cap; per-type caps and per-file errors degrade to Failure
// outcomes.
func (o *Orchestrator) AnalyzeBatch(ctx context.Context, files []upload.File) ([]AnalysisOutcome, error) {
	if len(files) > o.limits.MaxTotalFiles {
		return nil, &common.BatchQuotaError{Limit: o.limits.MaxTotalFiles}
	}

	batchID := uuid.New().String()
	log := o.logger.With("batch_id", batchID, "kind", "analyze")
	log.Info("batch.start",
		"files", len(files),
		"pdfs", lo.CountBy(files, upload.File.IsPDF),
	)

	quotaErrs := o.applyTypeQuotas(files)
	results := make([]AnalysisOutcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.limits.Concurrency)
	for i, f := range files {
		if quotaErrs[i] != nil {
			results[i] = AnalysisOutcome{File: f.Filename, Err: quotaErrs[i]}
			log.Info("batch.file.quota_exceeded", "file", f.Filename)
			continue
		}
		g.Go(func() error {
			res, err := o.analyzeFile(gctx, f, log)
			if err != nil {
				results[i] = AnalysisOutcome{File: f.Filename, Err: err}
				log.Warn("batch.file.failed", "file", f.Filename, "error", err)
				return nil
			}
			results[i] = AnalysisOutcome{File: f.Filename, Result: &res}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("batch.done",
		"failures", lo.CountBy(results, func(r AnalysisOutcome) bool { return r.Err != nil }),
	)
	return results, nil
}

// ExtractVisualCuesBatch detects logo regions for every file in the batch,
// with the same ordering and failure-isolation guarantees as AnalyzeBatch.
func (o *Orchestrator) ExtractVisualCuesBatch(ctx context.Context, files []upload.File) ([]VisualOutcome, error) {
	if len(files) > o.limits.MaxTotalFiles {
		return nil, &common.BatchQuotaError{Limit: o.limits.MaxTotalFiles}
	}

	batchID := uuid.New().String()
	log := o.logger.With("batch_id", batchID, "kind", "visual_cues")
	log.Info("batch.start",
		"files", len(files),
		"pdfs", lo.CountBy(files, upload.File.IsPDF),
	)

	quotaErrs := o.applyTypeQuotas(files)
	results := make([]VisualOutcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.limits.Concurrency)
	for i, f := range files {
		if quotaErrs[i] != nil {
			results[i] = VisualOutcome{File: f.Filename, Err: quotaErrs[i]}
			log.Info("batch.file.quota_exceeded", "file", f.Filename)
			continue
		}
		g.Go(func() error {
			pageCues, err := o.visualFile(gctx, f, log)
			if err != nil {
				results[i] = VisualOutcome{File: f.Filename, Err: err}
				log.Warn("batch.file.failed", "file", f.Filename, "error", err)
				return nil
			}
			results[i] = VisualOutcome{File: f.Filename, Cues: pageCues}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("batch.done",
		"failures", lo.CountBy(results, func(r VisualOutcome) bool { return r.Err != nil }),
	)
	return results, nil
}

// applyTypeQuotas marks, in arrival order, every file that would push its
// type's count over the per-batch cap. Marked files never touch the cache or
// the collaborators.
func (o *Orchestrator) applyTypeQuotas(files []upload.File) []error {
	errs := make([]error, len(files))
	pdfs, images := 0, 0
	for i, f := range files {
		if f.IsPDF() {
			pdfs++
			if pdfs > o.limits.MaxPDFs {
				errs[i] = &common.FileQuotaError{Format: constants.PDF, Limit: o.limits.MaxPDFs}
			}
		} else {
			images++
			if images > o.limits.MaxImages {
				errs[i] = &common.FileQuotaError{Format: constants.IMAGE, Limit: o.limits.MaxImages}
			}
		}
	}
	return errs
}

func (o *Orchestrator) analyzeFile(ctx context.Context, f upload.File, log *slog.Logger) (vision.ClassificationResult, error) {
	key := upload.ContentKey(f)
	res, hit, err := o.textCache.Do(key, func() (vision.ClassificationResult, error) {
		return o.computeAnalysis(ctx, f, key)
	})
	if hit {
		log.Debug("batch.file.cached", "file", f.Filename)
	}
	if err != nil {
		return vision.ClassificationResult{}, err
	}
	return res, nil
}

// computeAnalysis is the cache-miss path: validate, persist, normalize, and
// classify the representative (first) page.
func (o *Orchestrator) computeAnalysis(ctx context.Context, f upload.File, key string) (vision.ClassificationResult, error) {
	var zero vision.ClassificationResult

	if err := o.validator.Validate(f); err != nil {
		return zero, err
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return zero, fmt.Errorf("Processing failed: %w", err)
	}
	defer o.sem.Release(1)

	path, err := o.store.Save(key, f.Content)
	if err != nil {
		return zero, fmt.Errorf("Processing failed: %w", err)
	}
	pages, err := o.normalizer.Normalize(ctx, f, path, 1)
	if err != nil {
		return zero, fmt.Errorf("Processing failed: %w", err)
	}
	res, err := o.classifier.Classify(ctx, pages[0].Data)
	if err != nil {
		return zero, fmt.Errorf("Processing failed: %w", err)
	}
	return res, nil
}

func (o *Orchestrator) visualFile(ctx context.Context, f upload.File, log *slog.Logger) ([]cues.PageVisualCues, error) {
	key := upload.ContentKey(f)
	res, hit, err := o.visualCache.Do(key, func() ([]cues.PageVisualCues, error) {
		return o.computeVisual(ctx, f, key)
	})
	if hit {
		log.Debug("batch.file.cached", "file", f.Filename)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// computeVisual is the cache-miss path: validate, persist, normalize the
// leading pages under the visual-page quota, and detect per page.
func (o *Orchestrator) computeVisual(ctx context.Context, f upload.File, key string) ([]cues.PageVisualCues, error) {
	if err := o.validator.Validate(f); err != nil {
		return nil, err
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("Visual processing failed: %w", err)
	}
	defer o.sem.Release(1)

	path, err := o.store.Save(key, f.Content)
	if err != nil {
		return nil, fmt.Errorf("Visual processing failed: %w", err)
	}
	pages, err := o.normalizer.Normalize(ctx, f, path, o.limits.MaxVisualPages)
	if err != nil {
		return nil, fmt.Errorf("Visual processing failed: %w", err)
	}
	if o.limits.MaxVisualPages > 0 && len(pages) > o.limits.MaxVisualPages {
		pages = pages[:o.limits.MaxVisualPages]
	}

	out := make([]cues.PageVisualCues, 0, len(pages))
	for _, p := range pages {
		logos, err := o.detector.Detect(ctx, p.Data, o.limits.MaxLogosPerPage)
		if err != nil {
			return nil, fmt.Errorf("Visual processing failed: %w", err)
		}
		out = append(out, cues.PageVisualCues{Page: p.Name, Logos: logos})
	}
	return out, nil
}
