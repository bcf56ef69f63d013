package orchestrator_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docvisionhq/docvision/internal/common"
	"github.com/docvisionhq/docvision/internal/cues"
	"github.com/docvisionhq/docvision/internal/normalize"
	"github.com/docvisionhq/docvision/internal/orchestrator"
	"github.com/docvisionhq/docvision/internal/upload"
	"github.com/docvisionhq/docvision/internal/vision"
)

type fakeValidator struct {
	rejects map[string]string // filename -> reason
	calls   int32
}

func (v *fakeValidator) Validate(f upload.File) error {
	atomic.AddInt32(&v.calls, 1)
	if reason, ok := v.rejects[f.Filename]; ok {
		return &upload.InvalidError{Reason: reason}
	}
	return nil
}

type fakeSaver struct {
	calls int32
}

func (s *fakeSaver) Save(key string, _ []byte) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return "/tmp/" + key, nil
}

type fakeNormalizer struct {
	pages       int // pages produced per file; 0 means one passthrough page
	fail        map[string]bool
	calls       int32
	gotMaxPages int32
}

func (n *fakeNormalizer) Normalize(_ context.Context, f upload.File, _ string, maxPages int) ([]normalize.PageImage, error) {
	atomic.AddInt32(&n.calls, 1)
	atomic.StoreInt32(&n.gotMaxPages, int32(maxPages))
	if n.fail[f.Filename] {
		return nil, fmt.Errorf("%w: not a well-formed PDF", common.ErrNormalization)
	}
	count := n.pages
	if count == 0 {
		count = 1
	}
	pages := make([]normalize.PageImage, count)
	for i := range pages {
		pages[i] = normalize.PageImage{Index: i, Name: fmt.Sprintf("page-%d.png", i+1), Data: f.Content}
	}
	return pages, nil
}

type fakeClassifier struct {
	fail  map[string]bool // keyed by page content
	calls int32
}

func (c *fakeClassifier) Classify(_ context.Context, imageData []byte) (vision.ClassificationResult, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.fail[string(imageData)] {
		return vision.ClassificationResult{}, fmt.Errorf("%w: status 502", common.ErrCollaborator)
	}
	return vision.ClassificationResult{
		DocumentType: "invoice",
		Reasoning:    "classified " + string(imageData),
		Fields:       vision.Fields{{Name: "source", Value: string(imageData)}},
	}, nil
}

type fakeDetector struct {
	fail  bool
	calls int32
}

func (d *fakeDetector) Detect(_ context.Context, _ []byte, maxResults int) ([]cues.Logo, error) {
	atomic.AddInt32(&d.calls, 1)
	if d.fail {
		return nil, fmt.Errorf("%w: status 503", common.ErrCollaborator)
	}
	logos := make([]cues.Logo, maxResults)
	for i := range logos {
		logos[i] = cues.Logo{Confidence: 0.9 - float64(i)/10, ImageBase64: "aGk="}
	}
	return logos, nil
}

type deps struct {
	validator  *fakeValidator
	saver      *fakeSaver
	normalizer *fakeNormalizer
	classifier *fakeClassifier
	detector   *fakeDetector
}

func newOrchestrator(limits common.LimitsConfig) (*orchestrator.Orchestrator, *deps) {
	d := &deps{
		validator:  &fakeValidator{},
		saver:      &fakeSaver{},
		normalizer: &fakeNormalizer{},
		classifier: &fakeClassifier{},
		detector:   &fakeDetector{},
	}
	o := orchestrator.New(limits, d.validator, d.saver, d.normalizer, d.classifier, d.detector, nil)
	return o, d
}

func defaultLimits() common.LimitsConfig {
	return common.LimitsConfig{
		MaxTotalFiles:   5,
		MaxPDFs:         3,
		MaxImages:       5,
		MaxVisualPages:  1,
		MaxLogosPerPage: 4,
		Concurrency:     5,
	}
}

func files(names ...string) []upload.File {
	out := make([]upload.File, len(names))
	for i, n := range names {
		out[i] = upload.File{Filename: n, Content: []byte("content of " + n)}
	}
	return out
}

func TestAnalyzeBatchRejectsOversizedBatch(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())

	batch := files("a.png", "b.png", "c.png", "d.png", "e.png", "f.png")
	res, err := o.AnalyzeBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, common.ErrBatchQuotaExceeded)
	assert.Equal(t, "Maximum 5 files allowed", err.Error())

	// a rejected batch never touches validation or the collaborators
	assert.Zero(t, atomic.LoadInt32(&d.validator.calls))
	assert.Zero(t, atomic.LoadInt32(&d.classifier.calls))
}

func TestAnalyzeBatchSuccess(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())

	batch := files("one.png", "two.jpg")
	res, err := o.AnalyzeBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, res, 2)

	for i, r := range res {
		assert.Equal(t, batch[i].Filename, r.File)
		require.NoError(t, r.Err)
		require.NotNil(t, r.Result)
		assert.Equal(t, "invoice", r.Result.DocumentType)
		assert.Equal(t, "classified content of "+batch[i].Filename, r.Result.Reasoning)
	}

	// classification only ever needs the representative first page
	assert.Equal(t, int32(1), atomic.LoadInt32(&d.normalizer.gotMaxPages))
}

func TestAnalyzeBatchAppliesPDFQuotaInArrivalOrder(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())

	batch := files("a.pdf", "b.pdf", "c.pdf", "d.pdf")
	res, err := o.AnalyzeBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, res, 4)

	for _, r := range res[:3] {
		assert.NoError(t, r.Err, r.File)
	}
	require.Error(t, res[3].Err)
	assert.ErrorIs(t, res[3].Err, common.ErrFileQuotaExceeded)
	assert.Equal(t, "Maximum 3 PDFs allowed", res[3].Err.Error())

	// the excess file never reaches the pipeline
	assert.Equal(t, int32(3), atomic.LoadInt32(&d.classifier.calls))
}

func TestAnalyzeBatchAppliesImageQuota(t *testing.T) {
	limits := defaultLimits()
	limits.MaxImages = 2
	o, _ := newOrchestrator(limits)

	batch := files("a.png", "b.jpg", "c.jpeg")
	res, err := o.AnalyzeBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Error(t, res[2].Err)
	assert.Equal(t, "Maximum 2 images allowed", res[2].Err.Error())
}

func TestAnalyzeBatchIsolatesFailures(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())
	d.validator.rejects = map[string]string{"bad.png": "Invalid image file"}

	batch := files("ok1.png", "bad.png", "ok2.png")
	res, err := o.AnalyzeBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, res, 3)

	assert.NoError(t, res[0].Err)
	assert.NoError(t, res[2].Err)
	require.Error(t, res[1].Err)
	// validation reasons surface verbatim, without a processing prefix
	assert.Equal(t, "Invalid image file", res[1].Err.Error())
	assert.ErrorIs(t, res[1].Err, common.ErrValidation)
}

func TestAnalyzeBatchWrapsPipelineFailures(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())
	d.classifier.fail = map[string]bool{"content of doomed.png": true}

	res, err := o.AnalyzeBatch(context.Background(), files("doomed.png"))
	require.NoError(t, err)
	require.Error(t, res[0].Err)
	assert.Contains(t, res[0].Err.Error(), "Processing failed: ")
	assert.ErrorIs(t, res[0].Err, common.ErrCollaborator)
}

func TestAnalyzeBatchWrapsNormalizationFailures(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())
	d.normalizer.fail = map[string]bool{"broken.pdf": true}

	res, err := o.AnalyzeBatch(context.Background(), files("broken.pdf"))
	require.NoError(t, err)
	require.Error(t, res[0].Err)
	assert.Contains(t, res[0].Err.Error(), "Processing failed: ")
	assert.ErrorIs(t, res[0].Err, common.ErrNormalization)
}

func TestAnalyzeBatchReusesCachedResults(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())

	batch := files("same.png")
	first, err := o.AnalyzeBatch(context.Background(), batch)
	require.NoError(t, err)
	second, err := o.AnalyzeBatch(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&d.classifier.calls))
	assert.Equal(t, first[0].Result, second[0].Result)
}

func TestAnalyzeBatchCollapsesDuplicatesWithinBatch(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())

	res, err := o.AnalyzeBatch(context.Background(), files("dup.png", "dup.png"))
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.NoError(t, res[0].Err)
	assert.NoError(t, res[1].Err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&d.classifier.calls))
}

func TestAnalyzeBatchFailuresAreRetriedNextBatch(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())
	d.classifier.fail = map[string]bool{"content of flaky.png": true}

	res, err := o.AnalyzeBatch(context.Background(), files("flaky.png"))
	require.NoError(t, err)
	require.Error(t, res[0].Err)

	// failures are never cached; the same file succeeds once the
	// collaborator recovers
	d.classifier.fail = nil
	res, err = o.AnalyzeBatch(context.Background(), files("flaky.png"))
	require.NoError(t, err)
	assert.NoError(t, res[0].Err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&d.classifier.calls))
}

func TestExtractVisualCuesBatchSuccess(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())

	res, err := o.ExtractVisualCuesBatch(context.Background(), files("page.png"))
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.NoError(t, res[0].Err)
	require.Len(t, res[0].Cues, 1)
	assert.Equal(t, "page-1.png", res[0].Cues[0].Page)
	assert.Len(t, res[0].Cues[0].Logos, 4)
	assert.Equal(t, int32(1), atomic.LoadInt32(&d.detector.calls))
}

func TestExtractVisualCuesBatchRejectsOversizedBatch(t *testing.T) {
	o, _ := newOrchestrator(defaultLimits())
	batch := files("a.png", "b.png", "c.png", "d.png", "e.png", "f.png")
	res, err := o.ExtractVisualCuesBatch(context.Background(), batch)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, "Maximum 5 files allowed", err.Error())
}

func TestExtractVisualCuesBatchBoundsPages(t *testing.T) {
	limits := defaultLimits()
	limits.MaxVisualPages = 2
	o, d := newOrchestrator(limits)
	d.normalizer.pages = 3

	res, err := o.ExtractVisualCuesBatch(context.Background(), files("multi.pdf"))
	require.NoError(t, err)
	require.NoError(t, res[0].Err)
	require.Len(t, res[0].Cues, 2)
	assert.Equal(t, "page-1.png", res[0].Cues[0].Page)
	assert.Equal(t, "page-2.png", res[0].Cues[1].Page)
	assert.Equal(t, int32(2), atomic.LoadInt32(&d.detector.calls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&d.normalizer.gotMaxPages))
}

func TestExtractVisualCuesBatchWrapsFailures(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())
	d.detector.fail = true

	res, err := o.ExtractVisualCuesBatch(context.Background(), files("page.png"))
	require.NoError(t, err)
	require.Error(t, res[0].Err)
	assert.Contains(t, res[0].Err.Error(), "Visual processing failed: ")
}

func TestCachesAreIndependentPerOperation(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())
	batch := files("doc.png")

	_, err := o.AnalyzeBatch(context.Background(), batch)
	require.NoError(t, err)
	_, err = o.ExtractVisualCuesBatch(context.Background(), batch)
	require.NoError(t, err)

	// a classification hit never short-circuits visual-cue extraction
	assert.Equal(t, int32(1), atomic.LoadInt32(&d.classifier.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&d.detector.calls))
}

func TestQuotaFailuresNeverTouchThePipeline(t *testing.T) {
	limits := defaultLimits()
	limits.MaxImages = 1
	o, d := newOrchestrator(limits)

	res, err := o.AnalyzeBatch(context.Background(), files("a.png", "b.png"))
	require.NoError(t, err)
	require.Error(t, res[1].Err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&d.validator.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&d.saver.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&d.normalizer.calls))
}

func TestValidationFailuresNeverReachCollaborators(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())
	d.validator.rejects = map[string]string{"bad.png": "Unsupported file format"}

	res, err := o.AnalyzeBatch(context.Background(), files("bad.png"))
	require.NoError(t, err)
	require.Error(t, res[0].Err)

	assert.Zero(t, atomic.LoadInt32(&d.saver.calls))
	assert.Zero(t, atomic.LoadInt32(&d.normalizer.calls))
	assert.Zero(t, atomic.LoadInt32(&d.classifier.calls))
}

func TestValidationErrorsAreNotCachedAsResults(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())
	d.validator.rejects = map[string]string{"bad.png": "Invalid image file"}

	res, err := o.AnalyzeBatch(context.Background(), files("bad.png"))
	require.NoError(t, err)
	require.Error(t, res[0].Err)

	// once the file is fixed upstream the same name with new bytes is a
	// fresh identity and succeeds
	d.validator.rejects = nil
	fixed := []upload.File{{Filename: "bad.png", Content: []byte("repaired bytes")}}
	res, err = o.AnalyzeBatch(context.Background(), fixed)
	require.NoError(t, err)
	assert.NoError(t, res[0].Err)
}

func TestConcurrencyConfigIsValidatedByConstructor(t *testing.T) {
	limits := defaultLimits()
	limits.Concurrency = 0
	o, _ := newOrchestrator(limits)
	require.NotNil(t, o)

	res, err := o.AnalyzeBatch(context.Background(), files("a.png"))
	require.NoError(t, err)
	assert.NoError(t, res[0].Err)
}

func TestBatchOutcomesPreserveInputOrder(t *testing.T) {
	o, d := newOrchestrator(defaultLimits())
	d.validator.rejects = map[string]string{"b.png": "Invalid image file"}

	names := []string{"a.png", "b.png", "c.png", "d.png"}
	res, err := o.AnalyzeBatch(context.Background(), files(names...))
	require.NoError(t, err)
	require.Len(t, res, len(names))
	for i, r := range res {
		assert.Equal(t, names[i], r.File)
	}
	assert.Error(t, res[1].Err)

	var hasResult, hasErr int
	for _, r := range res {
		if r.Err != nil {
			hasErr++
			assert.Nil(t, r.Result)
		} else {
			hasResult++
			assert.NotNil(t, r.Result)
		}
	}
	assert.Equal(t, 3, hasResult)
	assert.Equal(t, 1, hasErr)
}
