// Package vision is the classification collaborator: given one page image it
// returns OCR text plus a structured classification from a vision-capable
// model, consumed through a narrow chat/completions interface.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docvisionhq/docvision/internal/common"
)

// TextExtractor supplies the OCR transcript for a page image.
type TextExtractor interface {
	ExtractText(ctx context.Context, imageData []byte) (string, error)
}

// Config for the classification client.
type Config struct {
	BaseURL     string  // default https://openrouter.ai/api/v1
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
}

// Client calls the vision model. Malformed model output is a recoverable
// condition yielding a safe-default result, never a hard failure; only
// transport-level errors fail the call.
type Client struct {
	cfg    Config
	http   *http.Client
	ocr    TextExtractor
	logger *slog.Logger
}

func NewClient(cfg Config, ocr TextExtractor, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		ocr:    ocr,
		logger: logger,
	}
}

// Classify runs OCR on the page, sends transcript plus image to the model,
// and returns a structurally complete ClassificationResult.
func (c *Client) Classify(ctx context.Context, imageData []byte) (ClassificationResult, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Info("classify.start", "req_id", rid, "model", c.cfg.Model, "image_bytes", len(imageData))

	ocrText, err := c.ocr.ExtractText(ctx, imageData)
	if err != nil {
		c.logger.Error("classify.ocr_failed", "req_id", rid, "error", err)
		return ClassificationResult{}, fmt.Errorf("%w: ocr: %v", common.ErrCollaborator, err)
	}

	imageB64 := base64.StdEncoding.EncodeToString(imageData)
	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{
						"type": "text",
						"text": classificationPrompt + "\n\nOCR TEXT:\n" + ocrText,
					},
					{
						"type": "image_url",
						"image_url": map[string]any{
							"url": "data:image/png;base64," + imageB64,
						},
					},
				},
			},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, _, err := sendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		c.logger.Error("classify.http_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return ClassificationResult{}, fmt.Errorf("%w: %v", common.ErrCollaborator, err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("classify.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return ClassificationResult{}, fmt.Errorf("%w: decode response: %v", common.ErrCollaborator, err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("classify.no_choices", "req_id", rid)
		return ClassificationResult{}, fmt.Errorf("%w: no choices in response", common.ErrCollaborator)
	}

	res := ParseClassification(strings.TrimSpace(cc.Choices[0].Message.Content), c.logger.With("req_id", rid))

	c.logger.Info("classify.ok",
		"req_id", rid,
		"document_type", res.DocumentType,
		"fields", len(res.Fields),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

var reJSONObject = regexp.MustCompile(`\{[\s\S]*\}`)

// ParseClassification turns raw model output into a complete result.
// Strategy: strict JSON, then the outermost braces (models wrap answers in
// prose or fences), then schema validation. Anything unparseable degrades to
// the safe default rather than failing the file.
func ParseClassification(content string, logger *slog.Logger) ClassificationResult {
	if logger == nil {
		logger = slog.Default()
	}

	data := []byte(content)
	if !json.Valid(data) {
		m := reJSONObject.FindString(content)
		if m == "" {
			logger.Warn("classify.unparseable_output", "content_len", len(content))
			return DefaultResult("Model output could not be parsed as JSON")
		}
		data = []byte(m)
	}

	if err := ValidateJSONAgainstSchema(BuildClassificationJSONSchema(), data); err != nil {
		logger.Warn("classify.schema_validation_failed", "error", err)
		return DefaultResult("Model output could not be parsed as JSON")
	}

	var res ClassificationResult
	if err := json.Unmarshal(data, &res); err != nil {
		logger.Warn("classify.unmarshal_failed", "error", err)
		return DefaultResult("Model output could not be parsed as JSON")
	}

	// Per-key safe defaults keep the result structurally complete.
	if res.DocumentType == "" {
		res.DocumentType = "unknown"
	}
	if res.Fields == nil {
		res.Fields = Fields{}
	}
	return res
}
