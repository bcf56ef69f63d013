// Package cues is the visual-cue collaborator: given one page image it
// returns ranked logo/seal regions detected by an object-detection model,
// cropped and re-encoded for the client.
package cues

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"time"

	_ "image/jpeg"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/docvisionhq/docvision/internal/common"
)

// Logo is one detected region: its confidence and the cropped region
// re-encoded as base64 PNG.
type Logo struct {
	Confidence  float64 `json:"confidence"`
	ImageBase64 string  `json:"image_base64"`
}

// PageVisualCues holds the detections for one page.
type PageVisualCues struct {
	Page  string `json:"page"`
	Logos []Logo `json:"logos"`
}

// Config for the detection client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration

	// MaxResize bounds the longest image side sent to the detector. The
	// pre-resize is a cost control owned by this side, not a contract of
	// the collaborator.
	MaxResize int
}

// Client calls the object-detection endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.MaxResize <= 0 {
		cfg.MaxResize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type detection struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
	Box   struct {
		Xmin int `json:"xmin"`
		Ymin int `json:"ymin"`
		Xmax int `json:"xmax"`
		Ymax int `json:"ymax"`
	} `json:"box"`
}

// Detect runs object detection over one page image and returns at most
// maxResults logos, confidence descending.
func (c *Client) Detect(ctx context.Context, imageData []byte, maxResults int) ([]Logo, error) {
	rid := uuid.New().String()
	start := time.Now()

	src, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("%w: decode page image: %v", common.ErrCollaborator, err)
	}
	resized := thumbnail(src, c.cfg.MaxResize)

	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		return nil, fmt.Errorf("%w: encode page image: %v", common.ErrCollaborator, err)
	}

	c.logger.Info("detect.start",
		"req_id", rid,
		"bytes_in", len(imageData),
		"bytes_sent", buf.Len(),
		"max_results", maxResults,
	)

	dets, err := c.post(ctx, buf.Bytes())
	if err != nil {
		c.logger.Error("detect.http_error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	// The collaborator ranks by confidence; sort defensively so truncation
	// always keeps the top scores.
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Score > dets[j].Score })
	if maxResults > 0 && len(dets) > maxResults {
		dets = dets[:maxResults]
	}

	logos := make([]Logo, 0, len(dets))
	for _, d := range dets {
		cropped, err := cropRegion(resized, d.Box.Xmin, d.Box.Ymin, d.Box.Xmax, d.Box.Ymax)
		if err != nil {
			c.logger.Warn("detect.crop_failed", "req_id", rid, "error", err)
			continue
		}
		logos = append(logos, Logo{
			Confidence:  math.Round(d.Score*1000) / 1000,
			ImageBase64: cropped,
		})
	}

	c.logger.Info("detect.ok", "req_id", rid, "logos", len(logos), "elapsed_ms", time.Since(start).Milliseconds())
	return logos, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]detection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", common.ErrCollaborator, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCollaborator, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("detect.response_body_close_error", "error", err)
		}
	}()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: status %d: %s", common.ErrCollaborator, resp.StatusCode, truncate(string(raw), 512))
	}

	var dets []detection
	if err := json.Unmarshal(raw, &dets); err != nil {
		return nil, fmt.Errorf("%w: decode detections: %v", common.ErrCollaborator, err)
	}
	return dets, nil
}

// thumbnail scales src down so neither side exceeds maxSide, preserving
// aspect ratio. Images already within bounds are converted, not scaled.
func thumbnail(src image.Image, maxSide int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := 1.0
	if w > maxSide || h > maxSide {
		scale = math.Min(float64(maxSide)/float64(w), float64(maxSide)/float64(h))
	}
	dw := int(math.Max(1, math.Floor(float64(w)*scale)))
	dh := int(math.Max(1, math.Floor(float64(h)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// cropRegion cuts the detection box out of the page and returns it as
// base64 PNG. Boxes are clamped to the image bounds.
func cropRegion(img *image.RGBA, xmin, ymin, xmax, ymax int) (string, error) {
	b := img.Bounds()
	xmin = clamp(xmin, b.Min.X, b.Max.X)
	xmax = clamp(xmax, b.Min.X, b.Max.X)
	ymin = clamp(ymin, b.Min.Y, b.Max.Y)
	ymax = clamp(ymax, b.Min.Y, b.Max.Y)
	if xmax <= xmin || ymax <= ymin {
		return "", fmt.Errorf("empty region after clamping (%d,%d)-(%d,%d)", xmin, ymin, xmax, ymax)
	}

	sub := img.SubImage(image.Rect(xmin, ymin, xmax, ymax))
	var buf bytes.Buffer
	if err := png.Encode(&buf, sub); err != nil {
		return "", fmt.Errorf("encode crop: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
