package upload

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"

	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"

	"github.com/docvisionhq/docvision/constants"
	"github.com/docvisionhq/docvision/internal/common"
)

// InvalidError carries the user-visible reason a file failed validation.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return e.Reason
}

func (e *InvalidError) Unwrap() error {
	return common.ErrValidation
}

// Limits are the validation bounds applied to every file.
type Limits struct {
	MaxImageMB int
	MaxPDFMB   int
	MinWidth   int
	MinHeight  int
	MaxWidth   int
	MaxHeight  int
}

// Validator runs the stateless per-file checks: extension, size, and image
// dimensions. Pure over the input bytes; PDFs are never opened here, so
// content-level PDF corruption surfaces later as a processing failure.
type Validator struct {
	limits Limits
	logger *slog.Logger
}

func NewValidator(limits Limits, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{limits: limits, logger: logger}
}

// Validate returns nil for a valid file and an *InvalidError otherwise.
// Checks short-circuit on the first failure.
func (v *Validator) Validate(f File) error {
	if !constants.AllowedExt(f.Ext()) {
		return &InvalidError{Reason: constants.MsgUnsupportedFormat}
	}

	sizeMB := float64(len(f.Content)) / (1 << 20)
	if f.IsPDF() {
		if sizeMB > float64(v.limits.MaxPDFMB) {
			return &InvalidError{Reason: fmt.Sprintf(constants.MsgPDFTooLargeFmt, v.limits.MaxPDFMB)}
		}
		return nil
	}
	if sizeMB > float64(v.limits.MaxImageMB) {
		return &InvalidError{Reason: fmt.Sprintf(constants.MsgImageTooLargeFmt, v.limits.MaxImageMB)}
	}

	if mt := mimetype.Detect(f.Content); f.ContentType != "" && !mt.Is(f.ContentType) {
		v.logger.Debug("upload.media_type_mismatch",
			"file", f.Filename,
			"declared", f.ContentType,
			"detected", mt.String(),
		)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(f.Content))
	if err != nil {
		return &InvalidError{Reason: constants.MsgInvalidImage}
	}
	if cfg.Width < v.limits.MinWidth || cfg.Height < v.limits.MinHeight {
		return &InvalidError{Reason: fmt.Sprintf(constants.MsgImageTooSmallDimsFmt, cfg.Width, cfg.Height)}
	}
	if cfg.Width > v.limits.MaxWidth || cfg.Height > v.limits.MaxHeight {
		return &InvalidError{Reason: fmt.Sprintf(constants.MsgImageTooLargeDimsFmt, cfg.Width, cfg.Height)}
	}
	return nil
}
