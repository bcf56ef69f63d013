package common

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Limits    LimitsConfig
	PDF       PDFConfig
	OCR       OCRConfig
	Vision    VisionConfig
	Detection DetectionConfig

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	UploadDir       string        `envconfig:"UPLOAD_DIR" default:"uploads"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LimitsConfig holds batch quotas and validation bounds. The same numbers are
// enforced client-side, so user-visible errors line up with server behavior.
type LimitsConfig struct {
	MaxTotalFiles int `envconfig:"MAX_TOTAL_FILES" default:"5"`
	MaxPDFs       int `envconfig:"MAX_PDFS" default:"3"`
	MaxImages     int `envconfig:"MAX_IMAGES" default:"5"`

	MaxImageMB int `envconfig:"MAX_IMAGE_MB" default:"5"`
	MaxPDFMB   int `envconfig:"MAX_PDF_MB" default:"10"`

	MinWidth  int `envconfig:"MIN_WIDTH" default:"300"`
	MinHeight int `envconfig:"MIN_HEIGHT" default:"300"`
	MaxWidth  int `envconfig:"MAX_WIDTH" default:"6000"`
	MaxHeight int `envconfig:"MAX_HEIGHT" default:"6000"`

	MaxVisualPages  int `envconfig:"MAX_VISUAL_PAGES" default:"1"`
	MaxLogosPerPage int `envconfig:"MAX_LOGOS_PER_PAGE" default:"4"`

	// Concurrency bounds simultaneous collaborator invocations per batch.
	Concurrency int `envconfig:"MAX_CONCURRENT_CALLS" default:"5"`

	// CacheMaxEntries bounds each result cache; 0 keeps it unbounded for the
	// process lifetime.
	CacheMaxEntries int `envconfig:"CACHE_MAX_ENTRIES" default:"0"`
}

// PDFConfig holds PDF rasterization configuration.
type PDFConfig struct {
	DPI      int    `envconfig:"PDF_IMAGE_DPI" default:"302"`
	Pdftoppm string `envconfig:"PDFTOPPM_BIN" default:"pdftoppm"`
}

// OCRConfig holds OCR-related configuration.
type OCRConfig struct {
	Tesseract   string `envconfig:"TESSERACT_BIN" default:"tesseract"`
	Language    string `envconfig:"TESSERACT_LANG" default:"eng"`
	TessdataDir string `envconfig:"TESSDATA_PREFIX" default:""`
}

// VisionConfig holds the classification collaborator configuration.
type VisionConfig struct {
	BaseURL     string        `envconfig:"VISION_BASE_URL" default:"https://openrouter.ai/api/v1"`
	APIKey      string        `envconfig:"OPENAI_API_KEY"`
	Model       string        `envconfig:"VISION_MODEL" default:"nvidia/nemotron-nano-12b-v2-vl:free"`
	Temperature float32       `envconfig:"VISION_TEMPERATURE" default:"0.1"`
	Timeout     time.Duration `envconfig:"VISION_TIMEOUT" default:"45s"`
}

// DetectionConfig holds the visual-cue collaborator configuration.
type DetectionConfig struct {
	URL       string        `envconfig:"DETECTION_URL" default:"https://api-inference.huggingface.co/models/ellabettison/Logo-Detection-finetune"`
	APIKey    string        `envconfig:"HF_API_TOKEN"`
	Timeout   time.Duration `envconfig:"DETECTION_TIMEOUT" default:"45s"`
	MaxResize int           `envconfig:"MAX_IMAGE_RESIZE" default:"1024"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Vision.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Limits.MaxTotalFiles <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_TOTAL_FILES must be positive", ErrInvalidInput)
	}
	if c.Limits.Concurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "MAX_CONCURRENT_CALLS must be positive", ErrInvalidInput)
	}
	if c.PDF.DPI <= 0 {
		return NewAppError("CONFIG_ERROR", "PDF_IMAGE_DPI must be positive", ErrInvalidInput)
	}
	return nil
}
