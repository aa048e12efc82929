// Package config loads dockhand configuration from YAML with environment
// overrides. A zero config file is valid; DefaultConfig supplies every knob.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all dockhand configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Intake     IntakeConfig     `yaml:"intake"`
	OCR        OCRConfig        `yaml:"ocr"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	Environment     string `yaml:"environment"` // development | production
}

// StorageConfig configures persistence and staging.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	BlobRoot     string `yaml:"blob_root"`
	TempRoot     string `yaml:"temp_root"`
	SweepMaxAge  string `yaml:"sweep_max_age"` // temp files older than this are reclaimed
}

// IntakeConfig configures the intake gate.
type IntakeConfig struct {
	MaxFileSizeMB       int64   `yaml:"max_file_size_mb"`
	MinImageWidth       int     `yaml:"min_image_width"`
	MinImageHeight      int     `yaml:"min_image_height"`
	DQSThreshold        float64 `yaml:"dqs_threshold"`
	DQSBlurWeight       float64 `yaml:"dqs_blur_weight"`
	DQSGlareWeight      float64 `yaml:"dqs_glare_weight"`
	DQSContrastWeight   float64 `yaml:"dqs_contrast_weight"`
	GlarePixelThreshold int     `yaml:"glare_pixel_threshold"` // 0-255
	MaxUploadsPerHour   int     `yaml:"max_uploads_per_hour"`
	RateLimitWindowSecs int     `yaml:"upload_rate_limit_window_seconds"`
}

// OCRConfig configures engine selection and preprocessing.
type OCRConfig struct {
	EnginePriority  []string        `yaml:"ocr_engine_priority"`
	EnginesEnabled  map[string]bool `yaml:"ocr_engines_enabled"`
	CloudEndpoint   string          `yaml:"cloud_endpoint"`
	CloudAPIKey     string          `yaml:"cloud_api_key"`
	FallbackBelow   float64         `yaml:"fallback_below"` // confidence threshold for cloud fallback
	MaxDimensionPx  int             `yaml:"max_dimension_px"`
	EngineTimeout   string          `yaml:"engine_timeout"`
	TesseractBinary string          `yaml:"tesseract_binary"`
}

// ModelPricing is dollars per single token, input and output.
// These values are the source of truth for budget math.
type ModelPricing struct {
	InputPerToken  float64 `yaml:"input_per_token"`
	OutputPerToken float64 `yaml:"output_per_token"`
}

// ExtractionConfig configures parsing and LLM escalation.
type ExtractionConfig struct {
	Provider             string                  `yaml:"provider"` // gemini
	APIKey               string                  `yaml:"api_key"`
	MiniModel            string                  `yaml:"mini_model"`
	LargeModel           string                  `yaml:"large_model"`
	MaxLLMCallsPerSess   int                     `yaml:"max_llm_calls_per_session"`
	MaxCostPerSession    float64                 `yaml:"max_cost_per_session"`
	CoverageThreshold    float64                 `yaml:"llm_coverage_threshold"`
	TableConfThreshold   float64                 `yaml:"table_confidence_threshold"`
	EscalateBelow        float64                 `yaml:"escalate_below"` // LLM confidence that triggers escalation
	CallTimeout          string                  `yaml:"call_timeout"`
	Pricing              map[string]ModelPricing `yaml:"pricing"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`  // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "dockhand",
		Version: "0.4.0",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     "30s",
			WriteTimeout:    "120s",
			ShutdownTimeout: "15s",
			Environment:     "production",
		},
		Storage: StorageConfig{
			DatabasePath: ".dockhand/dockhand.db",
			BlobRoot:     ".dockhand/blobs",
			TempRoot:     "temp_uploads",
			SweepMaxAge:  "24h",
		},
		Intake: IntakeConfig{
			MaxFileSizeMB:       15,
			MinImageWidth:       800,
			MinImageHeight:      600,
			DQSThreshold:        70.0,
			DQSBlurWeight:       0.4,
			DQSGlareWeight:      0.3,
			DQSContrastWeight:   0.3,
			GlarePixelThreshold: 250,
			MaxUploadsPerHour:   50,
			RateLimitWindowSecs: 3600,
		},
		OCR: OCRConfig{
			EnginePriority: []string{"tesseract-accurate", "tesseract-fast", "cloud"},
			EnginesEnabled: map[string]bool{
				"tesseract-fast":     true,
				"tesseract-accurate": true,
				"cloud":              false,
			},
			FallbackBelow:   0.6,
			MaxDimensionPx:  3000,
			EngineTimeout:   "60s",
			TesseractBinary: "tesseract",
		},
		Extraction: ExtractionConfig{
			Provider:           "gemini",
			MiniModel:          "gemini-2.5-flash",
			LargeModel:         "gemini-2.5-pro",
			MaxLLMCallsPerSess: 3,
			MaxCostPerSession:  0.50,
			CoverageThreshold:  0.8,
			TableConfThreshold: 0.7,
			EscalateBelow:      0.6,
			CallTimeout:        "45s",
			Pricing: map[string]ModelPricing{
				// List prices are quoted per 1M tokens; stored here per token.
				"gemini-2.5-flash": {InputPerToken: 0.30 / 1e6, OutputPerToken: 2.50 / 1e6},
				"gemini-2.5-pro":   {InputPerToken: 1.25 / 1e6, OutputPerToken: 10.00 / 1e6},
			},
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads the config file at path, layering it over defaults, then applies
// DOCKHAND_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps DOCKHAND_* variables onto the config. Only the knobs
// operators actually rotate at deploy time are recognized.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOCKHAND_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DOCKHAND_ENV"); v != "" {
		cfg.Server.Environment = v
	}
	if v := os.Getenv("DOCKHAND_DB_PATH"); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv("DOCKHAND_BLOB_ROOT"); v != "" {
		cfg.Storage.BlobRoot = v
	}
	if v := os.Getenv("DOCKHAND_LLM_API_KEY"); v != "" {
		cfg.Extraction.APIKey = v
	}
	if v := os.Getenv("DOCKHAND_OCR_CLOUD_KEY"); v != "" {
		cfg.OCR.CloudAPIKey = v
	}
	if v := os.Getenv("DOCKHAND_MAX_COST_PER_SESSION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Extraction.MaxCostPerSession = f
		}
	}
	if v := os.Getenv("DOCKHAND_DEBUG"); v != "" {
		cfg.Logging.DebugMode = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Intake.MaxFileSizeMB <= 0 {
		return fmt.Errorf("intake.max_file_size_mb must be positive")
	}
	w := c.Intake.DQSBlurWeight + c.Intake.DQSGlareWeight + c.Intake.DQSContrastWeight
	if w < 0.99 || w > 1.01 {
		return fmt.Errorf("DQS weights must sum to 1.0, got %.2f", w)
	}
	if c.Extraction.MaxLLMCallsPerSess < 0 {
		return fmt.Errorf("extraction.max_llm_calls_per_session must be >= 0")
	}
	if c.Extraction.MaxCostPerSession < 0 {
		return fmt.Errorf("extraction.max_cost_per_session must be >= 0")
	}
	for _, d := range []string{
		c.Server.ReadTimeout, c.Server.WriteTimeout, c.Server.ShutdownTimeout,
		c.Storage.SweepMaxAge, c.OCR.EngineTimeout, c.Extraction.CallTimeout,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration %q: %w", d, err)
		}
	}
	return nil
}

// Duration parses a duration field that Validate already checked.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// MaxFileSizeBytes is the intake size ceiling in bytes.
func (c *IntakeConfig) MaxFileSizeBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// RateLimitWindow is the sliding window as a duration.
func (c *IntakeConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSecs) * time.Second
}
