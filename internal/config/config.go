package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values
const (
	DefaultMaxBodySize int64 = 2 * 1024 * 1024 // 2MB
	DefaultConfigPath        = "config.yaml"
)

// ReviewConfig holds the knobs of the review pipeline itself.
type ReviewConfig struct {
	MaxDiffChars             int      `yaml:"max_diff_chars"`             // prompt diff truncation threshold (default: 30000)
	MaxComments              int      `yaml:"max_comments"`               // global cap after dedup sort (default: 25)
	MaxCommentsPerFile       int      `yaml:"max_comments_per_file"`      // per-file cap (default: 5)
	SkipDrafts               bool     `yaml:"skip_drafts"`                // abort on draft PRs (default: true)
	LenientOnTests           bool     `yaml:"lenient_on_tests"`           // drop non-error comments on test files (default: true)
	UpdateExistingComments   bool     `yaml:"update_existing_comments"`   // update instead of re-post (default: true)
	PrecisionThreshold       float64  `yaml:"precision_threshold"`        // min confidence to keep a comment (default: 0.7)
	SkipPatterns             []string `yaml:"skip_patterns"`              // globs added to the always-skip set
	StaleCheckpointThreshold int      `yaml:"stale_checkpoint_threshold"` // ignore checkpoints older than N commits (default: 20)
	StaleCheckpointDays      int      `yaml:"stale_checkpoint_days"`      // ignore checkpoints older than N days (default: 30)
	RequestsPerHour          int      `yaml:"requests_per_hour"`          // internal limiter window (default: 5000)
}

// PlatformConfig holds credentials for one hosting platform.
type PlatformConfig struct {
	Token   string `yaml:"-"` // From Env
	BaseURL string `yaml:"base_url"`
}

// WebhookConfig holds configuration for webhook-triggered reviews.
type WebhookConfig struct {
	Workers       int           `yaml:"workers"`        // worker pool size (default: 4)
	QueueSize     int           `yaml:"queue_size"`     // pending job queue (default: 64)
	Debounce      time.Duration `yaml:"debounce"`       // settle time after a push (default: 30s)
	ReviewTimeout time.Duration `yaml:"review_timeout"` // per-review deadline (default: 10m)
}

// StorageConfig holds configuration for review-history persistence.
type StorageConfig struct {
	Driver  string        `yaml:"driver"`  // sqlite
	DSN     string        `yaml:"dsn"`     // Connection string
	Timeout time.Duration `yaml:"timeout"` // Timeout for storage operations (default: 5s)
}

// Config holds the configuration for the review orchestrator service.
type Config struct {
	Log struct {
		Level    string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
		Format   string `yaml:"format"` // text, json
		Output   string `yaml:"output"` // stdout, stderr, /path/to/file
		Rotation struct {
			MaxSize    int  `yaml:"max_size"`    // Megabytes
			MaxBackups int  `yaml:"max_backups"` // Number of old files to keep
			MaxAge     int  `yaml:"max_age"`     // Days to keep
			Compress   bool `yaml:"compress"`
		} `yaml:"rotation"`
	} `yaml:"log"`

	Server struct {
		Port          int           `yaml:"port"`
		ReadTimeout   time.Duration `yaml:"read_timeout"`
		WriteTimeout  time.Duration `yaml:"write_timeout"`
		MaxBodySize   int64         `yaml:"max_body_size"`
		WebhookSecret string        `yaml:"-"` // From Env
	} `yaml:"server"`

	LLM struct {
		Provider       string        `yaml:"provider"` // openai, langchain
		Model          string        `yaml:"model"`
		BaseURL        string        `yaml:"base_url"`
		APIKey         string        `yaml:"api_key"` // From YAML or Env
		Timeout        time.Duration `yaml:"timeout"`
		MaxConcurrency int           `yaml:"max_concurrency"` // concurrent model calls (0 = unlimited)
	} `yaml:"llm"`

	GitHub PlatformConfig `yaml:"github"`
	GitLab PlatformConfig `yaml:"gitlab"`

	Review  ReviewConfig  `yaml:"review"`
	Webhook WebhookConfig `yaml:"webhook"`
	Storage StorageConfig `yaml:"storage"`

	Prompts struct {
		SkillsDir string `yaml:"skills_dir"` // optional review-skill markdown files
	} `yaml:"prompts"`
}

// GetLogLevel returns the slog.Level based on Log.Level string
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from YAML file and supplements with environment variables
func LoadConfig() *Config {
	cfg := &Config{}

	// Set some defaults before loading
	cfg.Log.Level = "INFO"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.MaxBodySize = DefaultMaxBodySize
	cfg.LLM.Provider = ProviderOpenAI
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o"
	cfg.LLM.Timeout = 120 * time.Second
	cfg.LLM.MaxConcurrency = 2

	cfg.Review = ReviewConfig{
		MaxDiffChars:             30_000,
		MaxComments:              25,
		MaxCommentsPerFile:       5,
		SkipDrafts:               true,
		LenientOnTests:           true,
		UpdateExistingComments:   true,
		PrecisionThreshold:       0.7,
		StaleCheckpointThreshold: 20,
		StaleCheckpointDays:      30,
		RequestsPerHour:          5000,
	}

	cfg.Webhook.Workers = 4
	cfg.Webhook.QueueSize = 64
	cfg.Webhook.Debounce = 30 * time.Second
	cfg.Webhook.ReviewTimeout = 10 * time.Minute

	// Log Rotation defaults
	cfg.Log.Rotation.MaxSize = 100
	cfg.Log.Rotation.MaxBackups = 10
	cfg.Log.Rotation.MaxAge = 7
	cfg.Log.Rotation.Compress = true

	// Storage defaults
	cfg.Storage.Timeout = 5 * time.Second

	// Try to load from YAML
	configPath := getEnv("CONFIG_PATH", DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			slog.Error("unmarshal config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config loaded", "path", configPath)
	} else {
		if !os.IsNotExist(err) {
			slog.Error("read config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config not found, using defaults", "path", configPath)
	}

	// Always supplement/override with environment variables for secrets
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", cfg.LLM.APIKey)
	cfg.Server.WebhookSecret = getEnv("WEBHOOK_SECRET", cfg.Server.WebhookSecret)
	cfg.GitHub.Token = getEnv("GITHUB_TOKEN", cfg.GitHub.Token)
	cfg.GitLab.Token = getEnv("GITLAB_TOKEN", cfg.GitLab.Token)

	if envPort := getEnvInt("PORT", 0); envPort != 0 {
		cfg.Server.Port = envPort
	}
	if envLogLevel := os.Getenv("LOG_LEVEL"); envLogLevel != "" {
		cfg.Log.Level = envLogLevel
	}
	if envLogFormat := os.Getenv("LOG_FORMAT"); envLogFormat != "" {
		cfg.Log.Format = envLogFormat
	}
	if envLogOutput := getEnv("LOG_OUTPUT", ""); envLogOutput != "" {
		cfg.Log.Output = envLogOutput
	}

	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	if c.LLM.APIKey == "" {
		errs = append(errs, "LLM_API_KEY is required")
	}
	if c.LLM.Provider != ProviderOpenAI && c.LLM.Provider != ProviderLangChain {
		errs = append(errs, fmt.Sprintf("unknown llm provider: %q", c.LLM.Provider))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}

	// At least one platform must be usable
	if c.GitHub.Token == "" && c.GitLab.Token == "" {
		errs = append(errs, "at least one platform token must be configured (GITHUB_TOKEN or GITLAB_TOKEN)")
	}

	if c.Review.PrecisionThreshold < 0 || c.Review.PrecisionThreshold > 1 {
		errs = append(errs, fmt.Sprintf("precision_threshold must be in [0,1], got %v", c.Review.PrecisionThreshold))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Helper functions for reading environment variables

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
