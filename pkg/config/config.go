package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the share crawler
type Config struct {
	// Browser session settings
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// Folder traversal settings
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// BrowserConfig holds browser automation configuration
type BrowserConfig struct {
	// ControlURL is the DevTools WebSocket URL of an external Chrome
	// instance. Empty means launch a local browser.
	ControlURL      string        `yaml:"control_url" json:"control_url"`
	Headless        bool          `yaml:"headless" json:"headless"`
	ConsentSelector string        `yaml:"consent_selector" json:"consent_selector"`
	SettleDelay     time.Duration `yaml:"settle_delay" json:"settle_delay"`
}

// CrawlConfig holds folder traversal configuration
type CrawlConfig struct {
	ListSelector      string        `yaml:"list_selector" json:"list_selector"`
	SelectorTimeout   time.Duration `yaml:"selector_timeout" json:"selector_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`

	// ForceFiles and ForceFolders override the dot-heuristic
	// classification for the listed display names.
	ForceFiles   []string `yaml:"force_files" json:"force_files"`
	ForceFolders []string `yaml:"force_folders" json:"force_folders"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	MaxFileSize     int64         `yaml:"max_file_size" json:"max_file_size"`
	DownloadTimeout time.Duration `yaml:"download_timeout" json:"download_timeout"`
	PollInterval    time.Duration `yaml:"poll_interval" json:"poll_interval"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`
	ButtonSelector  string        `yaml:"button_selector" json:"button_selector"`
	VideoSelector   string        `yaml:"video_selector" json:"video_selector"`
	UserAgent       string        `yaml:"user_agent" json:"user_agent"`
	AcceptHeader    string        `yaml:"accept_header" json:"accept_header"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory     string `yaml:"base_directory" json:"base_directory"`
	OverwriteExisting bool   `yaml:"overwrite_existing" json:"overwrite_existing"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:        true,
			ConsentSelector: ".accept-cookies, button[aria-label='Accept']",
			SettleDelay:     2 * time.Second,
		},
		Crawl: CrawlConfig{
			ListSelector:      "[class*='FileList'] [class*='item']",
			SelectorTimeout:   10 * time.Second,
			RequestsPerMinute: 60,
		},
		Download: DownloadConfig{
			MaxFileSize:     100 << 20, // 100MB
			DownloadTimeout: 60 * time.Second,
			PollInterval:    500 * time.Millisecond,
			MaxRetries:      3,
			ButtonSelector:  "a[download], [class*='download'] a, button[class*='download']",
			VideoSelector:   "video",
			UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			AcceptHeader:    "video/*,audio/*,image/*,application/octet-stream;q=0.9,*/*;q=0.8",
		},
		Output: OutputConfig{
			BaseDirectory:     "downloads",
			OverwriteExisting: false,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if controlURL := os.Getenv("SHARECRAWL_CONTROL_URL"); controlURL != "" {
		c.Browser.ControlURL = controlURL
	}
	if headless := os.Getenv("SHARECRAWL_HEADLESS"); headless != "" {
		c.Browser.Headless = strings.ToLower(headless) != "false"
	}
	if outputDir := os.Getenv("SHARECRAWL_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if maxSize := os.Getenv("SHARECRAWL_MAX_FILE_SIZE"); maxSize != "" {
		if val, err := strconv.ParseInt(maxSize, 10, 64); err == nil && val > 0 {
			c.Download.MaxFileSize = val
		}
	}
	if rpm := os.Getenv("SHARECRAWL_REQUESTS_PER_MINUTE"); rpm != "" {
		if val, err := strconv.Atoi(rpm); err == nil && val > 0 {
			c.Crawl.RequestsPerMinute = val
		}
	}
	if userAgent := os.Getenv("SHARECRAWL_USER_AGENT"); userAgent != "" {
		c.Download.UserAgent = userAgent
	}
	if logLevel := os.Getenv("SHARECRAWL_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".sharecrawl.yaml",
		".sharecrawl.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "sharecrawl", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "sharecrawl", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".sharecrawl.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Crawl.ListSelector == "" {
		errs = append(errs, errors.New("list selector is required"))
	}
	if c.Crawl.SelectorTimeout <= 0 {
		errs = append(errs, errors.New("selector timeout must be positive"))
	}
	if c.Crawl.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}

	if c.Download.MaxFileSize <= 0 {
		errs = append(errs, errors.New("max file size must be positive"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Download.PollInterval >= c.Download.DownloadTimeout {
		errs = append(errs, errors.New("poll interval must be smaller than download timeout"))
	}
	if c.Download.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if maxSize, ok := flags["max-file-size"].(int64); ok && maxSize > 0 {
		c.Download.MaxFileSize = maxSize
	}
	if rpm, ok := flags["rate-limit"].(int); ok && rpm > 0 {
		c.Crawl.RequestsPerMinute = rpm
	}
	if controlURL, ok := flags["control-url"].(string); ok && controlURL != "" {
		c.Browser.ControlURL = controlURL
	}
	if headless, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = headless
	}
	if overwrite, ok := flags["overwrite"].(bool); ok {
		c.Output.OverwriteExisting = overwrite
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".sharecrawl.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
