// Package config provides configuration management for 4Charm.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix for environment variable overrides
// (e.g. FOURCHARM_GENERAL_WORKERS).
const envPrefix = "FOURCHARM"

// Config represents the complete 4Charm configuration
type Config struct {
	General GeneralConfig `yaml:"general"`
	Limits  LimitsConfig  `yaml:"limits"`
	Remote  RemoteConfig  `yaml:"remote"`
	Output  OutputConfig  `yaml:"output"`
}

// GeneralConfig holds general download settings
type GeneralConfig struct {
	Workers         int           `yaml:"workers" envconfig:"GENERAL_WORKERS"`
	Retries         int           `yaml:"retries" envconfig:"GENERAL_RETRIES"`
	ChunkSize       int           `yaml:"chunk_size" envconfig:"GENERAL_CHUNK_SIZE"`
	APITimeout      time.Duration `yaml:"api_timeout" envconfig:"GENERAL_API_TIMEOUT"`
	DownloadTimeout time.Duration `yaml:"download_timeout" envconfig:"GENERAL_DOWNLOAD_TIMEOUT"`
	UserAgent       string        `yaml:"user_agent" envconfig:"GENERAL_USER_AGENT"`
}

// LimitsConfig holds request pacing and courtesy delay settings
type LimitsConfig struct {
	BaseDelay         time.Duration `yaml:"base_delay" envconfig:"LIMITS_BASE_DELAY"`
	MaxDelay          time.Duration `yaml:"max_delay" envconfig:"LIMITS_MAX_DELAY"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" envconfig:"LIMITS_BACKOFF_MULTIPLIER"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown" envconfig:"LIMITS_RATE_LIMIT_COOLDOWN"`
	CatalogDelay      time.Duration `yaml:"catalog_delay" envconfig:"LIMITS_CATALOG_DELAY"`
	CatalogThreads    int           `yaml:"catalog_threads" envconfig:"LIMITS_CATALOG_THREADS"`
}

// RemoteConfig holds the remote surface. The hosts are configurable only so
// tests can point the engine at local servers; the API shape itself is fixed.
type RemoteConfig struct {
	RootDomain string   `yaml:"root_domain" envconfig:"REMOTE_ROOT_DOMAIN"`
	APIBase    string   `yaml:"api_base" envconfig:"REMOTE_API_BASE"`
	MediaBase  string   `yaml:"media_base" envconfig:"REMOTE_MEDIA_BASE"`
	Extensions []string `yaml:"extensions" envconfig:"REMOTE_EXTENSIONS"`
}

// OutputConfig holds filesystem output settings
type OutputConfig struct {
	Directory           string `yaml:"directory" envconfig:"OUTPUT_DIRECTORY"`
	MinFreeSpaceMB      int64  `yaml:"min_free_space_mb" envconfig:"OUTPUT_MIN_FREE_SPACE_MB"`
	MaxFilenameLength   int    `yaml:"max_filename_length" envconfig:"OUTPUT_MAX_FILENAME_LENGTH"`
	MaxFolderNameLength int    `yaml:"max_folder_name_length" envconfig:"OUTPUT_MAX_FOLDER_NAME_LENGTH"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			Workers:         min(5, runtime.NumCPU()),
			Retries:         3,
			ChunkSize:       8192,
			APITimeout:      30 * time.Second,
			DownloadTimeout: 60 * time.Second,
			UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
		},
		Limits: LimitsConfig{
			BaseDelay:         300 * time.Millisecond,
			MaxDelay:          5 * time.Second,
			BackoffMultiplier: 1.5,
			RateLimitCooldown: 2 * time.Second,
			CatalogDelay:      500 * time.Millisecond,
			CatalogThreads:    10,
		},
		Remote: RemoteConfig{
			RootDomain: "4chan.org",
			APIBase:    "https://a.4cdn.org",
			MediaBase:  "https://i.4cdn.org",
			Extensions: []string{
				".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp",
				".webm", ".mp4", ".mov", ".avi", ".mkv",
				".pdf", ".txt", ".zip", ".rar",
			},
		},
		Output: OutputConfig{
			Directory:           "",
			MinFreeSpaceMB:      100,
			MaxFilenameLength:   200,
			MaxFolderNameLength: 40,
		},
	}
}

// ConfigPaths returns the list of config file paths in priority order
func ConfigPaths() []string {
	paths := make([]string, 0, 5)

	// 1. Environment variable
	if envPath := os.Getenv("FOURCHARM_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	// 2. Current directory
	paths = append(paths, ".4charm.yaml")
	paths = append(paths, ".4charm.yml")

	// 3. User config directory (XDG on Linux, AppData on Windows)
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "4charm", "config.yaml"))
	}

	// 4. Home directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".4charm.yaml"))
	}

	return paths
}

// Load loads configuration from the first available config file, then
// applies environment overrides on top.
func Load() (*Config, error) {
	config := Default()

	for _, path := range ConfigPaths() {
		if _, err := os.Stat(path); err == nil {
			if err := config.LoadFile(path); err != nil {
				return nil, fmt.Errorf("loading config from %s: %w", path, err)
			}
			break
		}
	}

	if err := envconfig.Process(envPrefix, config); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	return config, nil
}

// LoadFile loads configuration from a specific file
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// AllowedExtension reports whether ext (with leading dot, any case) is in
// the media extension whitelist.
func (c *Config) AllowedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range c.Remote.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
