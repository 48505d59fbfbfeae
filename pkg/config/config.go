/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// ErrInvalidConfig is returned when a loaded configuration fails validation
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the userdots configuration
type Config struct {
	Data    Data    `yaml:"data"`
	Server  Server  `yaml:"server"`
	Query   Query   `yaml:"query"`
	Logging Logging `yaml:"logging"`
}

// Data locates the container and its persisted index
type Data struct {
	Path        string `yaml:"path" validate:"required"`
	Compression string `yaml:"compression" validate:"omitempty,oneof=none gzip zstd snappy"`
	IndexPath   string `yaml:"index_path"`
	IndexFormat string `yaml:"index_format" validate:"omitempty,oneof=csv pebble"`
	Mmap        bool   `yaml:"mmap"`
}

// Server contains HTTP front end configuration
type Server struct {
	Bind string `yaml:"bind" validate:"required"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`

	// Memory runs one caching pass over the container at startup
	Memory bool `yaml:"memory"`

	CacheNames   bool `yaml:"cache_names"`
	CacheIDs     bool `yaml:"cache_ids"`
	CacheOffsets bool `yaml:"cache_offsets"`

	// PreferSeek is accepted for compatibility and not consulted
	PreferSeek bool `yaml:"prefer_seek"`

	// NonBlocking fails contended reads instead of waiting for the handle
	NonBlocking bool `yaml:"non_blocking"`

	QueryTimeout   time.Duration `yaml:"query_timeout"`
	RetryAfter     int           `yaml:"retry_after_seconds" validate:"min=0"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// Query contains search defaults and pattern limits
type Query struct {
	Limit           int  `yaml:"limit" validate:"min=0"`
	UseIndex        bool `yaml:"use_index"`
	MaxPatternBytes int  `yaml:"max_pattern_bytes" validate:"min=0"`
	MaxNesting      int  `yaml:"max_nesting" validate:"min=0"`
	MaxInstructions int  `yaml:"max_instructions" validate:"min=0"`
}

// Logging contains logging configuration
type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Data: Data{
			Path:        "./data/users.bin",
			Compression: "none",
			IndexFormat: "csv",
		},
		Server: Server{
			Bind:           "127.0.0.1",
			Port:           8080,
			CacheNames:     true,
			CacheIDs:       true,
			QueryTimeout:   10 * time.Second,
			RetryAfter:     1,
			AllowedOrigins: []string{"*"},
		},
		Query: Query{
			Limit:           100,
			UseIndex:        true,
			MaxPatternBytes: 4096,
			MaxNesting:      5,
			MaxInstructions: 100000,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration against its constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// LoadConfig loads configuration from the specified path. Keys missing from
// the file keep their default values.
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// SaveConfig saves the configuration to the specified path
func SaveConfig(config *Config, configPath string) error {
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// BootstrapConfig writes a default configuration pointing at dataPath
func BootstrapConfig(configPath string, dataPath string) (*Config, error) {
	config := DefaultConfig()
	if dataPath != "" {
		config.Data.Path = dataPath
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save bootstrap config: %w", err)
	}

	return config, nil
}

// GetDefaultConfigPath returns the default configuration path for the current platform
func GetDefaultConfigPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./userdots.yaml"
	}

	// For Linux/macOS, use ~/.config/userdots/config.yaml
	configDir := filepath.Join(homeDir, ".config", "userdots")
	return filepath.Join(configDir, "config.yaml")
}

// ConfigExists checks if a configuration file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return !os.IsNotExist(err)
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	e := validationErrs[0]
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, field)
	case "min":
		return fmt.Errorf("%w: %s must be at least %s", ErrInvalidConfig, field, e.Param())
	case "max":
		return fmt.Errorf("%w: %s must not exceed %s", ErrInvalidConfig, field, e.Param())
	case "oneof":
		return fmt.Errorf("%w: %s must be one of [%s]", ErrInvalidConfig, field, e.Param())
	default:
		return fmt.Errorf("%w: %s failed %s", ErrInvalidConfig, field, e.Tag())
	}
}
