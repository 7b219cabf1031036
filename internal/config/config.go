package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string `mapstructure:"port"`
	ModelPath       string `mapstructure:"model_path"`
	MetadataPath    string `mapstructure:"metadata_path"`
	OnnxLibraryPath string `mapstructure:"onnx_library_path"`
	TopK            int    `mapstructure:"top_k"`
	CacheMaxEntries int    `mapstructure:"cache_max_entries"`
	MaxUploadMB     int64  `mapstructure:"max_upload_mb"`
	MaxImagePixels  int64  `mapstructure:"max_image_pixels"`
	LogLevel        string `mapstructure:"log_level"`
}

func DefaultConfig() *Config {
	return &Config{
		Port:            "8080",
		ModelPath:       "models/model.onnx",
		MetadataPath:    "models/model_metadata.json",
		TopK:            5,
		CacheMaxEntries: 0,
		MaxUploadMB:     10,
		MaxImagePixels:  40_000_000,
		LogLevel:        "info",
	}
}

// Load reads cfgFile (or ./config.yaml when empty), then DESCRIBE_* env vars.
// A missing default config file is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	cfg := DefaultConfig()
	// PORT is what most hosting platforms set; config and DESCRIBE_PORT win.
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DESCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", cfg.Port)
	v.SetDefault("model_path", cfg.ModelPath)
	v.SetDefault("metadata_path", cfg.MetadataPath)
	v.SetDefault("onnx_library_path", cfg.OnnxLibraryPath)
	v.SetDefault("top_k", cfg.TopK)
	v.SetDefault("cache_max_entries", cfg.CacheMaxEntries)
	v.SetDefault("max_upload_mb", cfg.MaxUploadMB)
	v.SetDefault("max_image_pixels", cfg.MaxImagePixels)
	v.SetDefault("log_level", cfg.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.TopK)
	}
	if c.CacheMaxEntries < 0 {
		return fmt.Errorf("cache_max_entries must not be negative, got %d", c.CacheMaxEntries)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("max_image_pixels must be positive, got %d", c.MaxImagePixels)
	}
	return nil
}

// MaxUploadBytes is the multipart form limit.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// SlogLevel maps log_level to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
