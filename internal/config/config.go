// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/SyedDaiam9101/cardio-risk-service/internal/artifact"
)

// EnvPrefix is prepended to every environment variable the service reads.
const EnvPrefix = "CARDIO_RISK"

// Config holds all configuration for the service
type Config struct {
	// Server configuration
	Port         int   `mapstructure:"port"`
	GRPCPort     int   `mapstructure:"grpc_port"`
	MetricsPort  int   `mapstructure:"metrics_port"`
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`

	// Model artifact lookup
	ModelDirs    []string `mapstructure:"model_dirs"`
	ModelFile    string   `mapstructure:"model_file"`
	ModelBaseDir string   `mapstructure:"model_base_dir"`

	// Prediction cache
	Redis     string        `mapstructure:"redis"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheSize int           `mapstructure:"cache_size"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// Feature flags
	UseMockInference bool `mapstructure:"use_mock_inference"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("grpc_port", 50051)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("max_body_bytes", 1<<20)
	v.SetDefault("model_dirs", []string{".", "models"})
	v.SetDefault("model_file", artifact.DefaultFileName)
	v.SetDefault("model_base_dir", "")
	v.SetDefault("redis", "")
	v.SetDefault("cache_ttl", 10*time.Minute)
	v.SetDefault("cache_size", 1024)
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")
	v.SetDefault("use_mock_inference", false)
}

// Load loads configuration from environment variables and an optional config file.
// Priority (highest to lowest): env vars > config file > defaults. Flags are
// applied by the caller on the returned Config.
// When configFile is empty, config.yaml is searched in the usual places and
// its absence is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variable configuration
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// OTEL standard env var also enables tracing
	v.BindEnv("otel_endpoint", EnvPrefix+"_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		v.SetDefault("otel_enabled", true)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cardio-risk-service/")
		v.AddConfigPath("$HOME/.cardio-risk-service")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	ports := map[string]int{"port": c.Port, "grpc_port": c.GRPCPort, "metrics_port": c.MetricsPort}
	seen := make(map[int]string, len(ports))
	for name, p := range ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("invalid %s: %d", name, p)
		}
		if other, ok := seen[p]; ok {
			return fmt.Errorf("%s and %s must be different", other, name)
		}
		seen[p] = name
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative")
	}
	if !c.UseMockInference {
		if len(c.ModelDirs) == 0 {
			return fmt.Errorf("model_dirs is required when not using mock inference")
		}
		if c.ModelFile == "" {
			return fmt.Errorf("model_file is required when not using mock inference")
		}
	}
	return nil
}

// ModelSearchPaths returns ModelDirs with relative entries anchored at
// ModelBaseDir, or at the directory of the running executable when no base
// directory is configured.
func (c *Config) ModelSearchPaths() []string {
	base := c.ModelBaseDir
	if base == "" {
		if exe, err := os.Executable(); err == nil {
			base = filepath.Dir(exe)
		} else {
			base = "."
		}
	}

	paths := make([]string, 0, len(c.ModelDirs))
	for _, d := range c.ModelDirs {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if !filepath.IsAbs(d) {
			d = filepath.Join(base, d)
		}
		paths = append(paths, d)
	}
	return paths
}
