// Package config loads runtime settings from defaults, an optional
// leafguard.yaml and LEAFGUARD_* environment variables, in rising priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Model    ModelConfig    `mapstructure:"model"`
	Session  SessionConfig  `mapstructure:"session"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ModelConfig selects the classifier backend: "onnx" loads Path in-process,
// "grpc" dials a LeafScorer at GRPCAddr.
type ModelConfig struct {
	Backend           string        `mapstructure:"backend"`
	Path              string        `mapstructure:"path"`
	MetadataPath      string        `mapstructure:"metadata_path"`
	SharedLibraryPath string        `mapstructure:"shared_library_path"`
	GRPCAddr          string        `mapstructure:"grpc_addr"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	ImageSize         int           `mapstructure:"image_size"`
	Interpolation     string        `mapstructure:"interpolation"`
	// MaxPixels caps width×height of an upload before it is decoded.
	MaxPixels int `mapstructure:"max_pixels"`
	// Version names the remote model for the grpc backend. It scopes cached scores.
	Version string `mapstructure:"version"`
}

type SessionConfig struct {
	Secret     string        `mapstructure:"secret"`
	CookieName string        `mapstructure:"cookie_name"`
	IdleTTL    time.Duration `mapstructure:"idle_ttl"`
}

// CacheConfig enables the Redis score cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// DatabaseConfig enables the analysis audit log when DSN is set.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DevSessionSecret is the default signing key. It is public, so sessions signed
// with it can be forged.
const DevSessionSecret = "dev-secret"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("model.backend", "onnx")
	v.SetDefault("model.path", "models/GLD_Binary_Classification_Final.onnx")
	v.SetDefault("model.metadata_path", "")
	v.SetDefault("model.shared_library_path", "")
	v.SetDefault("model.grpc_addr", "")
	v.SetDefault("model.dial_timeout", 5*time.Second)
	v.SetDefault("model.image_size", 256)
	v.SetDefault("model.interpolation", "bilinear")
	v.SetDefault("model.max_pixels", 40_000_000)
	v.SetDefault("model.version", "")

	v.SetDefault("session.secret", DevSessionSecret)
	v.SetDefault("session.cookie_name", "leafguard_session")
	v.SetDefault("session.idle_ttl", 2*time.Hour)

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("database.dsn", "")

	v.SetDefault("log.level", "info")
}

// Load reads configuration. configPath may be empty, in which case
// leafguard.yaml is looked up in the working directory and skipped if absent.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LEAFGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("leafguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Model.Backend {
	case "onnx":
		if c.Model.Path == "" {
			return errors.New("model.path is required for the onnx backend")
		}
	case "grpc":
		if c.Model.GRPCAddr == "" {
			return errors.New("model.grpc_addr is required for the grpc backend")
		}
	default:
		return fmt.Errorf("unknown model.backend %q", c.Model.Backend)
	}
	if c.Model.ImageSize <= 0 {
		return fmt.Errorf("model.image_size must be positive, got %d", c.Model.ImageSize)
	}
	if c.Model.MaxPixels <= 0 {
		return fmt.Errorf("model.max_pixels must be positive, got %d", c.Model.MaxPixels)
	}
	if strings.TrimSpace(c.Session.Secret) == "" {
		return errors.New("session.secret must not be empty")
	}
	return nil
}

// Warnings lists settings that start fine but are unsafe to expose.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Session.Secret == DevSessionSecret {
		warnings = append(warnings, "session.secret is the built-in development key; set LEAFGUARD_SESSION_SECRET before exposing the service")
	}
	if c.Model.Backend == "grpc" && c.Model.Version == "" {
		warnings = append(warnings, "model.version is empty; cached scores will survive a remote model swap")
	}
	return warnings
}
