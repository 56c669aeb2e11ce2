// Package config loads runtime configuration from .choreo.yaml, CHOREO_*
// environment variables and command flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides: server.addr is read
// from CHOREO_SERVER_ADDR.
const EnvPrefix = "CHOREO"

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// EngineConfig configures the rule engine.
type EngineConfig struct {
	MaxSteps       int `mapstructure:"max_steps" validate:"gt=0"`
	RetentionFlows int `mapstructure:"retention_flows" validate:"gte=0"`
}

// StoreConfig configures the durable ledger. An empty path keeps the ledger
// in memory only.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// PassthroughConfig names the route table file. Empty uses the built-in
// table.
type PassthroughConfig struct {
	File string `mapstructure:"file"`
}

// CategorizingConfig configures the tag vocabulary.
type CategorizingConfig struct {
	Vocabulary  string `mapstructure:"vocabulary"`
	Watch       bool   `mapstructure:"watch"`
	MaxDistance int    `mapstructure:"max_distance" validate:"gte=0"`
}

// AuthConfig configures password hashing.
type AuthConfig struct {
	BcryptCost int `mapstructure:"bcrypt_cost" validate:"gte=4,lte=31"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Exporter     string  `mapstructure:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string  `mapstructure:"endpoint" validate:"required_if=Exporter otlp"`
	Insecure     bool    `mapstructure:"insecure"`
	SamplingRate float64 `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	MetricsEnabled bool          `mapstructure:"metrics_enabled"`
	Namespace      string        `mapstructure:"namespace" validate:"required_if=MetricsEnabled true"`
	Tracing        TracingConfig `mapstructure:"tracing"`
}

// RulesConfig points at additional rule files.
type RulesConfig struct {
	Dir string `mapstructure:"dir"`
}

// Config holds all runtime configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Store        StoreConfig        `mapstructure:"store"`
	Passthrough  PassthroughConfig  `mapstructure:"passthrough"`
	Categorizing CategorizingConfig `mapstructure:"categorizing"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Log          LogConfig          `mapstructure:"log"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Rules        RulesConfig        `mapstructure:"rules"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", "10s")
	v.SetDefault("engine.max_steps", 1000)
	v.SetDefault("engine.retention_flows", 0)
	v.SetDefault("store.path", "")
	v.SetDefault("passthrough.file", "")
	v.SetDefault("categorizing.vocabulary", "")
	v.SetDefault("categorizing.watch", false)
	v.SetDefault("categorizing.max_distance", 2)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.namespace", "choreo")
	v.SetDefault("telemetry.tracing.exporter", "none")
	v.SetDefault("telemetry.tracing.endpoint", "")
	v.SetDefault("telemetry.tracing.insecure", false)
	v.SetDefault("telemetry.tracing.sampling_rate", 1.0)
	v.SetDefault("rules.dir", "")
}

// New returns a viper instance with defaults and environment overrides set
// up. If file is empty, .choreo.yaml is looked up in the working directory
// and the home directory.
func New(file, home string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(".choreo")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home != "" {
			v.AddConfigPath(home)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Read loads the config file into v. A missing default file is not an
// error; a missing explicit file is.
func Read(v *viper.Viper) error {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}

// Validate checks cfg against its field constraints. Errors name the
// offending keys as they are written in the config file.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		key := strings.TrimPrefix(fe.Namespace(), "Config.")
		msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", key, constraint(fe), fe.Value())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func constraint(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// SlogLevel returns the slog level named by Level. verbose forces debug.
func (c LogConfig) SlogLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch c.Level {
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
