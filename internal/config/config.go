package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	envPrefix     = "TASKD"
	envConfigFile = "TASKD_CONFIG"

	defaultListenAddr    = ":8080"
	defaultDatabaseDSN   = "taskd.db"
	defaultLogLevel      = "info"
	defaultSubjectPrefix = "taskd.component"
	defaultNATSTimeout   = 5 * time.Second
)

// Config holds application configuration. Values come from defaults, an
// optional config file named by TASKD_CONFIG, and TASKD_* environment
// variables, in increasing order of precedence.
type Config struct {
	ListenAddr  string `mapstructure:"listen_addr" validate:"required"`
	DatabaseDSN string `mapstructure:"database_dsn" validate:"required"`
	LogLevel    string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// NATSURL enables the component bus when set.
	NATSURL           string        `mapstructure:"nats_url" validate:"omitempty,url"`
	NATSSubjectPrefix string        `mapstructure:"nats_subject_prefix" validate:"required"`
	NATSTimeout       time.Duration `mapstructure:"nats_timeout" validate:"gt=0"`

	// Components names remote components reachable over NATS.
	Components []string `mapstructure:"components" validate:"dive,required"`
}

// Load reads and validates the configuration.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("database_dsn", defaultDatabaseDSN)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject_prefix", defaultSubjectPrefix)
	v.SetDefault("nats_timeout", defaultNATSTimeout)
	v.SetDefault("components", []string{})

	if path := os.Getenv(envConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return Config{}, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
