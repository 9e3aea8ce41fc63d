package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/italolelis/resumable_downloader/internal/transfer"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	TargetDir   string `envconfig:"TARGET_DIR" required:"true"`
	ExternalDir string `envconfig:"EXTERNAL_DIR"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath      string `envconfig:"DB_PATH" default:"downloads.db"`
	MaxParallel int    `envconfig:"MAX_PARALLEL" default:"5"`

	ConnectTimeout       time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	ReadTimeout          time.Duration `envconfig:"READ_TIMEOUT" default:"40s"`
	BufferSize           int           `envconfig:"BUFFER_SIZE" default:"8192"`
	AcceptPartialContent bool          `envconfig:"ACCEPT_PARTIAL_CONTENT" default:"false"`
	SyncEveryChunk       bool          `envconfig:"SYNC_EVERY_CHUNK" default:"true"`

	MaxAttempts          int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	RetryInitialInterval time.Duration `envconfig:"RETRY_INITIAL_INTERVAL" default:"1s"`
	RetryMaxInterval     time.Duration `envconfig:"RETRY_MAX_INTERVAL" default:"30s"`

	KeepFailedFor   time.Duration `envconfig:"KEEP_FAILED_FOR" default:"24h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	TelemetryEnabled bool   `envconfig:"TELEMETRY_ENABLED" default:"true"`
	OTLPEndpoint     string `envconfig:"OTLP_ENDPOINT"`

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads an optional .env file and the environment, and populates the Config struct.
// Variables already set in the environment win over the .env file.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.MaxParallel < 1 {
		return nil, fmt.Errorf("MAX_PARALLEL must be at least 1, got %d", cfg.MaxParallel)
	}

	return &cfg, nil
}

// TransferConfig returns the settings of a single download session.
func (c *Config) TransferConfig() transfer.Config {
	return transfer.Config{
		ConnectTimeout:       c.ConnectTimeout,
		ReadTimeout:          c.ReadTimeout,
		BufferSize:           c.BufferSize,
		SyncEveryChunk:       c.SyncEveryChunk,
		AcceptPartialContent: c.AcceptPartialContent,
	}
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
