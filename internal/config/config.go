package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr     string `env:"ADDR"      envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	UploadDir    string `env:"UPLOAD_DIR"    envDefault:"uploads"`
	ProcessedDir string `env:"PROCESSED_DIR" envDefault:"processed"`
	FramesDir    string `env:"FRAMES_DIR"    envDefault:"frames"`

	Workers           int     `env:"WORKERS"             envDefault:"4"`
	FPS               int     `env:"FPS"                 envDefault:"15"`
	Scale             float64 `env:"SCALE"               envDefault:"0.5"`
	FFmpegPath        string  `env:"FFMPEG_PATH"         envDefault:"ffmpeg"`
	CleanupOnFailure  bool    `env:"CLEANUP_ON_FAILURE"  envDefault:"true"`
	MaxConcurrentJobs int     `env:"MAX_CONCURRENT_JOBS" envDefault:"2"`
	MaxUploadMB       int64   `env:"MAX_UPLOAD_MB"       envDefault:"512"`

	// RembgURL points at a rembg HTTP server. Empty selects the local
	// chroma-key remover.
	RembgURL        string        `env:"REMBG_URL"`
	RembgTimeout    time.Duration `env:"REMBG_TIMEOUT"    envDefault:"60s"`
	ChromaTolerance float64       `env:"CHROMA_TOLERANCE" envDefault:"40"`

	// DatabaseURL enables the PostgreSQL job store when set.
	DatabaseURL string `env:"DATABASE_URL"`

	SweepSchedule string        `env:"SWEEP_SCHEDULE" envDefault:"@every 10m"`
	SweepMaxAge   time.Duration `env:"SWEEP_MAX_AGE"  envDefault:"1h"`

	// MinIOEndpoint enables archiving of finished outputs when set.
	MinIOEndpoint  string `env:"MINIO_ENDPOINT"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY" envDefault:"minioadmin"`
	MinIOSecretKey string `env:"MINIO_SECRET_KEY" envDefault:"minioadmin"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL"    envDefault:"false"`
	MinIOBucket    string `env:"MINIO_BUCKET"     envDefault:"cutout"`

	// RabbitMQURL enables job events when set.
	RabbitMQURL      string `env:"RABBITMQ_URL"`
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE" envDefault:"cutout.jobs"`

	// OTelEndpoint enables trace export, e.g. http://jaeger:4318/v1/traces.
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	case c.FPS < 1:
		return fmt.Errorf("FPS must be at least 1, got %d", c.FPS)
	case c.Scale <= 0 || c.Scale > 1:
		return fmt.Errorf("SCALE must be in (0, 1], got %v", c.Scale)
	case c.MaxConcurrentJobs < 1:
		return fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1, got %d", c.MaxConcurrentJobs)
	case c.MaxUploadMB < 1:
		return fmt.Errorf("MAX_UPLOAD_MB must be at least 1, got %d", c.MaxUploadMB)
	}
	return nil
}

// Level maps LogLevel to a slog level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
