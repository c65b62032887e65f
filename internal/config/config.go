package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kelseyhightower/envconfig"
)

// ByteSize is a size read from a human readable value such as "32KiB" or "64MB".
type ByteSize int64

// Decode implements envconfig.Decoder.
func (b *ByteSize) Decode(value string) error {
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return fmt.Errorf("invalid byte size %q: %w", value, err)
	}

	*b = ByteSize(n)

	return nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// Config struct for environment variables.
type Config struct {
	Transport string `envconfig:"TRANSPORT" default:"memory"`

	S3 struct {
		Bucket          string
		Prefix          string
		Region          string   `default:"us-east-1"`
		Endpoint        string
		AccessKeyID     string   `split_words:"true"`
		SecretAccessKey string   `split_words:"true"`
		PartSize        ByteSize `split_words:"true" default:"8MiB"`
	}

	PutioToken   string `envconfig:"PUTIO_TOKEN"`
	PutioRootDir string `envconfig:"PUTIO_ROOT_DIR" default:"attachments"`

	MaxParallel   int      `envconfig:"MAX_PARALLEL" default:"4"`
	ChunkSize     ByteSize `envconfig:"CHUNK_SIZE" default:"32KiB"`
	MaxUploadSize ByteSize `envconfig:"MAX_UPLOAD_SIZE" default:"64MB"`
	ClientID      string   `envconfig:"CLIENT_ID"`

	BlobDir           string        `envconfig:"BLOB_DIR" default:"attachments"`
	DBPath            string        `envconfig:"DB_PATH" default:"transfers.db"`
	KeepHistoryFor    time.Duration `envconfig:"KEEP_HISTORY_FOR" default:"168h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	NotifySuccess     bool          `envconfig:"NOTIFY_SUCCESS" default:"false"`

	API struct {
		Username string
		Password string
	}

	Telemetry struct {
		Enabled        bool   `default:"true"`
		ServiceName    string `split_words:"true" default:"attachment_transfer"`
		ServiceVersion string `split_words:"true" default:"dev"`
		OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"5m"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Transport {
	case "memory":
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 transport")
		}
	case "putio":
		if c.PutioToken == "" {
			return fmt.Errorf("PUTIO_TOKEN is required for the putio transport")
		}
	default:
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}

	if c.MaxParallel <= 0 {
		return fmt.Errorf("MAX_PARALLEL must be positive, got %d", c.MaxParallel)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}

	return nil
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
