package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Transport)
	assert.Equal(t, 4, cfg.MaxParallel)
	assert.Equal(t, ByteSize(32*1024), cfg.ChunkSize)
	assert.Equal(t, ByteSize(64_000_000), cfg.MaxUploadSize)
	assert.Equal(t, ByteSize(8*1024*1024), cfg.S3.PartSize)
	assert.Equal(t, 168*time.Hour, cfg.KeepHistoryFor)
	assert.Equal(t, "0.0.0.0:9091", cfg.Web.BindAddress)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("TRANSPORT", "s3")
	t.Setenv("S3_BUCKET", "attachments")
	t.Setenv("S3_ACCESS_KEY_ID", "key")
	t.Setenv("CHUNK_SIZE", "1MiB")
	t.Setenv("MAX_PARALLEL", "8")
	t.Setenv("API_USERNAME", "admin")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:8080")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "s3", cfg.Transport)
	assert.Equal(t, "attachments", cfg.S3.Bucket)
	assert.Equal(t, "key", cfg.S3.AccessKeyID)
	assert.Equal(t, ByteSize(1<<20), cfg.ChunkSize)
	assert.Equal(t, 8, cfg.MaxParallel)
	assert.Equal(t, "admin", cfg.API.Username)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "127.0.0.1:8080", cfg.Web.BindAddress)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown transport", env: map[string]string{"TRANSPORT": "ftp"}},
		{name: "s3 without bucket", env: map[string]string{"TRANSPORT": "s3"}},
		{name: "putio without token", env: map[string]string{"TRANSPORT": "putio"}},
		{name: "zero parallelism", env: map[string]string{"MAX_PARALLEL": "0"}},
		{name: "bad chunk size", env: map[string]string{"CHUNK_SIZE": "lots"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{level: "debug", want: slog.LevelDebug},
		{level: "INFO", want: slog.LevelInfo},
		{level: "Warn", want: slog.LevelWarn},
		{level: "ERROR", want: slog.LevelError},
		{level: "verbose", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			assert.Equal(t, tt.want, cfg.SlogLevel())
		})
	}
}
