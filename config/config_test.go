package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every key Load reads so the host environment cannot leak
// into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "DATA_DIR", "APP_ENV", "LOG_LEVEL", "DEFAULT_TIMEZONE", "WORKERS", "POLL_INTERVAL",
		"COMPILER_BINARY", "MAX_FEATURES", "COMPILE_TIMEOUT", "MAX_ATTEMPTS", "BACKOFF_BASE", "BACKOFF_CAP",
		"ARTIFACT_BACKEND", "ARTIFACT_BUCKET", "ARTIFACT_BUCKET_OVERRIDES", "MIN_ARTIFACT_BYTES",
		"MAX_ARTIFACT_BYTES", "PUBLIC_BASE_URL", "S3_ENDPOINT", "S3_ACCESS_KEY", "S3_SECRET_KEY",
		"S3_REGION", "S3_USE_SSL", "OTEL_EXPORTER", "OTEL_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arpipe.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7890, cfg.Server.Port)
	assert.Equal(t, "/data", cfg.Server.DataDir)
	assert.Equal(t, 800, cfg.Compiler.MaxFeatures)
	assert.Equal(t, 3, cfg.Compiler.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Compiler.CompileTimeout.Std())
	assert.Equal(t, "markers", cfg.Artifacts.Bucket)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, "/data/db", cfg.DBDir())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[server]
port = 9000
data_dir = "/srv/arpipe"
default_timezone = "Europe/Paris"

[compiler]
max_features = 500
compile_timeout = "45s"
backoff_base = "1s"
backoff_cap = "30s"

[artifacts]
bucket = "ar"

[artifacts.bucket_overrides]
"application/octet-stream" = "mind-targets"
`)
	t.Setenv("MAX_FEATURES", "600")
	t.Setenv("WORKERS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/srv/arpipe", cfg.Server.DataDir)
	assert.Equal(t, "Europe/Paris", cfg.Location().String())
	assert.Equal(t, 600, cfg.Compiler.MaxFeatures, "environment wins over file")
	assert.Equal(t, 4, cfg.Worker.Workers)
	assert.Equal(t, 45*time.Second, cfg.Compiler.CompileTimeout.Std())
	assert.Equal(t, "ar", cfg.Artifacts.Bucket)
	assert.Equal(t, map[string]string{"application/octet-stream": "mind-targets"}, cfg.Artifacts.BucketOverrides)
}

func TestLoad_EnvOverridesBucketMap(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARTIFACT_BUCKET_OVERRIDES", "application/octet-stream=a, image/png=b")
	t.Setenv("S3_USE_SSL", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"application/octet-stream": "a", "image/png": "b"}, cfg.Artifacts.BucketOverrides)
	assert.True(t, cfg.S3.UseSSL)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
		want string
	}{
		{name: "bad port", env: map[string]string{"PORT": "abc"}, want: "invalid PORT"},
		{name: "port out of range", env: map[string]string{"PORT": "70000"}, want: "out of range"},
		{name: "bad duration", env: map[string]string{"COMPILE_TIMEOUT": "soon"}, want: "invalid COMPILE_TIMEOUT"},
		{name: "bad timezone", env: map[string]string{"DEFAULT_TIMEZONE": "Mars/Olympus"}, want: "default_timezone"},
		{name: "zero attempts", env: map[string]string{"MAX_ATTEMPTS": "0"}, want: "max_attempts"},
		{name: "cap below base", env: map[string]string{"BACKOFF_BASE": "10s", "BACKOFF_CAP": "1s"}, want: "backoff_base"},
		{name: "inverted byte bounds", env: map[string]string{"MIN_ARTIFACT_BYTES": "100", "MAX_ARTIFACT_BYTES": "10"}, want: "byte bounds"},
		{name: "s3 without credentials", env: map[string]string{"ARTIFACT_BACKEND": "s3"}, want: "S3_ENDPOINT"},
		{name: "unknown backend", env: map[string]string{"ARTIFACT_BACKEND": "ftp"}, want: "unknown artifact backend"},
		{name: "otlp without endpoint", env: map[string]string{"OTEL_EXPORTER": "otlphttp"}, want: "OTEL_ENDPOINT"},
		{name: "malformed overrides", env: map[string]string{"ARTIFACT_BUCKET_OVERRIDES": "nobucket"}, want: "ARTIFACT_BUCKET_OVERRIDES"},
		{name: "unknown file key", file: "[server]\nhostname = \"x\"\n", want: "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeConfig(t, tt.file)
			}

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "open config")
}

func TestParseBucketOverrides(t *testing.T) {
	got, err := ParseBucketOverrides(" a=x ,, b=y")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "x", "b": "y"}, got)
	assert.Equal(t, "a=x,b=y", FormatBucketOverrides(got))

	_, err = ParseBucketOverrides("a=")
	assert.Error(t, err)
}
