package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Server struct {
	Port            int    `toml:"port"`
	DataDir         string `toml:"data_dir"`
	AppEnv          string `toml:"app_env"`
	LogLevel        string `toml:"log_level"`
	DefaultTimezone string `toml:"default_timezone"`
}

type Worker struct {
	Workers      int      `toml:"workers"`
	PollInterval Duration `toml:"poll_interval"`
}

type Compiler struct {
	Binary         string   `toml:"binary"`
	MaxFeatures    int      `toml:"max_features"`
	CompileTimeout Duration `toml:"compile_timeout"`
	MaxAttempts    int      `toml:"max_attempts"`
	BackoffBase    Duration `toml:"backoff_base"`
	BackoffCap     Duration `toml:"backoff_cap"`
}

type Artifacts struct {
	Backend         string            `toml:"backend"`
	Bucket          string            `toml:"bucket"`
	BucketOverrides map[string]string `toml:"bucket_overrides"`
	MinBytes        int64             `toml:"min_bytes"`
	MaxBytes        int64             `toml:"max_bytes"`
	PublicBaseURL   string            `toml:"public_base_url"`
}

type S3 struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
	Region    string `toml:"region"`
}

type Telemetry struct {
	// Exporter is one of none, stdout or otlphttp.
	Exporter string `toml:"exporter"`
	Endpoint string `toml:"endpoint"`
}

type Config struct {
	Server    Server    `toml:"server"`
	Worker    Worker    `toml:"worker"`
	Compiler  Compiler  `toml:"compiler"`
	Artifacts Artifacts `toml:"artifacts"`
	S3        S3        `toml:"s3"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Server: Server{
			Port:            7890,
			DataDir:         "/data",
			AppEnv:          "production",
			LogLevel:        "info",
			DefaultTimezone: "UTC",
		},
		Worker: Worker{
			Workers:      2,
			PollInterval: Duration(time.Second),
		},
		Compiler: Compiler{
			Binary:         "mindar-compiler",
			MaxFeatures:    800,
			CompileTimeout: Duration(2 * time.Minute),
			MaxAttempts:    3,
			BackoffBase:    Duration(2 * time.Second),
			BackoffCap:     Duration(time.Minute),
		},
		Artifacts: Artifacts{
			Backend:  "local",
			Bucket:   "markers",
			MinBytes: 16,
			MaxBytes: 50 << 20,
		},
		Telemetry: Telemetry{
			Exporter: "none",
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file at
// path, a .env file in the working directory and finally the process
// environment. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// godotenv never overrides variables already present in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close() //nolint:errcheck

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setInt64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	setInt("PORT", &c.Server.Port)
	c.Server.DataDir = getEnv("DATA_DIR", c.Server.DataDir)
	c.Server.AppEnv = getEnv("APP_ENV", c.Server.AppEnv)
	c.Server.LogLevel = getEnv("LOG_LEVEL", c.Server.LogLevel)
	c.Server.DefaultTimezone = getEnv("DEFAULT_TIMEZONE", c.Server.DefaultTimezone)

	setInt("WORKERS", &c.Worker.Workers)
	setDuration("POLL_INTERVAL", &c.Worker.PollInterval)

	c.Compiler.Binary = getEnv("COMPILER_BINARY", c.Compiler.Binary)
	setInt("MAX_FEATURES", &c.Compiler.MaxFeatures)
	setDuration("COMPILE_TIMEOUT", &c.Compiler.CompileTimeout)
	setInt("MAX_ATTEMPTS", &c.Compiler.MaxAttempts)
	setDuration("BACKOFF_BASE", &c.Compiler.BackoffBase)
	setDuration("BACKOFF_CAP", &c.Compiler.BackoffCap)

	c.Artifacts.Backend = getEnv("ARTIFACT_BACKEND", c.Artifacts.Backend)
	c.Artifacts.Bucket = getEnv("ARTIFACT_BUCKET", c.Artifacts.Bucket)
	if v := os.Getenv("ARTIFACT_BUCKET_OVERRIDES"); v != "" {
		overrides, err := ParseBucketOverrides(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid ARTIFACT_BUCKET_OVERRIDES: %w", err))
		} else {
			c.Artifacts.BucketOverrides = overrides
		}
	}
	setInt64("MIN_ARTIFACT_BYTES", &c.Artifacts.MinBytes)
	setInt64("MAX_ARTIFACT_BYTES", &c.Artifacts.MaxBytes)
	c.Artifacts.PublicBaseURL = getEnv("PUBLIC_BASE_URL", c.Artifacts.PublicBaseURL)

	c.S3.Endpoint = getEnv("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKey = getEnv("S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = getEnv("S3_SECRET_KEY", c.S3.SecretKey)
	c.S3.Region = getEnv("S3_REGION", c.S3.Region)
	setBool("S3_USE_SSL", &c.S3.UseSSL)

	c.Telemetry.Exporter = getEnv("OTEL_EXPORTER", c.Telemetry.Exporter)
	c.Telemetry.Endpoint = getEnv("OTEL_ENDPOINT", c.Telemetry.Endpoint)

	return errors.Join(errs...)
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Server.DataDir) == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if _, err := time.LoadLocation(c.Server.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("default_timezone: %w", err))
	}
	if c.Worker.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.Compiler.MaxFeatures <= 0 {
		errs = append(errs, errors.New("max_features must be positive"))
	}
	if c.Compiler.CompileTimeout <= 0 {
		errs = append(errs, errors.New("compile_timeout must be positive"))
	}
	if c.Compiler.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max_attempts must be positive"))
	}
	if c.Compiler.BackoffBase <= 0 || c.Compiler.BackoffCap < c.Compiler.BackoffBase {
		errs = append(errs, errors.New("backoff_base must be positive and not exceed backoff_cap"))
	}
	if c.Artifacts.MinBytes < 0 || (c.Artifacts.MaxBytes > 0 && c.Artifacts.MaxBytes < c.Artifacts.MinBytes) {
		errs = append(errs, errors.New("artifact byte bounds are inconsistent"))
	}
	if strings.TrimSpace(c.Artifacts.Bucket) == "" {
		errs = append(errs, errors.New("artifact bucket is required"))
	}
	switch strings.ToLower(c.Artifacts.Backend) {
	case "local":
	case "s3", "minio":
		if c.S3.Endpoint == "" || c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			errs = append(errs, errors.New("s3 backend requires S3_ENDPOINT, S3_ACCESS_KEY and S3_SECRET_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown artifact backend %q", c.Artifacts.Backend))
	}
	switch strings.ToLower(c.Telemetry.Exporter) {
	case "", "none", "stdout":
	case "otlphttp":
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("otlphttp exporter requires OTEL_ENDPOINT"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown otel exporter %q", c.Telemetry.Exporter))
	}
	return errors.Join(errs...)
}

// Location returns the configured default timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Server.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) DBDir() string {
	return filepath.Join(c.Server.DataDir, "db")
}

func (c *Config) MarkersDir() string {
	return filepath.Join(c.Server.DataDir, "markers")
}

func (c *Config) ArtifactsDir() string {
	return filepath.Join(c.Server.DataDir, "artifacts")
}

func (c *Config) LeaseDir() string {
	return filepath.Join(c.Server.DataDir, "leases")
}

// ParseBucketOverrides parses "contentType=bucket,..." pairs.
func ParseBucketOverrides(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		contentType, bucket, ok := strings.Cut(pair, "=")
		contentType = strings.TrimSpace(contentType)
		bucket = strings.TrimSpace(bucket)
		if !ok || contentType == "" || bucket == "" {
			return nil, fmt.Errorf("malformed override %q, want contentType=bucket", pair)
		}
		out[contentType] = bucket
	}
	return out, nil
}

// FormatBucketOverrides is the inverse of ParseBucketOverrides, with keys
// sorted.
func FormatBucketOverrides(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+m[k])
	}
	return strings.Join(pairs, ",")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
