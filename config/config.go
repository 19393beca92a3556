package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	Server  ServerConfig
	Forward ForwardConfig
	Upload  UploadConfig
	Static  StaticConfig
	Redis   RedisConfig
	App     AppConfig
}

type ServerConfig struct {
	Port              string
	RateLimitPerMin   int
	CORSAllowOrigins  []string
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration // zero: request bodies may stream indefinitely
}

// ForwardConfig describes the remote endpoint uploads are relayed to.
// A zero Timeout means the outbound call is only bound by the inbound request.
type ForwardConfig struct {
	URL           string
	Timeout       time.Duration
	MaxConcurrent int
}

// UploadConfig bounds ingestion. Zero values mean unbounded.
type UploadConfig struct {
	MaxBytes       int64
	TempDir        string
	MaxStagedFiles int
	SweepSchedule  string
	TempMaxAge     time.Duration
}

type StaticConfig struct {
	Dir       string
	IndexFile string
}

type RedisConfig struct {
	URL string
}

type AppConfig struct {
	Environment string
	Version     string
	ServiceName string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnv("PORT", "3033"),
			RateLimitPerMin:   getEnvAsInt("RATE_LIMIT_PER_MINUTE", 0),
			CORSAllowOrigins:  getEnvAsList("CORS_ALLOW_ORIGINS", []string{"*"}),
			ShutdownTimeout:   getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 10*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 0),
		},
		Forward: ForwardConfig{
			URL:           getEnv("FORWARD_URL", "https://example.com"),
			Timeout:       getEnvAsDuration("FORWARD_TIMEOUT", 0),
			MaxConcurrent: getEnvAsInt("MAX_CONCURRENT_FORWARDS", 0),
		},
		Upload: UploadConfig{
			MaxBytes:       getEnvAsInt64("MAX_UPLOAD_BYTES", 0),
			TempDir:        getEnv("TEMP_DIR", "./temp"),
			MaxStagedFiles: getEnvAsInt("MAX_STAGED_FILES", 0),
			SweepSchedule:  os.Getenv("TEMP_SWEEP_SCHEDULE"),
			TempMaxAge:     getEnvAsDuration("TEMP_MAX_AGE", time.Hour),
		},
		Static: StaticConfig{
			Dir:       getEnv("STATIC_DIR", "./public"),
			IndexFile: getEnv("INDEX_FILE", "./public/index.html"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
			ServiceName: getEnv("SERVICE_NAME", "upload-relay"),
		},
	}

	if _, ok := os.LookupEnv("TEMP_SWEEP_SCHEDULE"); !ok {
		cfg.Upload.SweepSchedule = DefaultSweepSchedule
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultSweepSchedule runs the orphan sweep every five minutes (seconds field first).
const DefaultSweepSchedule = "0 */5 * * * *"

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if p, err := strconv.Atoi(c.Server.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", c.Server.Port)
	}

	u, err := url.Parse(c.Forward.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("FORWARD_URL must be an absolute http(s) URL, got %q", c.Forward.URL)
	}

	if c.Forward.Timeout < 0 {
		return fmt.Errorf("FORWARD_TIMEOUT must not be negative")
	}
	if c.Forward.MaxConcurrent < 0 {
		return fmt.Errorf("MAX_CONCURRENT_FORWARDS must not be negative")
	}
	if c.Upload.MaxBytes < 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must not be negative")
	}
	if c.Upload.MaxStagedFiles < 0 {
		return fmt.Errorf("MAX_STAGED_FILES must not be negative")
	}
	if c.Upload.TempDir == "" {
		return fmt.Errorf("TEMP_DIR is required")
	}
	if c.Upload.TempMaxAge <= 0 {
		return fmt.Errorf("TEMP_MAX_AGE must be positive")
	}
	if c.Upload.SweepSchedule != "" {
		if _, err := cron.NewParser(SweepScheduleParseOptions).Parse(c.Upload.SweepSchedule); err != nil {
			return fmt.Errorf("TEMP_SWEEP_SCHEDULE: %w", err)
		}
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("READ_TIMEOUT must not be negative")
	}
	if c.Server.RateLimitPerMin < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}

	return nil
}

// SweepScheduleParseOptions matches cron.WithSeconds().
const SweepScheduleParseOptions = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

// getEnvAsDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid duration for %s, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
