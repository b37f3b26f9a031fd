package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DelayRange bounds a simulated processing time.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	ServiceMode string

	Workers     int
	JobTimeout  time.Duration
	CancelGrace time.Duration
	EventBuffer int

	OutputsDir   string
	WorkflowsDir string

	ComfyUIBaseURL          string
	ComfyUIPollInterval     time.Duration
	ComfyUIMaxPollInterval  time.Duration
	ComfyUIMaxRetries       int
	ComfyUITimeout          time.Duration
	ComfyUIExpectedDuration time.Duration

	MockChatDelay    DelayRange
	MockImageDelay   DelayRange
	MockVideoDelay   DelayRange
	MockErrorRate    float64
	MockSeed         int64
	MockTickInterval time.Duration

	DatabaseURL         string
	SQLitePath          string
	ArchiveRestoreLimit int

	RedisAddr    string
	RedisChannel string
	NATSURL      string
	NATSSubject  string

	JobRetention         time.Duration
	JobRetentionSchedule string

	RateLimitPerMin    int
	TrustProxyHeaders  bool
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8000"),
		ServiceMode: strings.ToLower(getEnv("SERVICE_MODE", "mock")),

		Workers:     getEnvInt("WORKERS", 2),
		JobTimeout:  getEnvDuration("JOB_TIMEOUT", 15*time.Minute),
		CancelGrace: getEnvDuration("CANCEL_GRACE", 5*time.Second),
		EventBuffer: getEnvInt("EVENT_BUFFER", 64),

		OutputsDir:   getEnv("OUTPUTS_DIR", "./outputs"),
		WorkflowsDir: getEnv("WORKFLOWS_DIR", "./workflows"),

		ComfyUIBaseURL:          getEnv("COMFYUI_BASE_URL", "http://localhost:8188"),
		ComfyUIPollInterval:     getEnvDuration("COMFYUI_POLL_INTERVAL", time.Second),
		ComfyUIMaxPollInterval:  getEnvDuration("COMFYUI_MAX_POLL_INTERVAL", 5*time.Second),
		ComfyUIMaxRetries:       getEnvInt("COMFYUI_MAX_RETRIES", 3),
		ComfyUITimeout:          getEnvDuration("COMFYUI_TIMEOUT", 10*time.Minute),
		ComfyUIExpectedDuration: getEnvDuration("COMFYUI_EXPECTED_DURATION", 30*time.Second),

		MockChatDelay:    getEnvDelay("MOCK_LLM_DELAY", 0.5, 2.0),
		MockImageDelay:   getEnvDelay("MOCK_IMAGE_DELAY", 1, 5),
		MockVideoDelay:   getEnvDelay("MOCK_VIDEO_DELAY", 5, 15),
		MockErrorRate:    getEnvFloat("MOCK_ERROR_RATE", 0),
		MockSeed:         int64(getEnvInt("MOCK_SEED", 0)),
		MockTickInterval: getEnvDuration("MOCK_TICK_INTERVAL", 250*time.Millisecond),

		DatabaseURL:         os.Getenv("DATABASE_URL"),
		SQLitePath:          os.Getenv("SQLITE_PATH"),
		ArchiveRestoreLimit: getEnvInt("ARCHIVE_RESTORE_LIMIT", 200),

		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisChannel: getEnv("REDIS_CHANNEL", "gateway:events"),
		NATSURL:      os.Getenv("NATS_URL"),
		NATSSubject:  getEnv("NATS_SUBJECT", "gateway.events"),

		JobRetention:         getEnvDuration("JOB_RETENTION", 24*time.Hour),
		JobRetentionSchedule: getEnv("JOB_RETENTION_SCHEDULE", "@every 10m"),

		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		TrustProxyHeaders:  getEnvBool("TRUST_PROXY_HEADERS", false),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that defaults cannot repair.
func (c *Config) Validate() error {
	if c.ServiceMode != "mock" && c.ServiceMode != "real" {
		return fmt.Errorf("SERVICE_MODE must be mock or real, got %q", c.ServiceMode)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.MockErrorRate < 0 || c.MockErrorRate > 1 {
		return fmt.Errorf("MOCK_ERROR_RATE must be between 0 and 1, got %v", c.MockErrorRate)
	}
	for name, d := range map[string]DelayRange{
		"MOCK_LLM_DELAY":   c.MockChatDelay,
		"MOCK_IMAGE_DELAY": c.MockImageDelay,
		"MOCK_VIDEO_DELAY": c.MockVideoDelay,
	} {
		if d.Min < 0 || d.Max < d.Min {
			return fmt.Errorf("%s_MIN/%s_MAX must satisfy 0 <= min <= max, got %s/%s", name, name, d.Min, d.Max)
		}
	}
	if c.JobTimeout <= 0 || c.CancelGrace <= 0 {
		return fmt.Errorf("JOB_TIMEOUT and CANCEL_GRACE must be positive")
	}
	if c.ComfyUIMaxRetries < 0 {
		return fmt.Errorf("COMFYUI_MAX_RETRIES must not be negative, got %d", c.ComfyUIMaxRetries)
	}
	return nil
}

// IsDevelopment reports whether the app runs with development defaults.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return seconds(secs)
	}
	return fallback
}

func getEnvDelay(prefix string, minSecs, maxSecs float64) DelayRange {
	return DelayRange{
		Min: seconds(getEnvFloat(prefix+"_MIN", minSecs)),
		Max: seconds(getEnvFloat(prefix+"_MAX", maxSecs)),
	}
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
