package ingestion

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the image signer needs at startup. It is loaded
// once and injected; nothing reads the environment after LoadConfig returns.
type Config struct {
	// Environment is handed to the pull and sign tasks.
	Environment EnvironmentConfig `yaml:"environment"`

	Schedule ScheduleConfig `yaml:"schedule"`
	Retry    RetryConfig    `yaml:"retry"`

	// Wait is how long an execution pauses between pulling and signing so
	// the registry can finish scanning the pulled images.
	Wait time.Duration `yaml:"wait"`

	Tasks   TasksConfig   `yaml:"tasks"`
	Store   StoreConfig   `yaml:"store"`
	API     APIConfig     `yaml:"api"`
	Logging LoggingConfig `yaml:"logging"`

	// ShutdownTimeout bounds how long Stop waits for running executions.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// EnvironmentConfig describes the registries the tasks operate on.
type EnvironmentConfig struct {
	AccountID      string   `yaml:"account_id"`
	Region         string   `yaml:"region"`
	Namespace      string   `yaml:"namespace"`
	ProdNamespace  string   `yaml:"prod_namespace"`
	SigningProfile string   `yaml:"signing_profile"`
	PublicImages   []string `yaml:"public_images"`
}

// ScheduleConfig describes the default trigger.
type ScheduleConfig struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	TimeZone   string `yaml:"time_zone"`
	Enabled    bool   `yaml:"enabled"`
	Input      string `yaml:"input"`

	// MaxAttempts counts retries of execution creation after the first
	// try, the way the managed scheduler counted them.
	MaxAttempts int           `yaml:"max_attempts"`
	MaxEventAge time.Duration `yaml:"max_event_age"`
}

// RetryConfig is the retry policy applied to both task states.
type RetryConfig struct {
	Classes      []string      `yaml:"classes"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseInterval time.Duration `yaml:"base_interval"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxInterval  time.Duration `yaml:"max_interval"`
}

// TasksConfig points the task states at their implementations.
type TasksConfig struct {
	Pull TaskEndpoint `yaml:"pull"`
	Sign TaskEndpoint `yaml:"sign"`

	// RateLimit caps task invocations per second across all executions.
	// Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// TaskEndpoint is an HTTP task implementation. An empty URL selects the
// built-in dry-run task.
type TaskEndpoint struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig selects the execution log backend.
type StoreConfig struct {
	// Driver is one of "memory", "postgres", "bun" or "redis".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Prefix namespaces redis keys.
	Prefix string `yaml:"prefix"`
}

// APIConfig configures the query HTTP surface.
type APIConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables rotated file output in addition to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`

	// Audit writes one structured record per lifecycle event.
	Audit bool `yaml:"audit"`
}

// DefaultConfig returns the configuration of the reference deployment:
// daily at 09:00 Pacific, a 12 minute scan wait, three attempts per task.
func DefaultConfig() Config {
	return Config{
		Schedule: ScheduleConfig{
			Name:        "image-signer-daily",
			Expression:  "cron(0 9 * * *)",
			TimeZone:    "America/Los_Angeles",
			Enabled:     true,
			Input:       "{}",
			MaxAttempts: 185,
			MaxEventAge: 24 * time.Hour,
		},
		Retry: RetryConfig{
			Classes:      []string{"service-unavailable", "throttled", "transient-client-error"},
			MaxAttempts:  3,
			BaseInterval: 1 * time.Second,
			Multiplier:   2,
		},
		Wait: 720 * time.Second,
		Tasks: TasksConfig{
			Pull: TaskEndpoint{Timeout: 5 * time.Minute},
			Sign: TaskEndpoint{Timeout: 5 * time.Minute},
		},
		Store: StoreConfig{
			Driver: "memory",
			Prefix: "imagesigner:",
		},
		API: APIConfig{Address: ":8080"},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Audit:      true,
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

// LoadConfig starts from DefaultConfig, overlays the YAML file at path (if
// path is non-empty) and then the environment, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("ingestion: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("ingestion: parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays EX_* (task environment) and IMAGESIGNER_* (process)
// variables onto c. Unset variables leave the field untouched.
func (c *Config) ApplyEnv() error {
	env := &c.Environment
	env.AccountID = getEnv("EX_ACCOUNT_ID", env.AccountID)
	env.Region = getEnv("EX_REGION", env.Region)
	env.Namespace = getEnv("EX_NAMESPACE", env.Namespace)
	env.ProdNamespace = getEnv("EX_PROD_NAMESPACE", env.ProdNamespace)
	env.SigningProfile = getEnv("EX_SIGNER_PROFILE", env.SigningProfile)
	if v := os.Getenv("EX_PUBLIC_IMAGES"); v != "" {
		env.PublicImages = splitList(v)
	}

	c.Schedule.Expression = getEnv("IMAGESIGNER_SCHEDULE", c.Schedule.Expression)
	c.Schedule.TimeZone = getEnv("IMAGESIGNER_TIME_ZONE", c.Schedule.TimeZone)
	c.Tasks.Pull.URL = getEnv("IMAGESIGNER_PULL_URL", c.Tasks.Pull.URL)
	c.Tasks.Sign.URL = getEnv("IMAGESIGNER_SIGN_URL", c.Tasks.Sign.URL)
	c.Store.Driver = getEnv("IMAGESIGNER_STORE", c.Store.Driver)
	c.Store.DSN = getEnv("IMAGESIGNER_STORE_DSN", c.Store.DSN)
	c.API.Address = getEnv("IMAGESIGNER_API_ADDRESS", c.API.Address)
	c.Logging.Level = getEnv("IMAGESIGNER_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("IMAGESIGNER_LOG_FORMAT", c.Logging.Format)
	c.Logging.File = getEnv("IMAGESIGNER_LOG_FILE", c.Logging.File)

	var err error
	if c.Schedule.Enabled, err = parseEnvBool("IMAGESIGNER_SCHEDULE_ENABLED", c.Schedule.Enabled); err != nil {
		return err
	}
	if c.Wait, err = parseEnvDuration("IMAGESIGNER_WAIT_SECONDS", c.Wait); err != nil {
		return err
	}
	if c.Retry.MaxAttempts, err = parseEnvInt("IMAGESIGNER_RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts); err != nil {
		return err
	}
	if c.Logging.Audit, err = parseEnvBool("IMAGESIGNER_AUDIT", c.Logging.Audit); err != nil {
		return err
	}
	return nil
}

// Validate reports the first problem with c, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Schedule.Expression == "" {
		return invalid("schedule expression cannot be empty")
	}
	if c.Schedule.MaxAttempts < 0 {
		return invalid("schedule max attempts must be >= 0")
	}
	if c.Schedule.MaxEventAge < 0 {
		return invalid("schedule max event age must be >= 0")
	}
	if c.Retry.MaxAttempts < 1 {
		return invalid("retry max attempts must be >= 1")
	}
	if c.Retry.BaseInterval < 0 {
		return invalid("retry base interval must be >= 0")
	}
	if c.Retry.Multiplier < 1 {
		return invalid("retry multiplier must be >= 1")
	}
	if c.Wait < 0 {
		return invalid("wait must be >= 0")
	}
	if c.Tasks.RateLimit < 0 {
		return invalid("task rate limit must be >= 0")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres", "bun", "redis":
		if c.Store.DSN == "" {
			return invalid("store dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return invalid("unsupported store driver %q", c.Store.Driver)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("unsupported log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return invalid("unsupported log format %q", c.Logging.Format)
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer number of seconds: %w", key, err)
	}
	if seconds < 0 {
		return 0, fmt.Errorf("%s must be >= 0 seconds", key)
	}
	return time.Duration(seconds) * time.Second, nil
}

func parseEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return out, nil
}

func parseEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return parsed, nil
}
