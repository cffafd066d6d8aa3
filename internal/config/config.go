package config

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"

	"github.com/trialkey-service/internal/validation"
)

const (
	StoreDriverFile     = "file"
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	minAdminTokenLength = 16
)

var (
	defaultRequiredTasks = []string{"task1", "task2"}
	keyPrefixPattern     = regexp.MustCompile(`^[A-Z0-9]{1,16}$`)
)

type Config struct {
	Port              int      `env:"PORT,default=8080"`
	LogLevel          string   `env:"LOG_LEVEL,default=info"`
	LogFormat         string   `env:"LOG_FORMAT,default=json"`
	CORSOrigins       []string `env:"CORS_ORIGINS"`
	TrustProxyHeaders bool     `env:"TRUST_PROXY_HEADERS,default=false"`
	AdminToken        string   `env:"ADMIN_TOKEN,required"`

	StoreDriver string `env:"STORE_DRIVER,default=file"`
	DataFile    string `env:"DATA_FILE,default=data/keys.json"`
	DatabaseURL string `env:"DATABASE_URL"`

	KeyPrefix         string        `env:"KEY_PREFIX,default=FREE"`
	KeyValidity       time.Duration `env:"KEY_VALIDITY,default=24h"`
	TaskRecencyWindow time.Duration `env:"TASK_RECENCY_WINDOW,default=30m"`
	RequiredTasks     []string      `env:"REQUIRED_TASKS"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL,default=1h"`

	// Per-address limits
	GenerateRateLimit    int           `env:"GENERATE_RATE_LIMIT,default=1"`
	GenerateRateWindow   time.Duration `env:"GENERATE_RATE_WINDOW,default=24h"`
	ValidateRateLimit    int           `env:"VALIDATE_RATE_LIMIT,default=50"`
	ValidateRateWindow   time.Duration `env:"VALIDATE_RATE_WINDOW,default=15m"`
	GlobalRateLimit      int           `env:"GLOBAL_RATE_LIMIT,default=300"`
	AdminMaxAuthFailures int           `env:"ADMIN_MAX_AUTH_FAILURES,default=5"`

	// HTTP server timeouts
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
}

func Load() (*Config, error) {
	return LoadWith(context.Background(), envconfig.OsLookuper())
}

// LoadWith reads configuration from lookuper instead of the process
// environment.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if len(cfg.RequiredTasks) == 0 {
		cfg.RequiredTasks = defaultRequiredTasks
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL is not a valid level: %w", err)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("LOG_FORMAT must be 'json' or 'console', got %q", c.LogFormat)
	}

	if len(c.AdminToken) < minAdminTokenLength {
		return fmt.Errorf("ADMIN_TOKEN must be at least %d characters", minAdminTokenLength)
	}

	switch c.StoreDriver {
	case StoreDriverFile:
		if c.DataFile == "" {
			return fmt.Errorf("DATA_FILE is required when STORE_DRIVER=file")
		}
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of file, postgres, memory, got %q", c.StoreDriver)
	}

	if !keyPrefixPattern.MatchString(c.KeyPrefix) {
		return fmt.Errorf("KEY_PREFIX must be 1-16 uppercase letters or digits, got %q", c.KeyPrefix)
	}
	if c.KeyValidity <= 0 {
		return fmt.Errorf("KEY_VALIDITY must be positive")
	}
	if c.TaskRecencyWindow <= 0 {
		return fmt.Errorf("TASK_RECENCY_WINDOW must be positive")
	}
	if err := validation.RequiredTasks(c.RequiredTasks); err != nil {
		return fmt.Errorf("REQUIRED_TASKS: %w", err)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}

	if c.GenerateRateLimit < 1 || c.GenerateRateWindow <= 0 {
		return fmt.Errorf("GENERATE_RATE_LIMIT and GENERATE_RATE_WINDOW must be positive")
	}
	if c.ValidateRateLimit < 1 || c.ValidateRateWindow <= 0 {
		return fmt.Errorf("VALIDATE_RATE_LIMIT and VALIDATE_RATE_WINDOW must be positive")
	}
	if c.GlobalRateLimit < 0 {
		return fmt.Errorf("GLOBAL_RATE_LIMIT cannot be negative")
	}
	if c.AdminMaxAuthFailures < 1 {
		return fmt.Errorf("ADMIN_MAX_AUTH_FAILURES must be at least 1")
	}

	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
