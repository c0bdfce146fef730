// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. SK_ADDR
const Prefix = "SK"

// Browser backends
const (
	BackendLocal  = "local"
	BackendDocker = "docker"
)

// Config holds every runtime setting
type Config struct {
	Addr        string `envconfig:"ADDR" default:":5000"`
	DBPath      string `envconfig:"DB_PATH" default:"./storage/sessions.db"`
	ProfilesDir string `envconfig:"PROFILES_DIR" default:"./storage/profiles"`

	// Backend selects where browsers run: local or docker
	Backend        string        `envconfig:"BACKEND" default:"local"`
	Headless       bool          `envconfig:"HEADLESS" default:"false"`
	ChromePath     string        `envconfig:"CHROME_PATH"`
	DockerImage    string        `envconfig:"DOCKER_IMAGE" default:"browserless/chrome:latest"`
	StartupTimeout time.Duration `envconfig:"STARTUP_TIMEOUT" default:"30s"`
	OpTimeout      time.Duration `envconfig:"OP_TIMEOUT" default:"60s"`

	AccountRootURL    string        `envconfig:"ACCOUNT_ROOT_URL" default:"https://accounts.google.com/"`
	TargetURL         string        `envconfig:"TARGET_URL" default:"https://mail.google.com/"`
	LoginURL          string        `envconfig:"LOGIN_URL" default:"https://accounts.google.com/signup"`
	LoginWait         time.Duration `envconfig:"LOGIN_WAIT" default:"30s"`
	SimulatedFallback bool          `envconfig:"SIMULATED_FALLBACK" default:"true"`

	Retries    int           `envconfig:"RETRIES" default:"2"`
	RetryDelay time.Duration `envconfig:"RETRY_DELAY" default:"3s"`

	// GateURL is the credential check endpoint. Empty accepts any non-empty pair.
	GateURL       string `envconfig:"GATE_URL"`
	VerifyPerHour int    `envconfig:"VERIFY_PER_HOUR" default:"30"`
	VerifyBurst   int    `envconfig:"VERIFY_BURST" default:"5"`

	// TrustProxy honours X-Forwarded-For; set only behind a reverse proxy
	TrustProxy bool `envconfig:"TRUST_PROXY" default:"false"`

	Verbose bool `envconfig:"VERBOSE" default:"false"`
}

// Load reads envFile if it exists and then the environment. Variables that
// are already set win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLocal, BackendDocker:
	default:
		return fmt.Errorf("invalid backend %q: want %s or %s", c.Backend, BackendLocal, BackendDocker)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	if c.VerifyPerHour <= 0 {
		return fmt.Errorf("verify rate must be positive, got %d", c.VerifyPerHour)
	}
	if c.DBPath == "" {
		return errors.New("database path is required")
	}
	if c.ProfilesDir == "" {
		return errors.New("profiles directory is required")
	}
	return nil
}
