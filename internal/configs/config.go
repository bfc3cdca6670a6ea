package configs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kerrors "github.com/PolarWolf314/aclsync/internal/errors"
	"github.com/google/uuid"
)

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

type Config struct {
	Engine EngineConfig `toml:"engine"`
	Store  StoreConfig  `toml:"store"`
	Actor  ActorConfig  `toml:"actor"`
	Sweep  SweepConfig  `toml:"sweep"`
	Audit  AuditConfig  `toml:"audit"`
}

type EngineConfig struct {
	FanOut               int      `toml:"fan_out"`
	MinKeyBits           int      `toml:"min_key_bits"`
	AllowedAlgorithms    []string `toml:"allowed_algorithms"`
	ValidateAfterPersist bool     `toml:"validate_after_persist"`
}

type StoreConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

type ActorConfig struct {
	UserID         string `toml:"user_id"`
	PrivateKeyPath string `toml:"private_key_path"`
}

type SweepConfig struct {
	// Interval is a Go duration string such as "15m".
	Interval    string `toml:"interval"`
	MetricsAddr string `toml:"metrics_addr"`
}

type AuditConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns the configuration used for keys absent from config.toml.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			FanOut:               8,
			MinKeyBits:           2048,
			AllowedAlgorithms:    []string{"RSA"},
			ValidateAfterPersist: true,
		},
		Store: StoreConfig{Driver: DriverFile},
		Sweep: SweepConfig{Interval: "15m", MetricsAddr: ":9464"},
		Audit: AuditConfig{Enabled: true},
	}
}

// ConfigPath returns the path of config.toml under the project root.
func ConfigPath(projectPath string) string {
	return filepath.Join(projectPath, StateDirName, "config.toml")
}

// Load reads and validates the project configuration. A missing file yields
// the defaults, which fail validation until an actor is configured.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config: %w", err)
		}
	} else if err := LoadTOML(path, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path.
func Save(path string, cfg *Config) error {
	if err := SaveTOML(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Engine.FanOut < 1 {
		return fmt.Errorf("%w: engine.fan_out must be at least 1, got %d", kerrors.ErrInvalidConfig, c.Engine.FanOut)
	}
	if c.Engine.MinKeyBits < 1024 {
		return fmt.Errorf("%w: engine.min_key_bits must be at least 1024, got %d", kerrors.ErrInvalidConfig, c.Engine.MinKeyBits)
	}
	if len(c.Engine.AllowedAlgorithms) == 0 {
		return fmt.Errorf("%w: engine.allowed_algorithms is empty", kerrors.ErrInvalidConfig)
	}

	switch c.Store.Driver {
	case DriverFile:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn is required for the postgres driver", kerrors.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store.driver %q", kerrors.ErrInvalidConfig, c.Store.Driver)
	}

	if err := uuid.Validate(c.Actor.UserID); err != nil {
		return fmt.Errorf("%w: actor.user_id %q is not a UUID", kerrors.ErrInvalidConfig, c.Actor.UserID)
	}

	if _, err := c.SweepInterval(); err != nil {
		return err
	}
	return nil
}

// SweepInterval parses sweep.interval.
func (c *Config) SweepInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Sweep.Interval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: sweep.interval %q is not a positive duration", kerrors.ErrInvalidConfig, c.Sweep.Interval)
	}
	return d, nil
}

// PrivateKeyPath resolves the actor's private key, expanding a leading ~ and
// falling back to the user keys directory.
func (c *Config) PrivateKeyPath() string {
	p := c.Actor.PrivateKeyPath
	if p == "" {
		return filepath.Join(UserAclsyncSettings.UserKeysPath, c.Actor.UserID+".pem")
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
