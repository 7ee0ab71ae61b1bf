package app

import (
	"errors"
	"fmt"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// RecipePaths are local .hcl recipe files or directories.
	RecipePaths []string
	// RemotePaths are consulted after the local recipes.
	RemotePaths []string
	// Requires are the root requirements as reference text.
	Requires    []string
	ProfilePath string
	SchemaPath  string
	// LockfilePath receives the resolved graph when set.
	LockfilePath string
	// LockedPath is a lockfile whose references are applied as overrides.
	LockedPath string

	// Build executes the plan after resolving it.
	Build     bool
	CacheDir  string
	EventsURL string
	Workers   int
	FailFast  bool

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
}

// NewConfig validates cfg and returns a copy.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.RecipePaths) == 0 {
		return nil, errors.New("at least one recipe path is required")
	}
	if len(cfg.Requires) == 0 {
		return nil, errors.New("at least one requirement is required")
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}
	return &cfg, nil
}
