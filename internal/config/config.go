// Package config loads the run configuration that does not come from the
// command line: the HCL profile and PKGPLAN_* environment overrides, which
// may also be kept in a .env file.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by LoadEnv.
const EnvPrefix = "PKGPLAN_"

// Env holds the environment overrides. Zero values mean unset.
type Env struct {
	LogLevel  string
	LogFormat string
	Workers   int
	CacheDir  string
	EventsURL string
	Profile   string
	Lockfile  string
}

// LoadEnv reads the PKGPLAN_* variables. Values from the process
// environment win over values found in the given .env files; missing .env
// files are skipped.
func LoadEnv(ctx context.Context, dotenvPaths ...string) (Env, error) {
	fileVals := make(map[string]string)
	for _, p := range dotenvPaths {
		vals, err := godotenv.Read(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Env{}, fmt.Errorf("config: %s: %w", p, err)
		}
		for k, v := range vals {
			if _, seen := fileVals[k]; !seen {
				fileVals[k] = v
			}
		}
	}

	lookup := func(name string) string {
		key := EnvPrefix + name
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(fileVals[key])
	}

	env := Env{
		LogLevel:  lookup("LOG_LEVEL"),
		LogFormat: lookup("LOG_FORMAT"),
		CacheDir:  lookup("CACHE_DIR"),
		EventsURL: lookup("EVENTS_URL"),
		Profile:   lookup("PROFILE"),
		Lockfile:  lookup("LOCKFILE"),
	}
	if w := lookup("WORKERS"); w != "" {
		n, err := strconv.Atoi(w)
		if err != nil || n < 1 {
			return Env{}, fmt.Errorf("config: %sWORKERS must be a positive integer, got %q", EnvPrefix, w)
		}
		env.Workers = n
	}
	return env, nil
}
