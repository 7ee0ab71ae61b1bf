package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/pkgplan/internal/app"
	"github.com/vk/pkgplan/internal/config"
	"github.com/vk/pkgplan/internal/report"
	"github.com/vk/pkgplan/internal/resolveerr"
)

// Exit codes.
const (
	ExitFailure  = 1
	ExitUsage    = 2
	ExitConflict = 3
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// stringList is a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Parse processes command-line arguments. Values from env are used as flag
// defaults. It returns a populated Config, a boolean indicating if the
// program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer, env config.Env) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("pkgplan", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
pkgplan - resolve package requirements into a reproducible build plan.

Usage:
  pkgplan [options] REFERENCE...

Arguments:
  REFERENCE
    A root requirement such as "zlib/1.2.11@conan/stable" or "zlib/[>=1.2 <2.0]".

Options:
`)
		flagSet.PrintDefaults()
	}

	var recipes, remotes stringList
	flagSet.Var(&recipes, "recipes", "Recipe file or directory. Repeatable. Defaults to 'recipes'.")
	flagSet.Var(&remotes, "remote", "Remote recipe directory, consulted after local recipes. Repeatable.")
	profileFlag := flagSet.String("profile", env.Profile, "Path to an HCL profile.")
	schemaFlag := flagSet.String("schema", "", "Path to an HCL settings schema. The built-in schema is used when empty.")
	lockfileFlag := flagSet.String("lockfile", env.Lockfile, "Write the resolved graph to this lockfile.")
	lockedFlag := flagSet.String("locked", "", "Reproduce the resolution recorded in this lockfile.")
	buildFlag := flagSet.Bool("build", false, "Execute the build plan after resolving it.")
	cacheDirFlag := flagSet.String("cache-dir", env.CacheDir, "Binary cache directory. An in-memory cache is used when empty.")
	eventsURLFlag := flagSet.String("events-url", env.EventsURL, "Socket.IO server receiving node state events.")
	workersFlag := flagSet.Int("workers", env.Workers, "Number of concurrent builds per level. 0 uses the profile value.")
	failFastFlag := flagSet.Bool("fail-fast", false, "Stop the build at the first failure.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", orDefault(env.LogFormat, "text"), "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", orDefault(env.LogLevel, "info"), "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if flagSet.NArg() == 0 {
		slog.Debug("No requirements provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}
	if len(recipes) == 0 {
		recipes = stringList{"recipes"}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: ExitUsage, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: ExitUsage, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	cfg, err := app.NewConfig(app.Config{
		RecipePaths:     recipes,
		RemotePaths:     remotes,
		Requires:        flagSet.Args(),
		ProfilePath:     *profileFlag,
		SchemaPath:      *schemaFlag,
		LockfilePath:    *lockfileFlag,
		LockedPath:      *lockedFlag,
		Build:           *buildFlag,
		CacheDir:        *cacheDirFlag,
		EventsURL:       *eventsURLFlag,
		Workers:         *workersFlag,
		FailFast:        *failFastFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		HealthcheckPort: *healthPortFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", cfg)
	return cfg, false, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Classify turns a run error into an ExitError carrying the rendered
// diagnostics. Conflicts get their own exit code.
func Classify(err error) *ExitError {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	code := ExitFailure
	var conflict *resolveerr.ConflictError
	if errors.As(err, &conflict) {
		code = ExitConflict
	}
	return &ExitError{Code: code, Message: report.Format(err)}
}
