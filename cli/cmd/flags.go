// Package cmd provides CLI commands for the coalesce binary.
package cmd

import (
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/coalesce/cli/config"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitRuntimeError = 1
	exitConfigError  = 2
)

// Shared flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables the Bubble Tea progress view (merge only).
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show an interactive progress view (merge only)",
	}

	// ConfigFlag points at a coalesce.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to coalesce.yaml",
		EnvVars: []string{"COALESCE_CONFIG"},
	}
)

// OutputFlags returns the flags shared by commands that render a result.
// Includes --tui so that unsupported commands can give an explicit error
// instead of a generic "flag not defined".
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// loadConfig reads --config if set. A missing flag yields an empty config.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// resolveString returns the flag value if set on the command line,
// otherwise fallback.
func resolveString(c *cli.Context, name, fallback string) string {
	if c.IsSet(name) || fallback == "" {
		return c.String(name)
	}
	return fallback
}

func resolveInt(c *cli.Context, name string, fallback int) int {
	if c.IsSet(name) || fallback == 0 {
		return c.Int(name)
	}
	return fallback
}

func resolveInt64(c *cli.Context, name string, fallback int64) int64 {
	if c.IsSet(name) || fallback == 0 {
		return c.Int64(name)
	}
	return fallback
}

func resolveDuration(c *cli.Context, name string, fallback time.Duration) time.Duration {
	if c.IsSet(name) || fallback == 0 {
		return c.Duration(name)
	}
	return fallback
}

func resolveBool(c *cli.Context, name string, fallback bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fallback
}

// isStderrTTY reports whether stderr is a terminal.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
