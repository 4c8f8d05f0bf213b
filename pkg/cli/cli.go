// Package cli provides the command-line interface for webtest-runner.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to config.yaml (default: ./config.yaml or ./config.yml if present)",
		EnvVars: []string{"WEBTEST_CONFIG"},
	},
	&cli.StringSliceFlag{
		Name:  "env-file",
		Usage: "Dotenv files loaded before WEBTEST_* overrides (existing variables win)",
		Value: cli.NewStringSlice(".env"),
	},
	&cli.StringFlag{
		Name:    "registry",
		Aliases: []string{"r"},
		Usage:   "Element registry YAML file",
	},
	&cli.StringFlag{
		Name:    "driver",
		Aliases: []string{"d"},
		Usage:   "Browser driver to use (chrome, mock)",
		Value:   "chrome",
		EnvVars: []string{"WEBTEST_DRIVER"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose logging",
		EnvVars: []string{"WEBTEST_VERBOSE"},
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level (debug, info, warn, error)",
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "webtest-runner",
		Usage:   "Natural-language UI test runner for web applications",
		Version: Version,
		Description: `webtest-runner resolves natural-language test steps against an element
registry and executes them in a real browser.

Examples:
  webtest-runner serve --config config.yaml
  webtest-runner run login.yaml
  webtest-runner run tests/ -e USER=test --include-tags smoke
  webtest-runner resolve --app shop --instruction "click the submit button"`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			return nil
		},
		Commands: []*cli.Command{
			serveCommand,
			runCommand,
			resolveCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
