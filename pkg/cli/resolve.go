package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/webtest-runner/pkg/resolver"
)

var resolveCommand = &cli.Command{
	Name:  "resolve",
	Usage: "Dry-run deterministic resolution of one instruction",
	Description: `Resolve an instruction against the element registry without a browser.
Prints the action it maps to, or why it could not be mapped.

Examples:
  webtest-runner -r registry.yaml resolve --app shop --instruction "click the submit button"
  webtest-runner -r registry.yaml resolve --app shop --screen login \
      --instruction "enter {{user}} into username" -e user=alice`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "app",
			Usage:    "Application id in the registry",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "instruction",
			Aliases:  []string{"i"},
			Usage:    "Instruction text",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "screen",
			Usage: "Screen hint",
		},
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Variables (KEY=VALUE)",
		},
	},
	Action: runResolve,
}

func runResolve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Registry == "" {
		return fmt.Errorf("an element registry is required (--registry or registry in config)")
	}
	catalog, err := loadCatalog(c.Context, cfg.Registry)
	if err != nil {
		return err
	}
	if _, ok := catalog.Snapshot().App(c.String("app")); !ok {
		return fmt.Errorf("app %q not found in %s", c.String("app"), cfg.Registry)
	}

	vars := mergeEnv(cfg.Env, parseEnvVars(c.StringSlice("env")))
	res := resolver.New(catalog).Resolve(c.Context, resolver.Request{
		Instruction: c.String("instruction"),
		AppID:       c.String("app"),
		ScreenHint:  c.String("screen"),
		Variables:   vars,
	})

	out := c.App.Writer
	switch r := res.(type) {
	case resolver.Resolved:
		fmt.Fprintf(out, "%s✓%s %s\n", color(colorGreen), color(colorReset), r.Action.Describe())
		fmt.Fprintf(out, "  type:     %s\n", r.Action.Type)
		if r.Action.Selector != "" {
			fmt.Fprintf(out, "  selector: %s\n", r.Action.Selector)
		}
		if r.Action.Value != "" {
			fmt.Fprintf(out, "  value:    %s\n", r.Action.Value)
		}
		if r.Element != "" {
			fmt.Fprintf(out, "  element:  %s\n", r.Element)
		}
		return nil
	case resolver.Unresolved:
		fmt.Fprintf(out, "%s✗%s %s\n", color(colorRed), color(colorReset), r)
		if len(r.Candidates) > 0 {
			cands := append([]string(nil), r.Candidates...)
			sort.Strings(cands)
			fmt.Fprintf(out, "  candidates: %s\n", strings.Join(cands, ", "))
		}
		return fmt.Errorf("instruction not resolved: %s", r.Reason)
	}
	return nil
}
