package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/config"
	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/report"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Steps slower than this are highlighted.
const slowThresholdMs = 5000

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// printStep prints one recorded step.
func printStep(out io.Writer, r model.StepResult) {
	num := 0
	if r.StepNumber != nil {
		num = *r.StepNumber
	}
	desc := fmt.Sprintf("%d. %s", num, r.Instruction)
	durStr := formatDuration(r.DurationMs)

	switch r.Status {
	case core.StepPassed:
		symbol, symbolColor, durColor := "✓", color(colorGreen), ""
		if r.DurationMs >= slowThresholdMs {
			symbolColor, durColor = color(colorYellow), color(colorYellow)
		}
		fmt.Fprintf(out, "    %s%s%s %s %s(%s)%s\n",
			symbolColor, symbol, color(colorReset), desc, durColor, durStr, color(colorReset))
	case core.StepWarned:
		fmt.Fprintf(out, "    %s⚠%s %s (%s)\n", color(colorYellow), color(colorReset), desc, durStr)
		if r.Message != "" {
			fmt.Fprintf(out, "      %s╰─%s %s\n", color(colorGray), color(colorReset), r.Message)
		}
	default:
		fmt.Fprintf(out, "    %s✗%s %s (%s)\n", color(colorRed), color(colorReset), desc, durStr)
		if r.Message != "" {
			fmt.Fprintf(out, "      %s╰─%s %s\n", color(colorGray), color(colorReset), r.Message)
		}
	}
}

// printSummary prints the step totals and a per-test table.
func printSummary(out io.Writer, r report.Report) {
	s := r.Summary.Steps
	var total int64
	if r.EndTime != nil {
		total = r.EndTime.Sub(r.StartTime).Milliseconds()
	}

	fmt.Fprintln(out)
	if s.Passed > 0 {
		fmt.Fprintf(out, "  %s%d steps passing%s (%s)\n", color(colorGreen), s.Passed, color(colorReset), formatDuration(total))
	}
	if s.Failed > 0 {
		fmt.Fprintf(out, "  %s%d steps failing%s\n", color(colorRed), s.Failed, color(colorReset))
	}
	if s.Warned > 0 {
		fmt.Fprintf(out, "  %s%d optional steps failed%s\n", color(colorYellow), s.Warned, color(colorReset))
	}
	fmt.Fprintln(out)

	tableWidth := 92
	fmt.Fprintln(out, strings.Repeat("═", tableWidth))
	fmt.Fprintf(out, "  %-42s %6s %7s %6s %6s %6s %10s\n", "Test", "Status", "Steps", "Pass", "Fail", "Warn", "Duration")
	fmt.Fprintln(out, strings.Repeat("─", tableWidth))

	for _, t := range r.Tests {
		var status, statusColor string
		switch t.Status {
		case core.RunPassed:
			status, statusColor = "✓ PASS", color(colorGreen)
		case core.RunFailed:
			status, statusColor = "✗ FAIL", color(colorRed)
		default:
			status, statusColor = "- SKIP", color(colorCyan)
		}

		var pass, fail, warn int
		for _, st := range t.Steps {
			switch st.Status {
			case core.StepPassed:
				pass++
			case core.StepWarned:
				warn++
			case core.StepFailed:
				fail++
			}
		}
		var dur int64
		if t.Duration != nil {
			dur = *t.Duration
		}

		// Truncate name if too long
		name := t.Name
		if len(name) > 42 {
			name = name[:39] + "..."
		}
		fmt.Fprintf(out, "  %-42s %s%6s%s %7d %6d %6d %6d %10s\n",
			name, statusColor, status, color(colorReset),
			len(t.Steps), pass, fail, warn, formatDuration(dur))
	}

	fmt.Fprintln(out, strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", r.Summary.Passed, r.Summary.Total)
	statusColor := color(colorGreen)
	if r.Summary.Failed > 0 {
		statusColor = color(colorRed)
	}
	fmt.Fprintf(out, "  %s%-42s%s %s%6s%s %7d %6d %6d %6d %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		statusColor, statusStr, color(colorReset),
		s.Total, s.Passed, s.Failed, s.Warned, formatDuration(total))
	fmt.Fprintln(out, strings.Repeat("═", tableWidth))
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}

// mergeEnv returns base overlaid with overrides.
func mergeEnv(base, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// resolveOutputDir determines the output directory based on flags.
// - No --output: <home>/reports/<timestamp>/
// - --output given: <output>/<timestamp>/
// - --output + --flatten: <output>/ (error if --output not given)
func resolveOutputDir(output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = config.GetReportsDir()
	}

	if flatten {
		return filepath.Clean(baseDir), nil
	}

	// Create timestamp-based subfolder
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(baseDir, timestamp), nil
}
