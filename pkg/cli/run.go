package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/webtest-runner/pkg/config"
	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/executor"
	"github.com/devicelab-dev/webtest-runner/pkg/logger"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/report"
	"github.com/devicelab-dev/webtest-runner/pkg/service"
	"github.com/devicelab-dev/webtest-runner/pkg/validator"
)

// localProject owns the tests created by the run command.
const localProject = "local"

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run test definition files once",
	ArgsUsage: "<test-file-or-folder>...",
	Description: `Run one or more YAML test definitions in a browser with an in-memory store.
Every definition is validated before anything runs.

Reports are generated in the output directory:
  - Default: <home>/reports/<timestamp>/ (home: $WEBTEST_RUNNER_HOME or the working directory)
  - With --output: <output>/<timestamp>/
  - With --output and --flatten: <output>/ (no timestamp subfolder)

Examples:
  webtest-runner run login.yaml
  webtest-runner run tests/ -e USER=test -e PASS=secret
  webtest-runner run tests/ --include-tags smoke --parallel
  webtest-runner run tests/ --environment staging --output ./my-reports --flatten`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "env",
			Aliases: []string{"e"},
			Usage:   "Variables available to every step (KEY=VALUE)",
		},
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include tests with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude tests with these tags",
		},
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory for reports (default: <home>/reports)",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder (requires --output)",
		},
		&cli.BoolFlag{
			Name:  "parallel",
			Usage: "Run tests concurrently, bounded by execution.poolSize",
		},
		&cli.StringFlag{
			Name:  "environment",
			Usage: "Named environment from config (default: origin of each test URL)",
		},
		&cli.StringFlag{
			Name:  "browser",
			Usage: "Browser to run in (default: execution.browser from config)",
		},
		&cli.BoolFlag{
			Name:  "headless",
			Usage: "Run the browser headless",
			Value: true,
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "Run name shown in the report",
		},
	},
	Action: runTests,
}

func runTests(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("at least one test file or folder is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("include-tags") {
		cfg.IncludeTags = c.StringSlice("include-tags")
	}
	if c.IsSet("exclude-tags") {
		cfg.ExcludeTags = c.StringSlice("exclude-tags")
	}
	if c.IsSet("headless") {
		headless := c.Bool("headless")
		cfg.Execution.Headless = &headless
	}
	if b := c.String("browser"); b != "" {
		cfg.Execution.Browser = b
	}

	outputDir, err := resolveOutputDir(c.String("output"), c.Bool("flatten"))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := initLogging(c, cfg, filepath.Join(outputDir, "webtest-runner.log")); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "Warning: failed to initialize logger: %v\n", err)
	}
	defer logger.Close()
	if cfg.Blobs.Dir == "" {
		cfg.Blobs.Dir = filepath.Join(outputDir, "screenshots")
	}

	logger.Info("=== Test execution started ===")
	logger.Info("Output directory: %s", outputDir)

	defs, files, err := loadDefinitions(c.Args().Slice(), cfg, c.App.ErrWriter)
	if err != nil {
		return err
	}

	runName := c.String("name")
	if runName == "" {
		runName = "run " + time.Now().Format("2006-01-02 15:04:05")
	}
	return executeRun(c.Context, cfg, runOptions{
		driver:      c.String("driver"),
		parallel:    c.Bool("parallel"),
		environment: c.String("environment"),
		name:        runName,
		outputDir:   outputDir,
		vars:        mergeEnv(cfg.Env, parseEnvVars(c.StringSlice("env"))),
		out:         c.App.Writer,
	}, defs, files)
}

// loadDefinitions validates every path upfront so all problems are reported together.
func loadDefinitions(paths []string, cfg *config.Config, errOut io.Writer) ([]*validator.Definition, []string, error) {
	v := validator.New(cfg.IncludeTags, cfg.ExcludeTags)
	var (
		defs     []*validator.Definition
		files    []string
		problems int
	)
	for _, p := range paths {
		res := v.Validate(p)
		for _, err := range res.Errors {
			fmt.Fprintf(errOut, "  %s✗%s %v\n", color(colorRed), color(colorReset), err)
		}
		problems += len(res.Errors)
		defs = append(defs, res.Definitions...)
		files = append(files, res.Files...)
	}
	if problems > 0 {
		return nil, nil, fmt.Errorf("%d validation error(s)", problems)
	}
	if len(defs) == 0 {
		return nil, nil, fmt.Errorf("no test definitions found (check paths and tag filters)")
	}
	return defs, files, nil
}

type runOptions struct {
	driver      string
	parallel    bool
	environment string
	name        string
	outputDir   string
	vars        map[string]string
	out         io.Writer
}

// executeRun saves the definitions, runs them as one batch and writes the report.
func executeRun(ctx context.Context, cfg *config.Config, opts runOptions, defs []*validator.Definition, files []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := newProgress(opts.out, opts.parallel, len(defs))
	s, err := buildStack(ctx, cfg, stackOptions{
		driverName: opts.driver,
		memory:     true,
		engine: executor.Config{
			Variables:      opts.vars,
			OnRunStart:     p.onRunStart,
			OnStepComplete: p.onStepComplete,
			OnRunEnd:       p.onRunEnd,
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Close(sctx); err != nil {
			logger.Warn("shutdown: %v", err)
		}
	}()

	rep := &report.Report{
		Name: opts.name,
		Runner: report.RunnerInfo{
			Version:     Version,
			Driver:      opts.driver,
			Environment: opts.environment,
			BaseURL:     cfg.Environments[opts.environment],
		},
	}
	ids := make([]string, len(defs))
	for i, d := range defs {
		t, err := s.service.CreateTest(ctx, localCaller, d.Test(localProject))
		if err != nil {
			return fmt.Errorf("%s: %w", files[i], err)
		}
		ids[i] = t.ID
		p.register(t.ID, d.Name, files[i])
		rep.Tests = append(rep.Tests, report.TestEntry{TestID: t.ID, Name: d.Name, SourceFile: files[i]})
	}

	w, err := report.NewWriter(opts.outputDir, rep)
	if err != nil {
		return err
	}
	defer w.Close()
	p.attach(w)
	w.Start()

	done := make(chan core.RunStatus, 1)
	s.batches.OnBatchEnd = func(_ string, status core.RunStatus) { done <- status }

	run, err := s.service.ExecuteBatch(ctx, localCaller, service.ExecuteBatchRequest{
		ProjectID:   localProject,
		TestIDs:     ids,
		Parallel:    opts.parallel,
		RunName:     opts.name,
		Environment: opts.environment,
	})
	if err != nil {
		w.End(core.RunFailed)
		return err
	}

	var status core.RunStatus
	select {
	case status = <-done:
	case <-ctx.Done():
		fmt.Fprintln(opts.out, "\n  Interrupted, cancelling...")
		if err := s.service.CancelRun(context.Background(), localCaller, run.ID); err != nil {
			logger.Warn("cancel run %s: %v", run.ID, err)
		}
		status = <-done
	}

	w.End(status)
	printSummary(opts.out, w.Report())
	fmt.Fprintf(opts.out, "\n  Report: %s\n", w.Path())

	if status != core.RunPassed {
		sum := w.Report().Summary
		return fmt.Errorf("run %s: %d of %d test(s) failed", status, sum.Failed, sum.Total)
	}
	return nil
}

// progress prints live step output and feeds the report writer. In parallel
// mode each test's lines are buffered and printed as one block when it ends.
type progress struct {
	mu       sync.Mutex
	out      io.Writer
	parallel bool
	total    int
	started  int
	writer   *report.Writer
	tests    map[string]testInfo      // by test id
	runs     map[string]string        // test run id -> test id
	buffers  map[string]*bytes.Buffer // by test run id
}

type testInfo struct {
	name string
	file string
}

func newProgress(out io.Writer, parallel bool, total int) *progress {
	return &progress{
		out:      out,
		parallel: parallel,
		total:    total,
		tests:    make(map[string]testInfo),
		runs:     make(map[string]string),
		buffers:  make(map[string]*bytes.Buffer),
	}
}

func (p *progress) register(testID, name, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tests[testID] = testInfo{name: name, file: file}
}

func (p *progress) attach(w *report.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writer = w
}

// sink returns where lines for testRunID go. Callers hold p.mu.
func (p *progress) sink(testRunID string) io.Writer {
	if !p.parallel {
		return p.out
	}
	b, ok := p.buffers[testRunID]
	if !ok {
		b = &bytes.Buffer{}
		p.buffers[testRunID] = b
	}
	return b
}

func (p *progress) onRunStart(testRunID, testID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.runs[testRunID] = testID
	p.started++
	info := p.tests[testID]
	out := p.sink(testRunID)
	fmt.Fprintf(out, "\n  %s[%d/%d]%s %s%s%s (%s)\n",
		color(colorCyan), p.started, p.total, color(colorReset),
		color(colorBold), info.name, color(colorReset), info.file)
	fmt.Fprintln(out, strings.Repeat("─", 60))
	if p.writer != nil {
		p.writer.StartTest(testID, testRunID)
	}
}

func (p *progress) onStepComplete(testRunID string, r model.StepResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	printStep(p.sink(testRunID), r)
	if p.writer != nil {
		p.writer.AddStep(testRunID, r)
	}
}

func (p *progress) onRunEnd(testRunID string, status core.RunStatus, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.sink(testRunID)
	name := p.tests[p.runs[testRunID]].name
	if status == core.RunPassed {
		fmt.Fprintf(out, "  %s✓ %s%s\n", color(colorGreen), color(colorReset), name)
	} else {
		fmt.Fprintf(out, "  %s✗ %s%s %s%s%s\n", color(colorRed), color(colorReset), name, color(colorGray), message, color(colorReset))
	}
	if b, ok := p.buffers[testRunID]; ok {
		_, _ = p.out.Write(b.Bytes())
		delete(p.buffers, testRunID)
	}
	if p.writer != nil {
		p.writer.EndTest(testRunID, status, message)
	}
}
