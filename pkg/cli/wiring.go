package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/webtest-runner/pkg/blob"
	"github.com/devicelab-dev/webtest-runner/pkg/config"
	"github.com/devicelab-dev/webtest-runner/pkg/core"
	"github.com/devicelab-dev/webtest-runner/pkg/driver/chrome"
	"github.com/devicelab-dev/webtest-runner/pkg/driver/mock"
	"github.com/devicelab-dev/webtest-runner/pkg/executor"
	"github.com/devicelab-dev/webtest-runner/pkg/interpreter"
	"github.com/devicelab-dev/webtest-runner/pkg/lifecycle"
	"github.com/devicelab-dev/webtest-runner/pkg/logger"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
	"github.com/devicelab-dev/webtest-runner/pkg/registry"
	"github.com/devicelab-dev/webtest-runner/pkg/resolver"
	"github.com/devicelab-dev/webtest-runner/pkg/service"
	"github.com/devicelab-dev/webtest-runner/pkg/store"
	"github.com/devicelab-dev/webtest-runner/pkg/store/memstore"
	"github.com/devicelab-dev/webtest-runner/pkg/store/sqlstore"
)

// loadConfig reads the config file, dotenv files and WEBTEST_* overrides,
// then applies the global flags on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadDotEnv(c.StringSlice("env-file")...); err != nil {
		return nil, err
	}

	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if c.IsSet("registry") {
		cfg.Registry = c.String("registry")
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

// initLogging sends logs to the configured file, to stderr with --verbose,
// or nowhere.
func initLogging(c *cli.Context, cfg *config.Config, defaultFile string) error {
	file := cfg.Log.File
	if file == "" {
		file = defaultFile
	}
	switch {
	case file != "":
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		if err := logger.Init(file); err != nil {
			return err
		}
	case c.Bool("verbose"):
		logger.InitWriter(os.Stderr, true)
	}
	return logger.SetLevel(cfg.Log.Level)
}

// stackOptions tweaks what buildStack assembles.
type stackOptions struct {
	driverName string
	memory     bool // Force the in-memory store
	engine     executor.Config
}

// stack is the wired set of components behind the commands.
type stack struct {
	cfg       *config.Config
	store     store.Store
	catalog   *registry.Catalog
	resolver  *resolver.Resolver
	scheduler *executor.Scheduler
	engine    *executor.Engine
	batches   *executor.Orchestrator
	lifecycle *lifecycle.Manager
	service   *service.Service
}

func buildStack(ctx context.Context, cfg *config.Config, opts stackOptions) (*stack, error) {
	if opts.memory {
		cfg.Database.Driver = config.DriverMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	policy, err := executor.ParsePolicy(cfg.Execution.AggregatePolicy)
	if err != nil {
		return nil, err
	}

	catalog, err := loadCatalog(ctx, cfg.Registry)
	if err != nil {
		return nil, err
	}
	driver, err := newDriver(opts.driverName, cfg)
	if err != nil {
		return nil, err
	}
	blobs, err := blob.NewDir(cfg.BlobDir(), cfg.Blobs.BaseURL)
	if err != nil {
		return nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	ecfg := opts.engine
	ecfg.ActionTimeout = cfg.Execution.ActionTimeout
	ecfg.OpenTimeout = cfg.Execution.OpenTimeout
	ecfg.DefaultBrowser = cfg.Execution.Browser
	ecfg.Environments = cfg.Environments
	if ecfg.Variables == nil {
		ecfg.Variables = cfg.Env
	}

	s := &stack{cfg: cfg, store: st, catalog: catalog}
	s.resolver = resolver.New(catalog)
	s.scheduler = executor.NewScheduler()
	s.engine = executor.NewEngine(st, driver, s.resolver, newInterpreter(cfg), blobs, s.scheduler, ecfg)
	s.batches = executor.NewOrchestrator(st, s.engine, s.scheduler, cfg.Execution.PoolSize, policy)
	s.lifecycle = lifecycle.New(st, blobs, s.resolver)
	s.service = service.New(st, catalog, s.lifecycle, s.engine, s.batches)
	return s, nil
}

// Close cancels outstanding work, waits for it within ctx and closes the store.
func (s *stack) Close(ctx context.Context) error {
	err := s.scheduler.Shutdown(ctx)
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		return memstore.New(), nil
	case config.DriverSQLite:
		dsn := cfg.DSN()
		if dir := filepath.Dir(dsn); !strings.HasPrefix(dsn, "file:") && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		return sqlstore.Open(config.DriverSQLite, dsn)
	default:
		return sqlstore.Open(cfg.Database.Driver, cfg.DSN())
	}
}

// loadCatalog loads the registry file. Without one every step goes through
// the fallback interpreter.
func loadCatalog(ctx context.Context, path string) (*registry.Catalog, error) {
	if path == "" {
		logger.Warn("no element registry configured; deterministic resolution is disabled")
		return registry.NewStaticCatalog(nil), nil
	}
	catalog := registry.NewCatalog(registry.FileSource{Path: path})
	if err := catalog.Reload(ctx); err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return catalog, nil
}

func newDriver(name string, cfg *config.Config) (core.Driver, error) {
	switch strings.ToLower(name) {
	case "", "chrome":
		if !chrome.Supported(cfg.Execution.Browser) {
			return nil, fmt.Errorf("browser %q is not supported by the chrome driver", cfg.Execution.Browser)
		}
		return chrome.New(chrome.Config{Headless: cfg.Execution.IsHeadless()}), nil
	case "mock":
		return mock.New(mock.Config{}), nil
	default:
		return nil, fmt.Errorf("unknown driver %q (supported: chrome, mock)", name)
	}
}

// newInterpreter returns nil when no endpoint is configured, which disables
// the fallback path.
func newInterpreter(cfg *config.Config) resolver.Interpreter {
	if cfg.Interpreter.URL == "" {
		return nil
	}
	return interpreter.NewClient(interpreter.Config{
		URL:     cfg.Interpreter.URL,
		APIKey:  cfg.Interpreter.APIKey,
		Timeout: cfg.Interpreter.Timeout,
	})
}

// localCaller is the identity used for operations started from the command line.
var localCaller = service.Caller{ID: "cli", Role: model.RoleSuperAdmin}
