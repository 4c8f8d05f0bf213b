package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/webtest-runner/pkg/api"
	"github.com/devicelab-dev/webtest-runner/pkg/logger"
	"github.com/devicelab-dev/webtest-runner/pkg/metrics"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the HTTP service",
	Description: `Start the HTTP API backed by the configured store, element registry,
browser driver and fallback interpreter.

The server shuts down gracefully on SIGINT/SIGTERM: in-flight requests are
drained, running test runs are cancelled between steps and their terminal
status is recorded.

Examples:
  webtest-runner serve
  webtest-runner --config config.yaml serve --addr :9090
  WEBTEST_DB_DRIVER=memory webtest-runner --driver mock serve`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "Listen address (default: server.addr from config, :8080)",
		},
	},
	Action: runServe,
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	if err := initLogging(c, cfg, ""); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logger: %v\n", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := metrics.InitTracer(cfg.Tracing, "webtest-runner")
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), api.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown: %v", err)
		}
	}()

	s, err := buildStack(ctx, cfg, stackOptions{driverName: c.String("driver")})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), api.ShutdownTimeout)
		defer cancel()
		if err := s.Close(sctx); err != nil {
			logger.Error("shutdown: %v", err)
		}
	}()

	logger.Info("=== webtest-runner %s serving ===", Version)
	logger.Info("Store: %s, driver: %s, pool: %d, policy: %s",
		cfg.Database.Driver, c.String("driver"), cfg.Execution.PoolSize, cfg.Execution.AggregatePolicy)
	fmt.Printf("webtest-runner %s listening on %s\n", Version, cfg.Server.Addr)

	return api.Serve(ctx, cfg.Server.Addr, api.NewHandler(s.service))
}
