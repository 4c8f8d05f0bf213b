package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/devicelab-dev/webtest-runner/pkg/config"
	"github.com/devicelab-dev/webtest-runner/pkg/model"
)

func defaultTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Registry = testRegistry
	return cfg
}

func TestBuildStack_SQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := defaultTestConfig()
	cfg.Database.DSN = filepath.Join(dir, "db", "webtest.db")
	cfg.Blobs.Dir = filepath.Join(dir, "shots")

	ctx := context.Background()
	s, err := buildStack(ctx, cfg, stackOptions{driverName: "mock"})
	if err != nil {
		t.Fatalf("buildStack() error = %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.Close(sctx); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	created, err := s.service.CreateTest(ctx, localCaller, &model.Test{
		ProjectID: "p1",
		Name:      "Login",
		URL:       "https://shop.example.com/login",
		Steps:     []model.TestStep{{Instruction: "click the submit button"}},
	})
	if err != nil {
		t.Fatalf("CreateTest() error = %v", err)
	}
	if created.AppID != "shop" || created.Steps[0].Selector != "#submit" {
		t.Errorf("created = %+v", created)
	}
}

func TestBuildStack_InvalidConfig(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Execution.AggregatePolicy = "lenient"
	if _, err := buildStack(context.Background(), cfg, stackOptions{driverName: "mock", memory: true}); err == nil {
		t.Error("expected invalid config error")
	}

	cfg = defaultTestConfig()
	cfg.Registry = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := buildStack(context.Background(), cfg, stackOptions{driverName: "mock", memory: true}); err == nil {
		t.Error("expected registry load error")
	}
}

func TestNewInterpreter(t *testing.T) {
	cfg := config.Default()
	if newInterpreter(cfg) != nil {
		t.Error("no URL should disable the interpreter")
	}
	cfg.Interpreter.URL = "http://localhost:9000/interpret"
	if newInterpreter(cfg) == nil {
		t.Error("expected an interpreter client")
	}
}
