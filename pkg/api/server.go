// Package api exposes the service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/webtest-runner/pkg/logger"
	"github.com/devicelab-dev/webtest-runner/pkg/metrics"
	"github.com/devicelab-dev/webtest-runner/pkg/service"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
const ShutdownTimeout = 10 * time.Second

// NewHandler builds the HTTP routes for svc.
func NewHandler(svc *service.Service) http.Handler {
	h := &handlers{svc: svc}
	mux := http.NewServeMux()

	route := func(pattern, name string, fn http.HandlerFunc) {
		mux.Handle(pattern, metrics.Middleware(name, fn))
	}

	route("POST /api/tests", "create_test", h.createTest)
	route("GET /api/tests", "list_tests", h.listTests)
	route("GET /api/tests/{id}", "get_test", h.getTest)
	route("PUT /api/tests/{id}", "update_test", h.updateTest)
	route("POST /api/tests/{id}/copy", "copy_test", h.copyTest)
	route("POST /api/tests/{id}/execute", "execute_test", h.executeTest)
	route("GET /api/tests/{id}/runs", "list_test_runs", h.listTestRuns)

	route("POST /api/batches", "execute_batch", h.executeBatch)
	route("GET /api/batches/{id}", "batch_status", h.batchStatus)
	route("POST /api/batches/{id}/cancel", "cancel_batch", h.cancelBatch)
	route("DELETE /api/batches/{id}", "delete_batch", h.deleteBatch)

	route("GET /api/test-runs/{id}", "get_test_run", h.getTestRun)
	route("POST /api/test-runs/{id}/cancel", "cancel_test_run", h.cancelTestRun)
	route("DELETE /api/test-runs/{id}", "delete_test_run", h.deleteTestRun)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
			logger.Error("Failed to write health check response: %v", err)
		}
	})
	mux.Handle("GET /metrics", metrics.Handler())

	return requestIDMiddleware(mux)
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting on %s", addr)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server...")
		sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			logger.Error("HTTP server shutdown error: %v", err)
			return err
		}
		logger.Info("HTTP server shutdown complete")
		return nil
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error: %v", err)
			return err
		}
		return nil
	}
}

// requestIDMiddleware echoes or assigns an X-Request-Id.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r)
	})
}
