// Command shelterd runs the shelter adoption lifecycle service.
//
// Configuration is environment driven:
//
//	SHELTERD_ADDR: listen address (default :8080)
//	SHELTERD_STAFF_TOKEN: bearer token granting the staff capability
//	SHELTERCORE_STORAGE_DRIVER / SHELTERCORE_BLOB_DRIVER: backend selection
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sheltercore/internal/adapters/httpapi"
	"sheltercore/internal/adapters/reports"
	"sheltercore/internal/blob"
	"sheltercore/internal/core"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("shelterd: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := core.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(engine)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		return err
	}
	tracer := core.NewJSONTracer(os.Stdout)

	service := core.NewService(store,
		core.WithMetricsRecorder(metrics),
		core.WithTracer(tracer),
	)

	blobStore, err := blob.Open(ctx)
	if err != nil {
		return err
	}
	worker := reports.NewWorker(service, reports.NewBlobObjectStore(blobStore, ""), &reports.MemoryAuditLog{})
	worker.Start()

	api := httpapi.NewHandler(service)
	api.Exports = worker
	api.Staff = httpapi.HeaderStaffAuthorizer{Token: os.Getenv("SHELTERD_STAFF_TOKEN")}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", api)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := os.Getenv("SHELTERD_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("shelterd listening on %s (storage=%s blob=%s)", addr, os.Getenv("SHELTERCORE_STORAGE_DRIVER"), blobStore.Driver())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return worker.Stop(shutdownCtx)
}
