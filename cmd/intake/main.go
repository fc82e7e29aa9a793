// The intake command serves the batch-submission HTTP surface:
// POST /predict/batch, the job/image read endpoints, the
// annotate and metrics mutators, and the two websocket upgrades.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GermaMirn/LineGuard-AI/internal/annotator"
	"github.com/GermaMirn/LineGuard-AI/internal/blobgw"
	"github.com/GermaMirn/LineGuard-AI/internal/config"
	"github.com/GermaMirn/LineGuard-AI/internal/httpapi"
	"github.com/GermaMirn/LineGuard-AI/internal/hub"
	"github.com/GermaMirn/LineGuard-AI/internal/metrics"
	"github.com/GermaMirn/LineGuard-AI/internal/queue"
	"github.com/GermaMirn/LineGuard-AI/internal/sklog"
	"github.com/GermaMirn/LineGuard-AI/internal/taskstore"
)

var (
	port     = flag.String("port", ":8000", "HTTP service address (e.g., ':8000')")
	promPort = flag.String("prom_port", ":20010", "Metrics service address (e.g., ':20010')")
	local    = flag.Bool("local", false, "Running locally if true. As opposed to in production.")
)

func main() {
	flag.Parse()
	level := slog.LevelInfo
	if *local {
		level = slog.LevelDebug
	}
	sklog.Init("analysis-intake", level)

	cfg, err := config.Load()
	if err != nil {
		sklog.Fatalf("load config: %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := taskstore.New(ctx, cfg.AnalysisDatabaseURL)
	if err != nil {
		sklog.Fatalf("connect task store: %s", err)
	}
	defer store.Close()

	q, err := queue.Connect(ctx, cfg.RabbitMQURL, cfg.QueueName, cfg.UpdatesExchange)
	if err != nil {
		sklog.Fatalf("connect queue: %s", err)
	}
	defer q.Close()

	h := hub.New()
	go func() {
		if err := h.Run(ctx, q); err != nil && ctx.Err() == nil {
			sklog.Errorf("progress hub consumer stopped: %s", err)
		}
	}()

	api := &httpapi.API{
		Store:     store,
		Blob:      blobgw.New(cfg.FilesServiceURL),
		Annotator: annotator.New(cfg.AnnotationServiceURL),
		Queue:     q,
		Hub:       h,
		Config:    cfg,
	}

	metricsSrv := metrics.Serve(*promPort)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	srv := &http.Server{Addr: *port, Handler: httpapi.NewRouter(api)}
	go func() {
		sklog.Infof("intake API listening on %s", *port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sklog.Fatalf("intake API server: %s", err)
		}
	}()

	<-ctx.Done()
	sklog.Infof("shutting down intake API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sklog.Errorf("intake API shutdown: %s", err)
	}
}
