// The worker command consumes the analysis work queue and drives each
// dequeued job through its state machine. Scale is
// horizontal: run more instances of this command for more concurrent
// jobs, since each instance processes exactly one job message at a time
// (prefetch=1) and its image loop is sequential by design.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/GermaMirn/LineGuard-AI/internal/blobgw"
	"github.com/GermaMirn/LineGuard-AI/internal/config"
	"github.com/GermaMirn/LineGuard-AI/internal/detector"
	"github.com/GermaMirn/LineGuard-AI/internal/metrics"
	"github.com/GermaMirn/LineGuard-AI/internal/queue"
	"github.com/GermaMirn/LineGuard-AI/internal/sklog"
	"github.com/GermaMirn/LineGuard-AI/internal/taskstore"
	"github.com/GermaMirn/LineGuard-AI/internal/worker"
)

var (
	promPort = flag.String("prom_port", ":20011", "Metrics service address (e.g., ':20011')")
	local    = flag.Bool("local", false, "Running locally if true. As opposed to in production.")
)

func main() {
	flag.Parse()
	level := slog.LevelInfo
	if *local {
		level = slog.LevelDebug
	}
	sklog.Init("analysis-worker", level)

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

	metricsSrv := metrics.Serve(*promPort)
	defer metricsSrv.Close()

	w := &worker.Worker{
		Store:    store,
		Blob:     blobgw.New(cfg.FilesServiceURL),
		Detector: detector.NewWithLimit(cfg.YOLOv8ServiceURL, cfg.MaxYOLOFileSizeMB),
		Queue:    q,
	}

	consumerTag := "worker-" + uuid.NewString()
	sklog.Infof("starting worker %s on queue %q", consumerTag, cfg.QueueName)
	if err := w.Run(ctx, consumerTag); err != nil && ctx.Err() == nil {
		sklog.Fatalf("worker stopped: %s", err)
	}
	sklog.Infof("worker %s shut down", consumerTag)
}
