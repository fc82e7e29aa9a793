// The hub command serves the websocket progress fan-out: it
// is split from the intake process so UI subscriber load never competes
// with the submission path's rate limit or blocking multipart reads. It
// shares the same progress exchange as cmd/intake's embedded hub; running
// both is supported since the exchange's transient per-subscriber queues
// mean every bound consumer gets its own copy of each event.
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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/GermaMirn/LineGuard-AI/internal/config"
	"github.com/GermaMirn/LineGuard-AI/internal/hub"
	"github.com/GermaMirn/LineGuard-AI/internal/metrics"
	"github.com/GermaMirn/LineGuard-AI/internal/queue"
	"github.com/GermaMirn/LineGuard-AI/internal/sklog"
)

func parseJobID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

var (
	port     = flag.String("port", ":8001", "HTTP service address (e.g., ':8001')")
	promPort = flag.String("prom_port", ":20012", "Metrics service address (e.g., ':20012')")
	local    = flag.Bool("local", false, "Running locally if true. As opposed to in production.")
)

func main() {
	flag.Parse()
	level := slog.LevelInfo
	if *local {
		level = slog.LevelDebug
	}
	sklog.Init("analysis-hub", level)

	cfg, err := config.Load()
	if err != nil {
		sklog.Fatalf("load config: %s", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	metricsSrv := metrics.Serve(*promPort)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/ws/tasks/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, err := parseJobID(req)
		if err != nil {
			http.Error(w, "invalid job id", http.StatusBadRequest)
			return
		}
		hub.ServeJobWS(h, id, w, req)
	})
	r.Get("/ws/history", func(w http.ResponseWriter, req *http.Request) {
		hub.ServeHistoryWS(h, w, req)
	})

	srv := &http.Server{Addr: *port, Handler: r}
	go func() {
		sklog.Infof("progress hub listening on %s", *port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sklog.Fatalf("hub server: %s", err)
		}
	}()

	<-ctx.Done()
	sklog.Infof("shutting down progress hub")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sklog.Errorf("hub shutdown: %s", err)
	}
}
