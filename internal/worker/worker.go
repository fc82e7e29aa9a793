// Package worker implements the per-job pipeline: the message-driven
// consumer that drives one job end-to-end through
// Queued -> Processing -> {Completed|Failed}, processing images one at a
// time since a single detector call occupies the whole detection slot.
package worker

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/GermaMirn/LineGuard-AI/internal/apperr"
	"github.com/GermaMirn/LineGuard-AI/internal/blobgw"
	"github.com/GermaMirn/LineGuard-AI/internal/detector"
	"github.com/GermaMirn/LineGuard-AI/internal/metrics"
	"github.com/GermaMirn/LineGuard-AI/internal/model"
	"github.com/GermaMirn/LineGuard-AI/internal/sklog"
)

var (
	jobsDequeued  = metrics.GetCounter("analysis_worker_jobs_dequeued", nil)
	jobsRedeliver = metrics.GetCounter("analysis_worker_jobs_nacked", nil)
)

// bulkChunkSize is the chunk size for the bulk pass.
const bulkChunkSize = 100

// cadenceEvery is the progress-publish cadence: after every 100
// successful or failed images.
const cadenceEvery = 100

// intakeRowsPageSize bounds the read of the rows created at intake; the
// intake API creates at most the preview cap (10) of them, so one
// maximum-size page always covers it.
const intakeRowsPageSize = 500

// Store is the subset of the Task Store the worker drives jobs through.
// taskstore.Store satisfies it; tests substitute an in-memory fake.
type Store interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*model.Job, error)
	GetImages(ctx context.Context, jobID uuid.UUID, skip, limit int) ([]model.Image, int, error)
	AddImages(ctx context.Context, jobID uuid.UUID, inputs []model.NewImageInput) ([]model.Image, error)
	UpdateJobProgress(ctx context.Context, jobID uuid.UUID, upd model.JobProgressUpdate) error
	UpdateImage(ctx context.Context, imageID uuid.UUID, upd model.ImageUpdate) error
	SetJobArchives(ctx context.Context, jobID uuid.UUID, upd model.JobArchiveUpdate) error
}

// Blob is the subset of the Blob Gateway the pipeline calls.
type Blob interface {
	Upload(ctx context.Context, u blobgw.Upload, projectID uuid.UUID, ft blobgw.FileType) (*blobgw.BlobRef, error)
	BatchUpload(ctx context.Context, uploads []blobgw.Upload, projectID uuid.UUID, ft blobgw.FileType) ([]blobgw.BatchResult, error)
	Download(ctx context.Context, id uuid.UUID) ([]byte, error)
	BatchDownload(ctx context.Context, ids []uuid.UUID) ([]blobgw.BatchDownloaded, error)
	Delete(ctx context.Context, id uuid.UUID, ignoreMissing bool) (bool, error)
}

// Detector is the detector gateway's Predict surface.
type Detector interface {
	Predict(ctx context.Context, name string, data []byte, contentType string, threshold float64) (*detector.Result, error)
}

// Broker is the queue surface the worker consumes from and publishes
// progress to. queue.Queue satisfies it.
type Broker interface {
	ConsumeWork(ctx context.Context, consumerTag string) (<-chan amqp.Delivery, error)
	PublishProgress(ctx context.Context, evt model.ProgressEvent) error
}

// Worker drives jobs dequeued from the work queue through the Queued ->
// Processing -> {Completed|Failed} state machine.
type Worker struct {
	Store    Store
	Blob     Blob
	Detector Detector
	Queue    Broker
}

// Run consumes the work queue with prefetch=1 (single-flight per
// message) until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, consumerTag string) error {
	deliveries, err := w.Queue.ConsumeWork(ctx, consumerTag)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handleDelivery(ctx, d)
		}
	}
}

func (w *Worker) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var msg model.WorkMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		sklog.Errorf("work message decode failed, dropping: %v", err)
		_ = d.Ack(false)
		return
	}

	log := sklog.With("job_id", msg.JobID.String())
	log.Info("dequeued job")
	jobsDequeued.Inc()

	if err := w.ProcessJob(ctx, msg); err != nil {
		if k := apperr.KindOf(err); k == apperr.KindUnavailable || k == apperr.KindStorageUnavailable || k == apperr.KindStorage {
			// Queue-level or Store failures: don't ack, let the
			// broker redeliver.
			log.Error("transient failure processing job, will redeliver", "err", err.Error())
			jobsRedeliver.Inc()
			_ = d.Nack(false, true)
			return
		}
		log.Error("job finished with non-retryable error", "err", err.Error())
	}
	_ = d.Ack(false)
}

// ProcessJob runs the full pipeline for one job. It is exported so tests
// (and callers wanting synchronous processing) can drive it directly
// without going through AMQP.
func (w *Worker) ProcessJob(ctx context.Context, msg model.WorkMessage) error {
	p := &pipeline{
		w:     w,
		jobID: msg.JobID,
		log:   sklog.With("job_id", msg.JobID.String()),
	}
	return p.run(ctx, msg)
}

func stem(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
		if name[i] == '/' {
			break
		}
	}
	return name
}
