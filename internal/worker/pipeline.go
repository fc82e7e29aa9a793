package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/GermaMirn/LineGuard-AI/internal/archive"
	"github.com/GermaMirn/LineGuard-AI/internal/blobgw"
	"github.com/GermaMirn/LineGuard-AI/internal/metrics"
	"github.com/GermaMirn/LineGuard-AI/internal/model"
	"github.com/GermaMirn/LineGuard-AI/internal/render"
)

var (
	imagesCompleted = metrics.GetCounter("analysis_worker_images_completed", nil)
	imagesFailed    = metrics.GetCounter("analysis_worker_images_failed", nil)
	defectsFound    = metrics.GetCounter("analysis_worker_defects_found", nil)
)

// candidate is one completed image held back for possible preview
// promotion: its annotated bytes alongside the row identity needed to
// mark it as a preview afterward.
type candidate struct {
	imageID uuid.UUID
	stem    string
	jpeg    []byte
}

// pipeline carries one job's running state through preparation, the
// preview pass, the bulk pass, preview promotion, and archive upload.
type pipeline struct {
	w     *Worker
	jobID uuid.UUID
	log   *slog.Logger

	job          *model.Job
	threshold    float64
	previewLimit int

	processed       int
	failed          int
	defects         int
	totalDetections int
	statistics      map[string]int

	defectiveCandidates []candidate
	normalCandidates    []candidate

	out *archive.Output
}

func (p *pipeline) run(ctx context.Context, msg model.WorkMessage) error {
	job, err := p.w.Store.GetJob(ctx, p.jobID)
	if err != nil {
		return err
	}

	if job.Status == model.StatusProcessing {
		// This message is a redelivery of a job already being worked;
		// another delivery is (or was) in flight for it. Accepting it
		// again would double-process the same files, so it is
		// rejected rather than resumed.
		status := model.StatusFailed
		msg := "rejected duplicate delivery of an in-flight job"
		return p.w.Store.UpdateJobProgress(ctx, p.jobID, model.JobProgressUpdate{
			Status: &status, Message: &msg,
		})
	}
	if job.IsTerminal() {
		// Already finished; a late redelivery after completion is a
		// no-op.
		return nil
	}

	p.job = job
	p.threshold = msg.ConfidenceThreshold
	if p.threshold == 0 {
		p.threshold = job.ConfidenceThreshold
	}
	p.previewLimit = job.PreviewLimit
	if msg.PreviewLimit > 0 {
		p.previewLimit = msg.PreviewLimit
	}
	p.statistics = map[string]int{}

	processing := model.StatusProcessing
	if err := p.w.Store.UpdateJobProgress(ctx, p.jobID, model.JobProgressUpdate{Status: &processing}); err != nil {
		return err
	}

	var entries []archive.Entry
	if job.StagingArchiveBlobID != nil {
		data, err := p.w.Blob.Download(ctx, *job.StagingArchiveBlobID)
		if err != nil {
			return p.abort(ctx, fmt.Sprintf("download staging archive: %v", err))
		}
		entries, err = archive.Unpack(data)
		if err != nil {
			return p.abort(ctx, fmt.Sprintf("unpack staging archive: %v", err))
		}
	}

	// The rows created at intake are the preview subset. They are not
	// flagged is_preview yet (that happens at promotion, after a result
	// blob exists), so they are loaded as the job's current image rows
	// rather than through the preview projection.
	previewImages, _, err := p.w.Store.GetImages(ctx, p.jobID, 0, intakeRowsPageSize)
	if err != nil {
		return err
	}
	if len(previewImages) == 0 && len(entries) == 0 {
		return p.abort(ctx, "no files to process")
	}

	out, err := archive.NewOutput()
	if err != nil {
		return err
	}
	p.out = out
	defer p.out.Remove()

	p.runPreviewPass(ctx, previewImages)
	p.runBulkPass(ctx, entries)
	p.promotePreviews(ctx)
	p.uploadResultsArchive(ctx)

	if job.StagingArchiveBlobID != nil {
		if _, err := p.w.Blob.Delete(ctx, *job.StagingArchiveBlobID, true); err != nil {
			p.log.Warn("staging archive cleanup failed", "err", err.Error())
		}
	}

	return p.finish(ctx)
}

// abort marks the job Failed without running any of the passes, for
// preparation-time failures (a missing/corrupt staging archive, or
// nothing to process at all).
func (p *pipeline) abort(ctx context.Context, message string) error {
	status := model.StatusFailed
	p.publish(ctx, &status, message)
	return nil
}

// finish determines the terminal status from the final failed count and
// publishes the terminal event: any failed image fails the whole job,
// even though the results archive (and whatever annotated outputs did
// succeed) is still attached and downloadable.
func (p *pipeline) finish(ctx context.Context) error {
	status := model.StatusCompleted
	message := ""
	if p.failed > 0 {
		status = model.StatusFailed
		message = "Task completed with errors"
	}
	p.publish(ctx, &status, message)
	return nil
}

func (p *pipeline) runPreviewPass(ctx context.Context, previewImages []model.Image) {
	if len(previewImages) == 0 {
		return
	}
	ids := make([]uuid.UUID, len(previewImages))
	for i, img := range previewImages {
		ids[i] = img.OriginalBlobID
	}
	downloaded, err := p.w.Blob.BatchDownload(ctx, ids)
	if err != nil {
		for _, img := range previewImages {
			p.markFailed(ctx, img.ID, "batch download of preview originals failed: "+err.Error())
		}
		return
	}
	byID := make(map[uuid.UUID]blobgw.BatchDownloaded, len(downloaded))
	for _, d := range downloaded {
		byID[d.ID] = d
	}
	for _, img := range previewImages {
		d, ok := byID[img.OriginalBlobID]
		if !ok {
			p.markFailed(ctx, img.ID, "original blob missing from batch download response")
			continue
		}
		p.processImage(ctx, img.ID, img.FileName, d.Bytes)
	}
}

func (p *pipeline) runBulkPass(ctx context.Context, entries []archive.Entry) {
	for start := 0; start < len(entries); start += bulkChunkSize {
		end := start + bulkChunkSize
		if end > len(entries) {
			end = len(entries)
		}
		p.processBulkChunk(ctx, entries[start:end])
	}
}

// processBulkChunk uploads one chunk of unpacked entries as originals,
// creates their image rows, and runs each through the detector. A
// transport failure on the batch upload itself fails the whole chunk
// without creating any rows for it, since no blob ids exist to create
// rows with.
func (p *pipeline) processBulkChunk(ctx context.Context, entries []archive.Entry) {
	uploads := make([]blobgw.Upload, len(entries))
	for i, e := range entries {
		uploads[i] = blobgw.Upload{Bytes: e.Data, Name: e.Name, ContentType: "application/octet-stream"}
	}
	results, err := p.w.Blob.BatchUpload(ctx, uploads, p.jobID, blobgw.FileTypeOriginal)
	if err != nil {
		for range entries {
			p.failed++
			imagesFailed.Inc()
			p.afterCompletion(ctx)
		}
		return
	}

	// Successful refs are matched back to entries by the file name the
	// blob service echoes, since per-item failures shift any positional
	// alignment. Duplicate names pair up in order.
	pending := make(map[string][]int, len(entries))
	for i, e := range entries {
		pending[e.Name] = append(pending[e.Name], i)
	}

	var inputs []model.NewImageInput
	var data [][]byte
	accounted := 0
	for _, r := range results {
		accounted++
		if r.Ref == nil {
			p.failed++
			imagesFailed.Inc()
			p.afterCompletion(ctx)
			continue
		}
		idxs := pending[r.Ref.Name]
		if len(idxs) == 0 {
			p.log.Error("batch upload returned a file name not in the chunk", "name", r.Ref.Name)
			p.failed++
			imagesFailed.Inc()
			p.afterCompletion(ctx)
			continue
		}
		i := idxs[0]
		pending[r.Ref.Name] = idxs[1:]
		inputs = append(inputs, model.NewImageInput{BlobID: r.Ref.ID, FileName: entries[i].Name, FileSize: entries[i].Size})
		data = append(data, entries[i].Data)
	}
	for i := accounted; i < len(entries); i++ {
		p.failed++
		imagesFailed.Inc()
		p.afterCompletion(ctx)
	}
	if len(inputs) == 0 {
		return
	}

	rows, err := p.w.Store.AddImages(ctx, p.jobID, inputs)
	if err != nil {
		for range inputs {
			p.failed++
			imagesFailed.Inc()
			p.afterCompletion(ctx)
		}
		return
	}
	for i, row := range rows {
		p.processImage(ctx, row.ID, row.FileName, data[i])
	}
}

// processImage runs one image through detection, annotation, and
// archiving, and records it as a preview candidate once detection and
// annotation have succeeded. Errors from the image-row status updates are
// not checked.
func (p *pipeline) processImage(ctx context.Context, imageID uuid.UUID, fileName string, data []byte) {
	processing := model.StatusProcessing
	_ = p.w.Store.UpdateImage(ctx, imageID, model.ImageUpdate{Status: &processing})

	result, err := p.w.Detector.Predict(ctx, fileName, data, "application/octet-stream", p.threshold)
	if err != nil {
		p.markFailed(ctx, imageID, err.Error())
		return
	}
	annotated, err := render.Annotate(data, result.Detections)
	if err != nil {
		p.markFailed(ctx, imageID, err.Error())
		return
	}

	st := stem(fileName)
	if result.HasDefects {
		if err := p.out.AddDefective(st, annotated); err != nil {
			p.log.Error("write defective entry to output archive", "image_id", imageID.String(), "err", err.Error())
		}
	} else if err := p.out.AddNormal(st, annotated); err != nil {
		p.log.Error("write normal entry to output archive", "image_id", imageID.String(), "err", err.Error())
	}

	summary := result.ToSummary()
	completed := model.StatusCompleted
	_ = p.w.Store.UpdateImage(ctx, imageID, model.ImageUpdate{Status: &completed, Summary: summary})

	p.processed++
	p.defects += summary.DefectsCount
	p.totalDetections += summary.TotalObjects
	imagesCompleted.Inc()
	if summary.DefectsCount > 0 {
		defectsFound.Inc(int64(summary.DefectsCount))
	}
	for class, n := range summary.Statistics {
		p.statistics[class] += n
	}

	cand := candidate{imageID: imageID, stem: st, jpeg: annotated}
	if result.HasDefects {
		p.defectiveCandidates = append(p.defectiveCandidates, cand)
	} else {
		p.normalCandidates = append(p.normalCandidates, cand)
	}

	p.afterCompletion(ctx)
}

func (p *pipeline) markFailed(ctx context.Context, imageID uuid.UUID, message string) {
	status := model.StatusFailed
	_ = p.w.Store.UpdateImage(ctx, imageID, model.ImageUpdate{Status: &status, Error: &message})
	p.failed++
	imagesFailed.Inc()
	p.afterCompletion(ctx)
}

// afterCompletion runs the progress-publish cadence: the very first
// completion and every 100th completion thereafter publish an
// intermediate, non-terminal progress event.
func (p *pipeline) afterCompletion(ctx context.Context) {
	completions := p.processed + p.failed
	if completions == 1 || completions%cadenceEvery == 0 {
		p.publish(ctx, nil, "")
	}
}

// publish persists the running counters to the job row and fans a
// progress event out over the queue. status nil leaves the job's status
// untouched and reports it as still Processing to subscribers.
func (p *pipeline) publish(ctx context.Context, status *model.Status, message string) {
	upd := model.JobProgressUpdate{Processed: &p.processed, Failed: &p.failed, Defects: &p.defects}
	if status != nil {
		upd.Status = status
	}
	if message != "" {
		upd.Message = &message
	}
	if err := p.w.Store.UpdateJobProgress(ctx, p.jobID, upd); err != nil {
		p.log.Error("persist job progress", "err", err.Error())
	}

	evtStatus := model.StatusProcessing
	if status != nil {
		evtStatus = *status
	}
	evt := model.ProgressEvent{
		JobID:     p.jobID,
		Status:    evtStatus,
		Processed: p.processed,
		Total:     p.job.TotalFiles,
		Failed:    p.failed,
		Defects:   p.defects,
		Message:   message,
	}
	if err := p.w.Queue.PublishProgress(ctx, evt); err != nil {
		p.log.Warn("publish progress event", "err", err.Error())
	}
}

// promotePreviews picks up to previewLimit finished images for the
// job-detail preview list, defective candidates first, then fills any
// remaining slots with normal ones, uploading each as a PREVIEW blob and
// flagging its row.
func (p *pipeline) promotePreviews(ctx context.Context) {
	if p.previewLimit <= 0 {
		return
	}
	var finalists []candidate
	for _, c := range p.defectiveCandidates {
		if len(finalists) >= p.previewLimit {
			break
		}
		finalists = append(finalists, c)
	}
	for _, c := range p.normalCandidates {
		if len(finalists) >= p.previewLimit {
			break
		}
		finalists = append(finalists, c)
	}

	for _, c := range finalists {
		ref, err := p.w.Blob.Upload(ctx, blobgw.Upload{
			Bytes:       c.jpeg,
			Name:        c.stem + "_annotated.jpg",
			ContentType: "image/jpeg",
		}, p.jobID, blobgw.FileTypePreview)
		if err != nil {
			p.log.Error("upload preview blob", "image_id", c.imageID.String(), "err", err.Error())
			continue
		}
		isPreview := true
		if err := p.w.Store.UpdateImage(ctx, c.imageID, model.ImageUpdate{
			IsPreview: &isPreview, ResultBlobID: &ref.ID,
		}); err != nil {
			p.log.Error("mark image row as preview", "image_id", c.imageID.String(), "err", err.Error())
		}
	}
}

// uploadResultsArchive finalizes the streaming output ZIP, uploads it as
// the job's results archive, and attaches per-class percentage metadata.
func (p *pipeline) uploadResultsArchive(ctx context.Context) {
	file, err := p.out.Finish()
	if err != nil {
		p.log.Error("finalize output archive", "err", err.Error())
		return
	}
	defer file.Close()

	body, err := io.ReadAll(file)
	if err != nil {
		p.log.Error("read output archive", "err", err.Error())
		return
	}

	archUpd := model.JobArchiveUpdate{
		Metadata: map[string]any{
			"class_counts":      p.statistics,
			"class_percentages": render.Percentages(p.statistics, p.totalDetections),
			"total_objects":     p.totalDetections,
		},
	}
	ref, err := p.w.Blob.Upload(ctx, blobgw.Upload{
		Bytes: body, Name: "results.zip", ContentType: "application/zip",
	}, p.jobID, blobgw.FileTypeAnalysisArchive)
	if err != nil {
		p.log.Error("upload results archive", "err", err.Error())
	} else {
		archUpd.ResultsArchiveBlobID = &ref.ID
	}

	if err := p.w.Store.SetJobArchives(ctx, p.jobID, archUpd); err != nil {
		p.log.Error("persist results archive metadata", "err", err.Error())
	}
}
