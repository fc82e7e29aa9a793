package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/GermaMirn/LineGuard-AI/internal/annotator"
	"github.com/GermaMirn/LineGuard-AI/internal/apperr"
	"github.com/GermaMirn/LineGuard-AI/internal/blobgw"
	"github.com/GermaMirn/LineGuard-AI/internal/hub"
	"github.com/GermaMirn/LineGuard-AI/internal/metrics"
	"github.com/GermaMirn/LineGuard-AI/internal/model"
	"github.com/GermaMirn/LineGuard-AI/internal/sklog"
)

var submitBatchRequests = metrics.GetCounter("analysis_intake_submit_batch_requests", nil)

const (
	defaultConfidence  = 0.35
	defaultPreviewCap  = 10
	maxRouteNameLength = 250
	maxHistoryLimit    = 100
	maxImagesLimit     = 500
)

// submitQuery is the validated query surface of POST /predict/batch.
type submitQuery struct {
	conf       float64
	previewCap int
	routeName  string
}

// parseSubmitQuery validates the submission query params. A non-empty
// msg means rejection with the returned HTTP status: out-of-range
// preview_limit is a 422, everything else a 400.
func parseSubmitQuery(r *http.Request, maxPreviewCap int) (submitQuery, int, string) {
	q := submitQuery{conf: defaultConfidence, previewCap: maxPreviewCap}
	if v := r.URL.Query().Get("conf"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return q, http.StatusBadRequest, "conf must be a number in [0,1]"
		}
		q.conf = f
	}
	if v := r.URL.Query().Get("preview_limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPreviewCap {
			return q, http.StatusUnprocessableEntity, fmt.Sprintf("preview_limit must be an integer in [1,%d]", maxPreviewCap)
		}
		q.previewCap = n
	}
	q.routeName = r.URL.Query().Get("route_name")
	if len(q.routeName) > maxRouteNameLength {
		return q, http.StatusBadRequest, "route_name exceeds 250 characters"
	}
	return q, 0, ""
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.UUID{}, apperr.New(apperr.KindValidation, "invalid "+name)
	}
	return id, nil
}

// handleSubmitBatch implements POST /predict/batch: it reads the
// multipart body part by part, holding each accepted file in memory,
// validates file count/size/extension as each part arrives, partitions
// the accepted set into preview and bulk files, and persists everything
// before publishing the work message.
func (a *API) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	submitBatchRequests.Inc()

	maxPreviewCap := a.Config.PreviewLimit
	if maxPreviewCap <= 0 {
		maxPreviewCap = defaultPreviewCap
	}
	q, status, msg := parseSubmitQuery(r, maxPreviewCap)
	if msg != "" {
		writeError(w, status, msg)
		return
	}
	conf, previewCap, routeName := q.conf, q.previewCap, q.routeName

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}

	var files []stagedFile
	var totalBytes int64
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() != "files" {
			part.Close()
			continue
		}
		name := part.FileName()
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
		if ext == "zip" || ext == "tar" || !allowedExtensions[ext] {
			part.Close()
			writeError(w, http.StatusBadRequest, "unsupported file extension: "+ext)
			return
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed reading uploaded file "+name)
			return
		}
		totalBytes += int64(len(data))
		if totalBytes > a.Config.MaxBatchSizeBytes {
			writeError(w, http.StatusBadRequest, "combined upload size exceeds the batch limit")
			return
		}
		files = append(files, stagedFile{name: name, data: data})
		if len(files) > a.Config.MaxBatchFiles {
			writeError(w, http.StatusBadRequest, "too many files in one batch")
			return
		}
	}
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "at least one file is required")
		return
	}

	job, err := a.Store.CreateJob(ctx, len(files), totalBytes, conf, previewCap, routeName)
	if err != nil {
		writeAPIErr(w, err)
		return
	}

	previewCount := a.Config.UploadPreviewLimit
	if previewCount > previewCap {
		previewCount = previewCap
	}
	if previewCount > len(files) {
		previewCount = len(files)
	}
	previewFiles, bulkFiles := files[:previewCount], files[previewCount:]

	if len(previewFiles) > 0 {
		uploads := make([]blobgw.Upload, len(previewFiles))
		for i, f := range previewFiles {
			uploads[i] = blobgw.Upload{Bytes: f.data, Name: f.name, ContentType: "application/octet-stream"}
		}
		results, err := a.Blob.BatchUpload(ctx, uploads, job.ID, blobgw.FileTypeOriginal)
		if err != nil {
			writeAPIErr(w, err)
			return
		}
		// Match refs back to files by the echoed file name: per-item
		// upload failures shift any positional alignment.
		pending := make(map[string][]int, len(previewFiles))
		for i, f := range previewFiles {
			pending[f.name] = append(pending[f.name], i)
		}
		var inputs []model.NewImageInput
		for _, res := range results {
			if res.Ref == nil {
				continue
			}
			idxs := pending[res.Ref.Name]
			if len(idxs) == 0 {
				continue
			}
			i := idxs[0]
			pending[res.Ref.Name] = idxs[1:]
			inputs = append(inputs, model.NewImageInput{
				BlobID: res.Ref.ID, FileName: previewFiles[i].name, FileSize: int64(len(previewFiles[i].data)),
			})
		}
		if _, err := a.Store.AddImages(ctx, job.ID, inputs); err != nil {
			writeAPIErr(w, err)
			return
		}
	}

	if len(bulkFiles) > 0 {
		zipBytes, err := buildStagingZip(bulkFiles)
		if err != nil {
			writeAPIErr(w, apperr.Wrap(apperr.KindInternal, "build staging archive", err))
			return
		}
		ref, err := a.Blob.Upload(ctx, blobgw.Upload{Bytes: zipBytes, Name: "staging.zip", ContentType: "application/zip"}, job.ID, blobgw.FileTypeOriginal)
		if err != nil {
			writeAPIErr(w, err)
			return
		}
		if err := a.Store.SetJobArchives(ctx, job.ID, model.JobArchiveUpdate{OriginalsArchiveBlobID: &ref.ID}); err != nil {
			writeAPIErr(w, err)
			return
		}
	}

	if err := a.Queue.PublishWork(ctx, model.WorkMessage{JobID: job.ID, ConfidenceThreshold: conf, PreviewLimit: previewCap}); err != nil {
		writeAPIErr(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"task_id": job.ID, "status": model.StatusQueued})
}

func (a *API) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	job, err := a.Store.GetJob(r.Context(), id)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobDTO(job))
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := maxHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1,100]")
			return
		}
		limit = n
	}
	jobs, err := a.Store.ListJobs(r.Context(), limit)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	out := make([]historyEntryDTO, len(jobs))
	for i := range jobs {
		out[i] = newHistoryEntryDTO(&jobs[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleListImages(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeAPIErr(w, err)
		return
	}

	skip, limit := 0, maxImagesLimit
	if v := r.URL.Query().Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "skip must be a non-negative integer")
			return
		}
		skip = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxImagesLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1,500]")
			return
		}
		limit = n
	}
	withThumbnails := r.URL.Query().Get("include_thumbnails") == "true"

	images, total, err := a.Store.GetImages(r.Context(), jobID, skip, limit)
	if err != nil {
		writeAPIErr(w, err)
		return
	}

	thumbs := map[uuid.UUID]string{}
	if withThumbnails && len(images) > 0 {
		ids := make([]uuid.UUID, 0, len(images))
		seen := map[uuid.UUID]bool{}
		for _, img := range images {
			id := img.OriginalBlobID
			if img.ResultBlobID != nil {
				id = *img.ResultBlobID
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		downloaded, err := a.Blob.BatchDownload(r.Context(), ids)
		if err != nil {
			sklog.Warningf("thumbnail batch download for job %s failed: %v", jobID, err)
		} else {
			byID := make(map[uuid.UUID][]byte, len(downloaded))
			for _, d := range downloaded {
				byID[d.ID] = d.Bytes
			}
			for _, img := range images {
				id := img.OriginalBlobID
				if img.ResultBlobID != nil {
					id = *img.ResultBlobID
				}
				data, ok := byID[id]
				if !ok {
					continue
				}
				thumb, err := makeThumbnail(data)
				if err != nil {
					sklog.Warningf("thumbnail generation for image %s failed: %v", img.ID, err)
					continue
				}
				thumbs[img.ID] = thumb
			}
		}
	}

	out := make([]imageDTO, len(images))
	for i, img := range images {
		out[i] = newImageDTO(&img, thumbs[img.ID])
	}
	writeJSON(w, http.StatusOK, map[string]any{"images": out, "total": total, "skip": skip, "limit": limit})
}

func (a *API) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	imageID, err := pathUUID(r, "image_id")
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	blobIDs, err := a.Store.DeleteImage(r.Context(), jobID, imageID)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	a.cleanupBlobs(r.Context(), blobIDs)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	blobIDs, err := a.Store.DeleteJob(r.Context(), jobID)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	a.cleanupBlobs(r.Context(), blobIDs)
	w.WriteHeader(http.StatusNoContent)
}

// cleanupBlobs best-effort deletes every blob id returned by a cascading
// delete; a failure here is logged, never surfaced to the caller, since
// the Task Store rows are already gone.
func (a *API) cleanupBlobs(ctx context.Context, ids []uuid.UUID) {
	for _, id := range ids {
		if _, err := a.Blob.Delete(ctx, id, true); err != nil {
			sklog.Warningf("cascade blob delete for %s failed: %v", id, err)
		}
	}
}

func (a *API) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	imageID, err := pathUUID(r, "iid")
	if err != nil {
		writeAPIErr(w, err)
		return
	}

	var body annotateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed annotate request body")
		return
	}

	img, err := a.Store.GetImage(r.Context(), imageID)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	if img.JobID != jobID {
		writeError(w, http.StatusNotFound, "image does not belong to task")
		return
	}

	target := img.OriginalBlobID
	if img.ResultBlobID != nil {
		target = *img.ResultBlobID
	}

	boxes := make([]annotator.Box, len(body.BBoxes))
	for i, b := range body.BBoxes {
		boxes[i] = annotator.Box{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height, Name: b.Name, IsDefect: b.IsDefect}
	}
	resp, err := a.Annotator.Annotate(r.Context(), target, boxes, body.ProjectID, body.FileType)
	if err != nil {
		writeAPIErr(w, err)
		return
	}

	manual := make([]model.ManualBox, len(body.BBoxes))
	for i, b := range body.BBoxes {
		manual[i] = b.toManualBox()
	}
	summary, err := a.Store.MergeImageSummary(r.Context(), imageID, func(s *model.Summary) {
		s.MergeManual(manual)
	})
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	if err := a.Store.UpdateImage(r.Context(), imageID, model.ImageUpdate{ResultBlobID: &resp.FileID}); err != nil {
		writeAPIErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "result_blob_id": resp.FileID})
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	imageID, err := pathUUID(r, "iid")
	if err != nil {
		writeAPIErr(w, err)
		return
	}

	var body metricsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed metrics request body")
		return
	}

	img, err := a.Store.GetImage(r.Context(), imageID)
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	if img.JobID != jobID {
		writeError(w, http.StatusNotFound, "image does not belong to task")
		return
	}

	summary, err := a.Store.MergeImageSummary(r.Context(), imageID, func(s *model.Summary) {
		s.ReplaceAll(body.Detections)
	})
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleWSJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeAPIErr(w, err)
		return
	}
	hub.ServeJobWS(a.Hub, jobID, w, r)
}

func (a *API) handleWSHistory(w http.ResponseWriter, r *http.Request) {
	hub.ServeHistoryWS(a.Hub, w, r)
}
