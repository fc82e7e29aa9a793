package worker

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GermaMirn/LineGuard-AI/internal/archive"
	"github.com/GermaMirn/LineGuard-AI/internal/blobgw"
	"github.com/GermaMirn/LineGuard-AI/internal/detector"
	"github.com/GermaMirn/LineGuard-AI/internal/model"
)

func TestStem_StripsExtensionOnly(t *testing.T) {
	assert.Equal(t, "photo", stem("photo.jpg"))
	assert.Equal(t, "photo.v2", stem("photo.v2.png"))
	assert.Equal(t, "noext", stem("noext"))
	assert.Equal(t, "dir/photo", stem("dir/photo.jpg"))
}

// fakeStore is an in-memory Store tracking every mutation the pipeline
// makes.
type fakeStore struct {
	mu     sync.Mutex
	job    *model.Job
	images map[uuid.UUID]*model.Image
	order  []uuid.UUID
}

func newFakeStore(job *model.Job) *fakeStore {
	return &fakeStore{job: job, images: map[uuid.UUID]*model.Image{}}
}

func (s *fakeStore) addIntakeRow(name string, blobID uuid.UUID) *model.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	img := &model.Image{
		ID:             uuid.New(),
		JobID:          s.job.ID,
		OriginalBlobID: blobID,
		FileName:       name,
		Status:         model.StatusQueued,
		CreatedAt:      time.Now().UTC(),
	}
	s.images[img.ID] = img
	s.order = append(s.order, img.ID)
	return img
}

func (s *fakeStore) GetJob(_ context.Context, _ uuid.UUID) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.job
	return &cp, nil
}

func (s *fakeStore) GetImages(_ context.Context, _ uuid.UUID, skip, limit int) ([]model.Image, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Image
	for _, id := range s.order {
		out = append(out, *s.images[id])
	}
	total := len(out)
	if skip > total {
		skip = total
	}
	out = out[skip:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *fakeStore) AddImages(_ context.Context, jobID uuid.UUID, inputs []model.NewImageInput) ([]model.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Image
	for _, in := range inputs {
		img := &model.Image{
			ID:             uuid.New(),
			JobID:          jobID,
			OriginalBlobID: in.BlobID,
			FileName:       in.FileName,
			FileSize:       in.FileSize,
			Status:         model.StatusQueued,
			CreatedAt:      time.Now().UTC(),
		}
		s.images[img.ID] = img
		s.order = append(s.order, img.ID)
		out = append(out, *img)
	}
	return out, nil
}

func (s *fakeStore) UpdateJobProgress(_ context.Context, _ uuid.UUID, upd model.JobProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upd.Processed != nil {
		s.job.ProcessedFiles = *upd.Processed
	}
	if upd.Failed != nil {
		s.job.FailedFiles = *upd.Failed
	}
	if upd.Defects != nil {
		s.job.DefectsFound = *upd.Defects
	}
	if upd.Message != nil {
		s.job.Message = *upd.Message
	}
	if upd.Status != nil {
		s.job.Status = *upd.Status
		if *upd.Status == model.StatusCompleted || *upd.Status == model.StatusFailed {
			now := time.Now().UTC()
			s.job.CompletedAt = &now
		}
	}
	return nil
}

func (s *fakeStore) UpdateImage(_ context.Context, imageID uuid.UUID, upd model.ImageUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[imageID]
	if !ok {
		return fmt.Errorf("image %s not found", imageID)
	}
	if upd.Status != nil {
		img.Status = *upd.Status
	}
	if upd.Summary != nil {
		img.Summary = upd.Summary
	}
	if upd.IsPreview != nil {
		img.IsPreview = *upd.IsPreview
	}
	if upd.ResultBlobID != nil {
		img.ResultBlobID = upd.ResultBlobID
	}
	if upd.Error != nil {
		img.ErrorMessage = upd.Error
	}
	return nil
}

func (s *fakeStore) SetJobArchives(_ context.Context, _ uuid.UUID, upd model.JobArchiveUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upd.OriginalsArchiveBlobID != nil {
		s.job.StagingArchiveBlobID = upd.OriginalsArchiveBlobID
	}
	if upd.ResultsArchiveBlobID != nil {
		s.job.ResultsArchiveBlobID = upd.ResultsArchiveBlobID
	}
	if upd.Metadata != nil {
		s.job.Metadata = upd.Metadata
	}
	return nil
}

func (s *fakeStore) imageByName(name string) *model.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if s.images[id].FileName == name {
			cp := *s.images[id]
			return &cp
		}
	}
	return nil
}

// fakeBlob is an in-memory Blob gateway.
type fakeBlob struct {
	mu              sync.Mutex
	blobs           map[uuid.UUID][]byte
	names           map[uuid.UUID]string
	types           map[uuid.UUID]blobgw.FileType
	deleted         []uuid.UUID
	failBatchUpload bool
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{
		blobs: map[uuid.UUID][]byte{},
		names: map[uuid.UUID]string{},
		types: map[uuid.UUID]blobgw.FileType{},
	}
}

func (b *fakeBlob) put(name string, data []byte) uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.New()
	b.blobs[id] = data
	b.names[id] = name
	return id
}

func (b *fakeBlob) Upload(_ context.Context, u blobgw.Upload, _ uuid.UUID, ft blobgw.FileType) (*blobgw.BlobRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.New()
	b.blobs[id] = u.Bytes
	b.names[id] = u.Name
	b.types[id] = ft
	return &blobgw.BlobRef{ID: id, Name: u.Name, Size: int64(len(u.Bytes))}, nil
}

func (b *fakeBlob) BatchUpload(_ context.Context, uploads []blobgw.Upload, _ uuid.UUID, ft blobgw.FileType) ([]blobgw.BatchResult, error) {
	if b.failBatchUpload {
		return nil, fmt.Errorf("blob service unreachable")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []blobgw.BatchResult
	for _, u := range uploads {
		id := uuid.New()
		b.blobs[id] = u.Bytes
		b.names[id] = u.Name
		b.types[id] = ft
		ref := blobgw.BlobRef{ID: id, Name: u.Name, Size: int64(len(u.Bytes))}
		out = append(out, blobgw.BatchResult{Ref: &ref})
	}
	return out, nil
}

func (b *fakeBlob) Download(_ context.Context, id uuid.UUID) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[id]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", id)
	}
	return data, nil
}

func (b *fakeBlob) BatchDownload(_ context.Context, ids []uuid.UUID) ([]blobgw.BatchDownloaded, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []blobgw.BatchDownloaded
	for _, id := range ids {
		data, ok := b.blobs[id]
		if !ok {
			continue
		}
		out = append(out, blobgw.BatchDownloaded{ID: id, Name: b.names[id], Bytes: data})
	}
	return out, nil
}

func (b *fakeBlob) Delete(_ context.Context, id uuid.UUID, _ bool) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	delete(b.blobs, id)
	return true, nil
}

func (b *fakeBlob) uploadedArchive() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ft := range b.types {
		if ft == blobgw.FileTypeAnalysisArchive {
			return b.blobs[id]
		}
	}
	return nil
}

func (b *fakeBlob) countByType(ft blobgw.FileType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.types {
		if t == ft {
			n++
		}
	}
	return n
}

// fakeDetector counts calls; by default odd-numbered calls return one
// damaged_insulator at [10,10,50,50], even-numbered calls return nothing,
// mirroring the stub used in the end-to-end scenarios.
type fakeDetector struct {
	mu          sync.Mutex
	calls       int
	neverDefect bool
}

func (d *fakeDetector) Predict(_ context.Context, _ string, _ []byte, _ string, _ float64) (*detector.Result, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	d.mu.Unlock()

	if d.neverDefect || n%2 == 0 {
		return &detector.Result{Detections: []model.Detection{}, Statistics: map[string]int{}}, nil
	}
	det := model.Detection{
		Class:      "damaged_insulator",
		Confidence: 0.9,
		BBox:       [4]int{10, 10, 50, 50},
		DefectSummary: &model.DefectSummary{
			Type:     "Повреждение",
			Severity: "detected",
		},
	}
	det.BBoxSize = model.NewBBoxSize(det.BBox)
	return &detector.Result{
		Detections:   []model.Detection{det},
		Statistics:   map[string]int{"damaged_insulator": 1},
		TotalObjects: 1,
		DefectsCount: 1,
		HasDefects:   true,
	}, nil
}

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// fakeBroker records progress events.
type fakeBroker struct {
	mu     sync.Mutex
	events []model.ProgressEvent
}

func (b *fakeBroker) ConsumeWork(_ context.Context, _ string) (<-chan amqp.Delivery, error) {
	ch := make(chan amqp.Delivery)
	close(ch)
	return ch, nil
}

func (b *fakeBroker) PublishProgress(_ context.Context, evt model.ProgressEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
	return nil
}

func (b *fakeBroker) published() []model.ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.ProgressEvent(nil), b.events...)
}

func tinyJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 120, B: 120, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(buf, img, nil))
	return buf.Bytes()
}

func stagingZip(t *testing.T, names []string, payload []byte) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, n := range names {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write(payload)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestJob(totalFiles, previewLimit int) *model.Job {
	return &model.Job{
		ID:                  uuid.New(),
		Status:              model.StatusQueued,
		TotalFiles:          totalFiles,
		ConfidenceThreshold: 0.35,
		PreviewLimit:        previewLimit,
		CreatedAt:           time.Now().UTC(),
	}
}

func archiveEntryNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestProcessJob_PreviewOnlyJobCompletes(t *testing.T) {
	job := newTestJob(5, 2)
	store := newFakeStore(job)
	blob := newFakeBlob()
	det := &fakeDetector{}
	broker := &fakeBroker{}

	jpg := tinyJPEG(t)
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("img%d.jpg", i)
		store.addIntakeRow(name, blob.put(name, jpg))
	}

	w := &Worker{Store: store, Blob: blob, Detector: det, Queue: broker}
	require.NoError(t, w.ProcessJob(context.Background(), model.WorkMessage{
		JobID: job.ID, ConfidenceThreshold: 0.35, PreviewLimit: 2,
	}))

	assert.Equal(t, 5, det.callCount())
	assert.Equal(t, model.StatusCompleted, store.job.Status)
	assert.Equal(t, 5, store.job.ProcessedFiles)
	assert.Equal(t, 0, store.job.FailedFiles)
	// Calls 1, 3, 5 were defective.
	assert.Equal(t, 3, store.job.DefectsFound)
	require.NotNil(t, store.job.CompletedAt)
	require.NotNil(t, store.job.ResultsArchiveBlobID)

	// First completion and the terminal finalization publish; 5 is not on
	// the 100-cadence.
	events := broker.published()
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Processed)
	assert.Equal(t, model.StatusProcessing, events[0].Status)
	terminal := events[len(events)-1]
	assert.Equal(t, model.StatusCompleted, terminal.Status)
	assert.Equal(t, 5, terminal.Processed)
	assert.Equal(t, 5, terminal.Total)
	assert.Equal(t, 3, terminal.Defects)

	// Promotion: limit 2, all slots taken by defective candidates, each
	// with a result blob and the preview flag.
	promoted := 0
	for i := 1; i <= 5; i++ {
		img := store.imageByName(fmt.Sprintf("img%d.jpg", i))
		require.NotNil(t, img)
		assert.Equal(t, model.StatusCompleted, img.Status)
		if img.IsPreview {
			promoted++
			assert.NotNil(t, img.ResultBlobID)
			require.NotNil(t, img.Summary)
			assert.True(t, img.Summary.HasDefects)
		}
	}
	assert.Equal(t, 2, promoted)
	assert.Equal(t, 2, blob.countByType(blobgw.FileTypePreview))

	// Output archive: both folder entries plus one annotated entry per
	// image, split 3 defective / 2 normal.
	names := archiveEntryNames(t, blob.uploadedArchive())
	assert.Contains(t, names, archive.DefectiveFolder)
	assert.Contains(t, names, archive.NormalFolder)
	var defective, normal int
	for _, n := range names {
		if !strings.HasSuffix(n, "_annotated.jpg") {
			continue
		}
		if strings.HasPrefix(n, archive.DefectiveFolder) {
			defective++
		} else if strings.HasPrefix(n, archive.NormalFolder) {
			normal++
		}
	}
	assert.Equal(t, 3, defective)
	assert.Equal(t, 2, normal)

	// Final metadata carries the per-class aggregates.
	require.NotNil(t, store.job.Metadata)
	assert.Equal(t, 3, store.job.Metadata["total_objects"])
}

func TestProcessJob_BulkJobUnpacksStagingArchive(t *testing.T) {
	job := newTestJob(4, 10)
	store := newFakeStore(job)
	blob := newFakeBlob()
	det := &fakeDetector{}
	broker := &fakeBroker{}

	names := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg"}
	stagingID := blob.put("staging.zip", stagingZip(t, names, tinyJPEG(t)))
	job.StagingArchiveBlobID = &stagingID

	w := &Worker{Store: store, Blob: blob, Detector: det, Queue: broker}
	require.NoError(t, w.ProcessJob(context.Background(), model.WorkMessage{JobID: job.ID}))

	assert.Equal(t, model.StatusCompleted, store.job.Status)
	assert.Equal(t, 4, store.job.ProcessedFiles)
	assert.Equal(t, 0, store.job.FailedFiles)
	assert.Equal(t, 4, det.callCount())

	// Rows were created on the fly for every unpacked entry.
	for _, n := range names {
		img := store.imageByName(n)
		require.NotNil(t, img, "missing row for %s", n)
		assert.Equal(t, model.StatusCompleted, img.Status)
	}

	// Staging cleanup ran.
	assert.Contains(t, blob.deleted, stagingID)
}

func TestProcessJob_ChunkUploadFailureFailsWholeChunk(t *testing.T) {
	job := newTestJob(3, 10)
	store := newFakeStore(job)
	blob := newFakeBlob()
	det := &fakeDetector{}
	broker := &fakeBroker{}

	stagingID := blob.put("staging.zip", stagingZip(t, []string{"a.jpg", "b.jpg", "c.jpg"}, tinyJPEG(t)))
	job.StagingArchiveBlobID = &stagingID
	blob.failBatchUpload = true

	w := &Worker{Store: store, Blob: blob, Detector: det, Queue: broker}
	require.NoError(t, w.ProcessJob(context.Background(), model.WorkMessage{JobID: job.ID}))

	// The whole chunk fails without reaching the detector, failed
	// advances by exactly the chunk size, processed stays at zero.
	assert.Equal(t, 0, det.callCount())
	assert.Equal(t, 0, store.job.ProcessedFiles)
	assert.Equal(t, 3, store.job.FailedFiles)
	assert.Equal(t, model.StatusFailed, store.job.Status)
	assert.Equal(t, "Task completed with errors", store.job.Message)

	events := broker.published()
	require.NotEmpty(t, events)
	terminal := events[len(events)-1]
	assert.Equal(t, model.StatusFailed, terminal.Status)
	assert.Equal(t, 3, terminal.Failed)
}

func TestProcessJob_RejectsDuplicateDelivery(t *testing.T) {
	job := newTestJob(5, 10)
	job.Status = model.StatusProcessing
	store := newFakeStore(job)
	det := &fakeDetector{}
	broker := &fakeBroker{}

	w := &Worker{Store: store, Blob: newFakeBlob(), Detector: det, Queue: broker}
	require.NoError(t, w.ProcessJob(context.Background(), model.WorkMessage{JobID: job.ID}))

	assert.Equal(t, 0, det.callCount())
	assert.Equal(t, model.StatusFailed, store.job.Status)
	assert.Contains(t, store.job.Message, "duplicate delivery")
	assert.Empty(t, broker.published())
}

func TestProcessJob_TerminalJobRedeliveryIsNoOp(t *testing.T) {
	job := newTestJob(5, 10)
	job.Status = model.StatusCompleted
	store := newFakeStore(job)
	det := &fakeDetector{}
	broker := &fakeBroker{}

	w := &Worker{Store: store, Blob: newFakeBlob(), Detector: det, Queue: broker}
	require.NoError(t, w.ProcessJob(context.Background(), model.WorkMessage{JobID: job.ID}))

	assert.Equal(t, 0, det.callCount())
	assert.Equal(t, model.StatusCompleted, store.job.Status)
	assert.Empty(t, broker.published())
}

func TestProcessJob_EmptyJobFails(t *testing.T) {
	job := newTestJob(0, 10)
	store := newFakeStore(job)
	broker := &fakeBroker{}

	w := &Worker{Store: store, Blob: newFakeBlob(), Detector: &fakeDetector{}, Queue: broker}
	require.NoError(t, w.ProcessJob(context.Background(), model.WorkMessage{JobID: job.ID}))

	assert.Equal(t, model.StatusFailed, store.job.Status)
	assert.Equal(t, "no files to process", store.job.Message)

	events := broker.published()
	require.Len(t, events, 1)
	assert.Equal(t, model.StatusFailed, events[0].Status)
}

// Scenario: 120 images publish progress after image 1 and image 100, then
// the terminal event with processed=120.
func TestProcessJob_PublishCadence(t *testing.T) {
	job := newTestJob(120, 10)
	store := newFakeStore(job)
	blob := newFakeBlob()
	det := &fakeDetector{neverDefect: true}
	broker := &fakeBroker{}

	names := make([]string, 120)
	for i := range names {
		names[i] = fmt.Sprintf("img%03d.jpg", i)
	}
	stagingID := blob.put("staging.zip", stagingZip(t, names, tinyJPEG(t)))
	job.StagingArchiveBlobID = &stagingID

	w := &Worker{Store: store, Blob: blob, Detector: det, Queue: broker}
	require.NoError(t, w.ProcessJob(context.Background(), model.WorkMessage{JobID: job.ID}))

	events := broker.published()
	require.Len(t, events, 3)
	assert.Equal(t, 1, events[0].Processed)
	assert.Equal(t, model.StatusProcessing, events[0].Status)
	assert.Equal(t, 100, events[1].Processed)
	assert.Equal(t, model.StatusProcessing, events[1].Status)
	assert.Equal(t, 120, events[2].Processed)
	assert.Equal(t, model.StatusCompleted, events[2].Status)
}
