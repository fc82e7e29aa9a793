// Package model defines the durable data model shared by the Task Store,
// Worker, Intake API, and Progress Hub: jobs, images, detections, and the
// lossy progress event.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Status is the state-machine status shared by Job and Image rows.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is one batch submission.
type Job struct {
	ID                   uuid.UUID
	Status               Status
	RouteName            string
	TotalFiles           int
	TotalBytes           int64
	ProcessedFiles       int
	FailedFiles          int
	DefectsFound         int
	ConfidenceThreshold  float64
	PreviewLimit         int
	Message              string
	StagingArchiveBlobID *uuid.UUID
	ResultsArchiveBlobID *uuid.UUID
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CompletedAt          *time.Time
	Metadata             map[string]any

	// PreviewImages is populated by the Task Store reader for job-detail
	// responses; it is not a persisted column.
	PreviewImages []Image
}

// IsTerminal reports whether the job has reached Completed or Failed.
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// JobProgressUpdate is the subset-update payload for UpdateJobProgress;
// nil fields are left unchanged.
type JobProgressUpdate struct {
	Processed *int
	Failed    *int
	Defects   *int
	Status    *Status
	Message   *string
}

// JobArchiveUpdate is the subset-update payload for SetJobArchives.
type JobArchiveUpdate struct {
	OriginalsArchiveBlobID *uuid.UUID
	ResultsArchiveBlobID   *uuid.UUID
	Metadata               map[string]any
}
