package model

import "github.com/google/uuid"

// ProgressEvent is the lossy, non-persistent notification fanned out over
// the progress exchange and to websocket subscribers.
type ProgressEvent struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    Status    `json:"status"`
	Processed int       `json:"processed_files"`
	Total     int       `json:"total_files"`
	Failed    int       `json:"failed_files"`
	Defects   int       `json:"defects_found"`
	Message   string    `json:"message,omitempty"`
}

// WorkMessage is the work-queue payload.
type WorkMessage struct {
	JobID               uuid.UUID `json:"task_id"`
	ConfidenceThreshold float64   `json:"confidence_threshold"`
	PreviewLimit        int       `json:"preview_limit"`
}
