package model

import (
	"time"

	"github.com/google/uuid"
)

// Image is one file belonging to a job.
type Image struct {
	ID             uuid.UUID
	JobID          uuid.UUID
	OriginalBlobID uuid.UUID
	FileName       string
	FileSize       int64
	Status         Status
	ResultBlobID   *uuid.UUID
	IsPreview      bool
	Summary        *Summary
	ErrorMessage   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ImageUpdate is the subset-update payload for UpdateImage; nil fields are
// left unchanged.
type ImageUpdate struct {
	Status       *Status
	Summary      *Summary
	IsPreview    *bool
	ResultBlobID *uuid.UUID
	Error        *string
}

// NewImageInput is one row to insert via AddImages.
type NewImageInput struct {
	BlobID   uuid.UUID
	FileName string
	FileSize int64
}

// Summary is the JSON `summary` column: detections, per-class counts, and
// manual-annotation bookkeeping.
type Summary struct {
	Detections   []Detection    `json:"detections"`
	Statistics   map[string]int `json:"statistics,omitempty"`
	TotalObjects int            `json:"total_objects"`
	DefectsCount int            `json:"defects_count"`
	HasDefects   bool           `json:"has_defects"`
}

// DefectiveClasses is the set of detection classes counted as defects.
var DefectiveClasses = map[string]bool{
	"bad_insulator":     true,
	"damaged_insulator": true,
}

// IsDefectiveClass reports whether class is in the defective set.
func IsDefectiveClass(class string) bool {
	return DefectiveClasses[class]
}

// Recompute derives TotalObjects, DefectsCount, and HasDefects from
// Detections. Call after any mutation of Detections.
func (s *Summary) Recompute() {
	s.TotalObjects = len(s.Detections)
	defects := 0
	stats := map[string]int{}
	for _, d := range s.Detections {
		stats[d.Class]++
		if d.DefectSummary != nil && d.DefectSummary.Severity != "" && d.DefectSummary.Severity != "none" {
			defects++
		}
	}
	s.Statistics = stats
	s.DefectsCount = defects
	s.HasDefects = defects > 0
}
