package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/GermaMirn/LineGuard-AI/internal/model"
)

// jobDTO is the full job-detail response shape.
type jobDTO struct {
	TaskID               uuid.UUID      `json:"task_id"`
	Status               model.Status   `json:"status"`
	RouteName            string         `json:"route_name,omitempty"`
	TotalFiles           int            `json:"total_files"`
	TotalBytes           int64          `json:"total_bytes"`
	ProcessedFiles       int            `json:"processed_files"`
	FailedFiles          int            `json:"failed_files"`
	DefectsFound         int            `json:"defects_found"`
	ConfidenceThreshold  float64        `json:"confidence_threshold"`
	PreviewLimit         int            `json:"preview_limit"`
	Message              string         `json:"message,omitempty"`
	StagingArchiveBlobID *uuid.UUID     `json:"staging_archive_blob_id,omitempty"`
	ResultsArchiveBlobID *uuid.UUID     `json:"results_archive_blob_id,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	PreviewImages        []imageDTO     `json:"preview_images,omitempty"`
}

func newJobDTO(j *model.Job) jobDTO {
	out := jobDTO{
		TaskID:               j.ID,
		Status:               j.Status,
		RouteName:            j.RouteName,
		TotalFiles:           j.TotalFiles,
		TotalBytes:           j.TotalBytes,
		ProcessedFiles:       j.ProcessedFiles,
		FailedFiles:          j.FailedFiles,
		DefectsFound:         j.DefectsFound,
		ConfidenceThreshold:  j.ConfidenceThreshold,
		PreviewLimit:         j.PreviewLimit,
		Message:              j.Message,
		StagingArchiveBlobID: j.StagingArchiveBlobID,
		ResultsArchiveBlobID: j.ResultsArchiveBlobID,
		CreatedAt:            j.CreatedAt,
		UpdatedAt:            j.UpdatedAt,
		CompletedAt:          j.CompletedAt,
		Metadata:             j.Metadata,
	}
	for _, img := range j.PreviewImages {
		out.PreviewImages = append(out.PreviewImages, newImageDTO(&img, ""))
	}
	return out
}

// imageDTO is one row in the images list / preview list.
type imageDTO struct {
	ImageID         uuid.UUID      `json:"image_id"`
	JobID           uuid.UUID      `json:"job_id"`
	OriginalBlobID  uuid.UUID      `json:"original_blob_id"`
	FileName        string         `json:"file_name"`
	FileSize        int64          `json:"file_size"`
	Status          model.Status   `json:"status"`
	ResultBlobID    *uuid.UUID     `json:"result_blob_id,omitempty"`
	IsPreview       bool           `json:"is_preview"`
	Summary         *model.Summary `json:"summary,omitempty"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ThumbnailBase64 string         `json:"thumbnail_base64,omitempty"`
}

func newImageDTO(img *model.Image, thumb string) imageDTO {
	return imageDTO{
		ImageID:         img.ID,
		JobID:           img.JobID,
		OriginalBlobID:  img.OriginalBlobID,
		FileName:        img.FileName,
		FileSize:        img.FileSize,
		Status:          img.Status,
		ResultBlobID:    img.ResultBlobID,
		IsPreview:       img.IsPreview,
		Summary:         img.Summary,
		ErrorMessage:    img.ErrorMessage,
		CreatedAt:       img.CreatedAt,
		UpdatedAt:       img.UpdatedAt,
		ThumbnailBase64: thumb,
	}
}

// historyEntryDTO is the compact shape used by GET /analysis/history.
type historyEntryDTO struct {
	TaskID         uuid.UUID    `json:"task_id"`
	Status         model.Status `json:"status"`
	RouteName      string       `json:"route_name,omitempty"`
	TotalFiles     int          `json:"total_files"`
	ProcessedFiles int          `json:"processed_files"`
	FailedFiles    int          `json:"failed_files"`
	DefectsFound   int          `json:"defects_found"`
	CreatedAt      time.Time    `json:"created_at"`
}

func newHistoryEntryDTO(j *model.Job) historyEntryDTO {
	return historyEntryDTO{
		TaskID:         j.ID,
		Status:         j.Status,
		RouteName:      j.RouteName,
		TotalFiles:     j.TotalFiles,
		ProcessedFiles: j.ProcessedFiles,
		FailedFiles:    j.FailedFiles,
		DefectsFound:   j.DefectsFound,
		CreatedAt:      j.CreatedAt,
	}
}

// annotateRequest is the body of POST .../annotate.
type annotateRequest struct {
	BBoxes    []boxRequest `json:"bboxes"`
	ProjectID uuid.UUID    `json:"project_id"`
	FileType  string       `json:"file_type"`
}

type boxRequest struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Name     string `json:"name,omitempty"`
	IsDefect *bool  `json:"is_defect,omitempty"`
}

func (b boxRequest) toManualBox() model.ManualBox {
	return model.ManualBox{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height, Name: b.Name, IsDefect: b.IsDefect}
}

// metricsRequest is the body of POST .../metrics.
type metricsRequest struct {
	Detections []model.Detection `json:"detections"`
}
