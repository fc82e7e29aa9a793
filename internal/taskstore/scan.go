package taskstore

import (
	"encoding/json"

	"github.com/GermaMirn/LineGuard-AI/internal/model"
)

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.Job, error) {
	var j model.Job
	var metaJSON []byte
	if err := row.Scan(
		&j.ID, &j.Status, &j.RouteName, &j.TotalFiles, &j.TotalBytes,
		&j.ProcessedFiles, &j.FailedFiles, &j.DefectsFound, &j.ConfidenceThreshold,
		&j.PreviewLimit, &j.Message, &j.StagingArchiveBlobID, &j.ResultsArchiveBlobID,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt, &metaJSON,
	); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &j.Metadata); err != nil {
			return nil, err
		}
	}
	return &j, nil
}

func scanImage(row scanner) (model.Image, error) {
	var img model.Image
	var summaryJSON []byte
	var errMsg *string
	if err := row.Scan(
		&img.ID, &img.JobID, &img.OriginalBlobID, &img.FileName, &img.FileSize,
		&img.Status, &img.ResultBlobID, &img.IsPreview, &summaryJSON, &errMsg,
		&img.CreatedAt, &img.UpdatedAt,
	); err != nil {
		return model.Image{}, err
	}
	img.ErrorMessage = errMsg
	if len(summaryJSON) > 0 {
		var s model.Summary
		if err := json.Unmarshal(summaryJSON, &s); err != nil {
			return model.Image{}, err
		}
		img.Summary = &s
	}
	return img, nil
}
