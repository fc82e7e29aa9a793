// Package taskstore is the durable Task Store: the sole
// source of truth for Job and Image rows, backed by Postgres via
// jackc/pgx/v5. Every mutator runs as a single transaction; deletion
// returns the set of blob ids to garbage-collect before the transaction
// commits, so callers can clean up the Blob Gateway afterward.
package taskstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GermaMirn/LineGuard-AI/internal/apperr"
	"github.com/GermaMirn/LineGuard-AI/internal/model"
)

// Store is a Postgres-backed Task Store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to Postgres using the given DSN.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "connect to task store", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "ping task store", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// CreateJob inserts a Queued row.
func (s *Store) CreateJob(ctx context.Context, totalFiles int, totalBytes int64, threshold float64, previewLimit int, routeName string) (*model.Job, error) {
	now := time.Now().UTC()
	j := &model.Job{
		ID:                  uuid.New(),
		Status:              model.StatusQueued,
		RouteName:           routeName,
		TotalFiles:          totalFiles,
		TotalBytes:          totalBytes,
		ConfidenceThreshold: threshold,
		PreviewLimit:        previewLimit,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analysis_jobs
			(id, status, route_name, total_files, total_bytes, confidence_threshold,
			 preview_limit, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		j.ID, j.Status, nullString(j.RouteName), j.TotalFiles, j.TotalBytes,
		j.ConfidenceThreshold, j.PreviewLimit, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "create job", err)
	}
	return j, nil
}

// AddImages bulk-inserts Image rows for a job, atomically, returning them
// in the order of the inputs given.
func (s *Store) AddImages(ctx context.Context, jobID uuid.UUID, inputs []model.NewImageInput) ([]model.Image, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "begin add images", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	images := make([]model.Image, 0, len(inputs))
	for _, in := range inputs {
		img := model.Image{
			ID:             uuid.New(),
			JobID:          jobID,
			OriginalBlobID: in.BlobID,
			FileName:       in.FileName,
			FileSize:       in.FileSize,
			Status:         model.StatusQueued,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO analysis_images
				(id, job_id, original_blob_id, file_name, file_size, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			img.ID, img.JobID, img.OriginalBlobID, img.FileName, img.FileSize, img.Status, img.CreatedAt, img.UpdatedAt)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "insert image", err)
		}
		images = append(images, img)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "commit add images", err)
	}
	return images, nil
}

// GetJob reads a single job row, including up to 10 preview images.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, coalesce(route_name,''), total_files, total_bytes,
		       processed_files, failed_files, defects_found, confidence_threshold,
		       preview_limit, coalesce(message,''), staging_archive_blob_id,
		       results_archive_blob_id, created_at, updated_at, completed_at, metadata
		FROM analysis_jobs WHERE id=$1`, jobID)

	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.KindNotFound, "job not found")
		}
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "get job", err)
	}

	previews, _, err := s.getPreviewImages(ctx, jobID)
	if err != nil {
		return nil, err
	}
	j.PreviewImages = previews
	return j, nil
}

func (s *Store) getPreviewImages(ctx context.Context, jobID uuid.UUID) ([]model.Image, int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, original_blob_id, file_name, file_size, status,
		       result_blob_id, is_preview, summary, error_message, created_at, updated_at
		FROM analysis_images WHERE job_id=$1 AND is_preview=true ORDER BY created_at ASC LIMIT 10`, jobID)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindStorageUnavailable, "list preview images", err)
	}
	defer rows.Close()

	var out []model.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.KindStorageUnavailable, "scan preview image", err)
		}
		out = append(out, img)
	}
	return out, len(out), rows.Err()
}

// GetImage reads a single image row.
func (s *Store) GetImage(ctx context.Context, imageID uuid.UUID) (*model.Image, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, job_id, original_blob_id, file_name, file_size, status,
		       result_blob_id, is_preview, summary, error_message, created_at, updated_at
		FROM analysis_images WHERE id=$1`, imageID)
	img, err := scanImage(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.KindNotFound, "image not found")
		}
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "get image", err)
	}
	return &img, nil
}

// ListJobs lists jobs ordered created-desc, limit<=100.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, coalesce(route_name,''), total_files, total_bytes,
		       processed_files, failed_files, defects_found, confidence_threshold,
		       preview_limit, coalesce(message,''), staging_archive_blob_id,
		       results_archive_blob_id, created_at, updated_at, completed_at, metadata
		FROM analysis_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "list jobs", err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan job", err)
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// GetImages returns a stable, created-asc page of a job's images plus the
// total count.
func (s *Store) GetImages(ctx context.Context, jobID uuid.UUID, skip, limit int) ([]model.Image, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM analysis_images WHERE job_id=$1`, jobID).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(apperr.KindStorageUnavailable, "count images", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, original_blob_id, file_name, file_size, status,
		       result_blob_id, is_preview, summary, error_message, created_at, updated_at
		FROM analysis_images WHERE job_id=$1 ORDER BY created_at ASC, id ASC OFFSET $2 LIMIT $3`, jobID, skip, limit)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindStorageUnavailable, "list images", err)
	}
	defer rows.Close()

	var out []model.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.KindStorageUnavailable, "scan image", err)
		}
		out = append(out, img)
	}
	return out, total, rows.Err()
}

// UpdateJobProgress applies any subset of fields; setting a terminal
// status stamps completed_at.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID uuid.UUID, upd model.JobProgressUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "begin update job", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	if upd.Processed != nil {
		if _, err := tx.Exec(ctx, `UPDATE analysis_jobs SET processed_files=$1, updated_at=$2 WHERE id=$3`, *upd.Processed, now, jobID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "update processed", err)
		}
	}
	if upd.Failed != nil {
		if _, err := tx.Exec(ctx, `UPDATE analysis_jobs SET failed_files=$1, updated_at=$2 WHERE id=$3`, *upd.Failed, now, jobID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "update failed", err)
		}
	}
	if upd.Defects != nil {
		if _, err := tx.Exec(ctx, `UPDATE analysis_jobs SET defects_found=$1, updated_at=$2 WHERE id=$3`, *upd.Defects, now, jobID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "update defects", err)
		}
	}
	if upd.Message != nil {
		if _, err := tx.Exec(ctx, `UPDATE analysis_jobs SET message=$1, updated_at=$2 WHERE id=$3`, *upd.Message, now, jobID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "update message", err)
		}
	}
	if upd.Status != nil {
		var completedAt any
		if *upd.Status == model.StatusCompleted || *upd.Status == model.StatusFailed {
			completedAt = now
		}
		if _, err := tx.Exec(ctx, `UPDATE analysis_jobs SET status=$1, updated_at=$2, completed_at=$3 WHERE id=$4`, *upd.Status, now, completedAt, jobID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "update status", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindStorage, "commit update job", err)
	}
	return nil
}

// UpdateImage applies any subset of fields to an image row.
func (s *Store) UpdateImage(ctx context.Context, imageID uuid.UUID, upd model.ImageUpdate) error {
	now := time.Now().UTC()
	var summaryJSON []byte
	if upd.Summary != nil {
		var err error
		summaryJSON, err = json.Marshal(upd.Summary)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "marshal summary", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "begin update image", err)
	}
	defer tx.Rollback(ctx)

	if upd.Status != nil {
		if _, err := tx.Exec(ctx, `UPDATE analysis_images SET status=$1, updated_at=$2 WHERE id=$3`, *upd.Status, now, imageID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "update image status", err)
		}
	}
	if upd.Summary != nil {
		if _, err := tx.Exec(ctx, `UPDATE analysis_images SET summary=$1, updated_at=$2 WHERE id=$3`, summaryJSON, now, imageID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "update image summary", err)
		}
	}
	if upd.IsPreview != nil {
		if _, err := tx.Exec(ctx, `UPDATE analysis_images SET is_preview=$1, updated_at=$2 WHERE id=$3`, *upd.IsPreview, now, imageID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "update image preview flag", err)
		}
	}
	if upd.ResultBlobID != nil {
		if _, err := tx.Exec(ctx, `UPDATE analysis_images SET result_blob_id=$1, updated_at=$2 WHERE id=$3`, *upd.ResultBlobID, now, imageID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "update image result blob", err)
		}
	}
	if upd.Error != nil {
		if _, err := tx.Exec(ctx, `UPDATE analysis_images SET error_message=$1, updated_at=$2 WHERE id=$3`, *upd.Error, now, imageID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "update image error", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindStorage, "commit update image", err)
	}
	return nil
}

// SetJobArchives attaches archive blob ids and/or metadata to a job.
func (s *Store) SetJobArchives(ctx context.Context, jobID uuid.UUID, upd model.JobArchiveUpdate) error {
	now := time.Now().UTC()
	var metaJSON []byte
	if upd.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(upd.Metadata)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "marshal job metadata", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "begin set archives", err)
	}
	defer tx.Rollback(ctx)

	if upd.OriginalsArchiveBlobID != nil {
		if _, err := tx.Exec(ctx, `UPDATE analysis_jobs SET staging_archive_blob_id=$1, updated_at=$2 WHERE id=$3`, *upd.OriginalsArchiveBlobID, now, jobID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "set staging archive", err)
		}
	}
	if upd.ResultsArchiveBlobID != nil {
		if _, err := tx.Exec(ctx, `UPDATE analysis_jobs SET results_archive_blob_id=$1, updated_at=$2 WHERE id=$3`, *upd.ResultsArchiveBlobID, now, jobID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "set results archive", err)
		}
	}
	if upd.Metadata != nil {
		if _, err := tx.Exec(ctx, `UPDATE analysis_jobs SET metadata=$1, updated_at=$2 WHERE id=$3`, metaJSON, now, jobID); err != nil {
			return apperr.Wrap(apperr.KindStorage, "set job metadata", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindStorage, "commit set archives", err)
	}
	return nil
}

// DeleteImage removes an image row and returns the blob ids to garbage
// collect, decrementing the job's totals.
func (s *Store) DeleteImage(ctx context.Context, jobID, imageID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "begin delete image", err)
	}
	defer tx.Rollback(ctx)

	var originalBlobID uuid.UUID
	var resultBlobID *uuid.UUID
	var fileSize int64
	var status model.Status
	err = tx.QueryRow(ctx, `SELECT original_blob_id, result_blob_id, file_size, status FROM analysis_images WHERE id=$1 AND job_id=$2`, imageID, jobID).
		Scan(&originalBlobID, &resultBlobID, &fileSize, &status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.KindNotFound, "image not found")
		}
		return nil, apperr.Wrap(apperr.KindStorage, "lookup image for delete", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM analysis_images WHERE id=$1`, imageID); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "delete image", err)
	}

	decFailed, decProcessed := 0, 0
	switch status {
	case model.StatusFailed:
		decFailed = 1
	case model.StatusCompleted:
		decProcessed = 1
	}
	if _, err := tx.Exec(ctx, `
		UPDATE analysis_jobs
		SET total_files = GREATEST(total_files-1, 0),
		    total_bytes = GREATEST(total_bytes-$1, 0),
		    failed_files = GREATEST(failed_files-$2, 0),
		    processed_files = GREATEST(processed_files-$3, 0),
		    updated_at = $4
		WHERE id=$5`, fileSize, decFailed, decProcessed, time.Now().UTC(), jobID); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "decrement job totals", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "commit delete image", err)
	}

	blobs := []uuid.UUID{originalBlobID}
	if resultBlobID != nil {
		blobs = append(blobs, *resultBlobID)
	}
	return blobs, nil
}

// DeleteJob removes a job and all its image rows, returning the full set
// of blob ids to garbage collect (originals + results per image + results
// archive). Cascade deletion of image rows is handled by the foreign key.
func (s *Store) DeleteJob(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "begin delete job", err)
	}
	defer tx.Rollback(ctx)

	var blobs []uuid.UUID

	rows, err := tx.Query(ctx, `SELECT original_blob_id, result_blob_id FROM analysis_images WHERE job_id=$1`, jobID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "list images for delete", err)
	}
	for rows.Next() {
		var orig uuid.UUID
		var result *uuid.UUID
		if err := rows.Scan(&orig, &result); err != nil {
			rows.Close()
			return nil, apperr.Wrap(apperr.KindStorage, "scan image for delete", err)
		}
		blobs = append(blobs, orig)
		if result != nil {
			blobs = append(blobs, *result)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "iterate images for delete", err)
	}

	var stagingID, resultsID *uuid.UUID
	err = tx.QueryRow(ctx, `SELECT staging_archive_blob_id, results_archive_blob_id FROM analysis_jobs WHERE id=$1`, jobID).Scan(&stagingID, &resultsID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.KindNotFound, "job not found")
		}
		return nil, apperr.Wrap(apperr.KindStorage, "lookup job archives for delete", err)
	}
	if stagingID != nil {
		blobs = append(blobs, *stagingID)
	}
	if resultsID != nil {
		blobs = append(blobs, *resultsID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM analysis_jobs WHERE id=$1`, jobID); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "delete job", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "commit delete job", err)
	}
	return blobs, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
