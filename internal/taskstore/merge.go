package taskstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/GermaMirn/LineGuard-AI/internal/apperr"
	"github.com/GermaMirn/LineGuard-AI/internal/model"
)

// maxMergeRetries bounds the optimistic-concurrency loop in
// MergeImageSummary to that many attempts. The annotate and metrics HTTP
// handlers route through it: a read-modify-write guarded by a
// compare-and-swap on updated_at. The Worker writes summaries with
// UpdateImage, which also bumps updated_at, so a concurrent Worker write
// makes a merge attempt retry against the fresh row.
const maxMergeRetries = 5

// MergeImageSummary reads an image's current summary, applies mutate, and
// writes it back only if updated_at has not changed since the read
// (optimistic concurrency), retrying the whole read-modify-write loop on
// conflict.
func (s *Store) MergeImageSummary(ctx context.Context, imageID uuid.UUID, mutate func(*model.Summary)) (*model.Summary, error) {
	for attempt := 0; attempt < maxMergeRetries; attempt++ {
		var summaryJSON []byte
		var updatedAt time.Time
		err := s.pool.QueryRow(ctx, `SELECT summary, updated_at FROM analysis_images WHERE id=$1`, imageID).Scan(&summaryJSON, &updatedAt)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil, apperr.New(apperr.KindNotFound, "image not found")
			}
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "read image summary", err)
		}

		summary := &model.Summary{}
		if len(summaryJSON) > 0 {
			if err := json.Unmarshal(summaryJSON, summary); err != nil {
				return nil, apperr.Wrap(apperr.KindInternal, "unmarshal image summary", err)
			}
		}

		mutate(summary)

		newJSON, err := json.Marshal(summary)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "marshal image summary", err)
		}

		tag, err := s.pool.Exec(ctx, `
			UPDATE analysis_images SET summary=$1, updated_at=$2
			WHERE id=$3 AND updated_at=$4`, newJSON, time.Now().UTC(), imageID, updatedAt)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "write image summary", err)
		}
		if tag.RowsAffected() == 1 {
			return summary, nil
		}
		// Lost the race to a concurrent writer (Worker or another
		// annotate call); retry against the fresh row.
	}
	return nil, apperr.New(apperr.KindStorage, "image summary update conflicted too many times")
}
