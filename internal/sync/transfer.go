package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"worklogd/internal/models"
	"worklogd/internal/policy"
	"worklogd/internal/remote"

	"go.uber.org/zap"
)

// pushDirty uploads every locally changed record. The loop aborts on the
// first transport failure so the remaining records stay queued for the next
// session; there is no in-call retry beyond the single conflict retry below.
func (e *Engine) pushDirty(ctx context.Context, pol policy.Policy) (int, error) {
	dirty, err := e.repo.AllDirty()
	if err != nil {
		return 0, fmt.Errorf("failed to list dirty records: %w", err)
	}

	pushed := 0
	for _, rec := range dirty {
		if err := e.pushOne(ctx, rec, pol); err != nil {
			return pushed, err
		}
		pushed++
	}
	return pushed, nil
}

// pushOne uploads a single record. On a version conflict the server's copy
// is merged first; the push is retried exactly once and only if the local
// record still wins after that merge.
func (e *Engine) pushOne(ctx context.Context, rec *models.WorkRecord, pol policy.Policy) error {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	version, err := e.peer.PushRecord(opCtx, rec.ToChangeRecord())
	cancel()

	if err == nil {
		return e.acknowledgePush(rec, version)
	}

	var conflict *remote.ConflictError
	if !errors.As(err, &conflict) {
		return err
	}

	e.logger.Info("Push conflict, merging server copy",
		zap.String("id", rec.ID),
		zap.Time("local_modified", rec.LastModified),
		zap.Time("server_modified", conflict.Server.ModifiedAt),
	)

	if err := e.mergeRecord(conflict.Server, pol); err != nil {
		return err
	}

	merged, err := e.repo.Get(rec.ID)
	if err != nil {
		return fmt.Errorf("failed to reload record after conflict merge: %w", err)
	}
	if !merged.Dirty {
		// The server copy won the merge; nothing left to push.
		return nil
	}

	// Local still wins. Adopt the server's version token and retry once.
	merged.RemoteVersion = conflict.Server.RemoteVersion
	retryCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	version, err = e.peer.PushRecord(retryCtx, merged.ToChangeRecord())
	cancel()
	if err != nil {
		return fmt.Errorf("push retry after conflict failed: %w", err)
	}
	return e.acknowledgePush(merged, version)
}

// acknowledgePush records a successful upload: tombstones become confirmed
// (the peer now holds the deletion), live records store the new version
// token and drop the dirty flag.
func (e *Engine) acknowledgePush(rec *models.WorkRecord, version string) error {
	if rec.IsDeleted() {
		if err := e.repo.ConfirmTombstone(rec.ID); err != nil {
			return err
		}
		e.logger.Debug("Tombstone acknowledged", zap.String("id", rec.ID))
		return nil
	}
	if err := e.repo.MarkSynced(rec.ID, version); err != nil {
		return err
	}
	e.logger.Debug("Record pushed", zap.String("id", rec.ID), zap.String("version", version))
	return nil
}

// pullChanges pages through remote changes from the persisted cursor. For
// each page, every record is merged before the cursor advances; a failure
// mid-page leaves the cursor at the previous page so nothing is skipped on
// the next session. The compare-and-set refuses to regress the cursor when
// a newer session has already committed.
func (e *Engine) pullChanges(ctx context.Context, generation int64, pol policy.Policy) (int, error) {
	cursor, err := e.cursors.Load()
	if err != nil {
		return 0, err
	}

	pulled := 0
	for {
		opCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		page, err := e.peer.PullChanges(opCtx, cursor, e.cfg.PageSize)
		cancel()
		if err != nil {
			return pulled, err
		}

		for _, c := range page.Records {
			if err := e.mergeRecord(c, pol); err != nil {
				return pulled, err
			}
			pulled++
		}

		ok, err := e.cursors.CompareAndSet(page.NextCursor, generation)
		if err != nil {
			return pulled, err
		}
		if !ok {
			e.logger.Info("Pull superseded by newer sync session, stopping",
				zap.Int64("generation", generation),
			)
			return pulled, nil
		}
		cursor = page.NextCursor

		if !page.HasMore {
			return pulled, nil
		}
	}
}

// RestoreOnce pulls every remote record and merges each one, reporting
// fractional progress. It runs its own pagination from scratch and neither
// consults nor advances the incremental cursor. Used for first install and
// explicit user-triggered recovery.
func (e *Engine) RestoreOnce(ctx context.Context) {
	e.generation++

	if !e.gate(ctx) {
		return
	}

	e.status.update(func(s *Status) {
		s.State = StateSyncing
		s.LastError = ""
		s.Progress = 0
		s.Pulled = 0
	})
	e.logger.Info("Full restore started")

	pol := e.policies.Get()
	token := ""
	processed := 0
	total := 0

	for {
		opCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		page, err := e.peer.PullAll(opCtx, token, e.cfg.PageSize)
		cancel()
		if err != nil {
			e.fail("restore failed", err)
			return
		}

		// The denominator is a best-effort estimate until pagination
		// completes; never let it fall below what we have seen.
		if page.Total > total {
			total = page.Total
		}

		for _, c := range page.Records {
			if err := e.mergeRecord(c, pol); err != nil {
				e.fail("restore failed", err)
				return
			}
			processed++

			denom := total
			if processed > denom {
				denom = processed
			}
			progress := float64(processed) / float64(denom)
			e.status.update(func(s *Status) {
				s.Progress = progress
				s.Pulled = processed
			})
		}

		if !page.HasMore {
			break
		}
		token = page.NextToken
	}

	now := time.Now()
	e.status.update(func(s *Status) {
		s.State = StateIdle
		s.LastSync = &now
		s.Progress = 0
	})
	e.logger.Info("Full restore completed", zap.Int("records", processed))
}
