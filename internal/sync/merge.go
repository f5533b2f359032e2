package sync

import (
	"errors"
	"fmt"

	"worklogd/internal/models"
	"worklogd/internal/policy"
	"worklogd/internal/repository"
	"worklogd/internal/timecalc"

	"go.uber.org/zap"
)

// mergeRecord applies one incoming change with last-writer-wins semantics.
//
// Unknown identities are inserted wholesale, tombstones included. For known
// identities the remote copy wins iff its ModifiedAt is not older than the
// local LastModified: ties go to the remote side, so every device converges
// on the server's canonical copy instead of each keeping its own echo of the
// same write. Applying the same change twice is a no-op in state terms.
//
// Derived fields are always recomputed under the local policy, since the
// remote writer may have calculated them under a different one. The remote
// ModifiedAt is preserved as LastModified; bumping it here would break the
// stability the idempotence argument rests on.
func (e *Engine) mergeRecord(c models.ChangeRecord, pol policy.Policy) error {
	local, err := e.repo.Get(c.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to look up record %s: %w", c.ID, err)
	}

	if local != nil && local.LastModified.After(c.ModifiedAt) {
		e.logger.Debug("Discarding remote change, local copy is newer",
			zap.String("id", c.ID),
			zap.Time("local_modified", local.LastModified),
			zap.Time("remote_modified", c.ModifiedAt),
		)
		return nil
	}

	rec := c.ToWorkRecord()
	if !rec.IsDeleted() {
		timecalc.Recompute(rec, pol, c.ModifiedAt)
	}

	if err := e.repo.ApplyRemote(rec); err != nil {
		return fmt.Errorf("failed to apply remote record %s: %w", c.ID, err)
	}

	e.logger.Debug("Merged remote change",
		zap.String("id", c.ID),
		zap.Bool("deleted", c.Deleted),
		zap.Bool("existed_locally", local != nil),
	)
	return nil
}
