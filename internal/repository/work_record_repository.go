package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"worklogd/internal/models"
	"worklogd/internal/policy"
	"worklogd/internal/timecalc"

	"go.uber.org/zap"
)

// ErrNotFound is returned when no record exists for the given identity.
var ErrNotFound = errors.New("work record not found")

// WorkRecordRepository is the local store adapter. Every write path that
// originates from a local edit recomputes derived fields before persisting
// and marks the row dirty for the next push. Remote merge writes go through
// ApplyRemote instead, which keeps the remote timestamp and stays clean.
type WorkRecordRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewWorkRecordRepository(db *sql.DB, logger *zap.Logger) *WorkRecordRepository {
	return &WorkRecordRepository{db: db, logger: logger}
}

const recordColumns = `id, date, type, start_time, end_time, break_seconds, bonus_amount,
		total_hours, overtime_seconds, note, last_modified, remote_version, deletion, dirty`

// Get fetches a record by identity, including soft-deleted ones.
func (r *WorkRecordRepository) Get(id string) (*models.WorkRecord, error) {
	row := r.db.QueryRow(`
		SELECT `+recordColumns+`
		FROM work_records
		WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work record: %w", err)
	}
	return rec, nil
}

// Upsert validates the record, recomputes its derived fields under the given
// policy and persists it as a dirty local edit.
func (r *WorkRecordRepository) Upsert(rec *models.WorkRecord, p policy.Policy) error {
	if rec.Deletion == "" {
		rec.Deletion = models.DeletionLive
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	timecalc.Recompute(rec, p, time.Now())
	rec.Dirty = true

	if err := r.persist(rec); err != nil {
		return fmt.Errorf("failed to upsert work record: %w", err)
	}

	r.logger.Debug("Work record upserted",
		zap.String("id", rec.ID),
		zap.String("type", string(rec.Type)),
		zap.Float64("total_hours", rec.TotalHours),
	)
	return nil
}

// ApplyRemote persists a record produced by the merge path as-is: derived
// fields were already recomputed by the caller and LastModified carries the
// remote writer's timestamp, which last-writer-wins depends on.
func (r *WorkRecordRepository) ApplyRemote(rec *models.WorkRecord) error {
	rec.Dirty = false
	if err := r.persist(rec); err != nil {
		return fmt.Errorf("failed to apply remote record: %w", err)
	}
	return nil
}

func (r *WorkRecordRepository) persist(rec *models.WorkRecord) error {
	_, err := r.db.Exec(`
		INSERT INTO work_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			type = excluded.type,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			break_seconds = excluded.break_seconds,
			bonus_amount = excluded.bonus_amount,
			total_hours = excluded.total_hours,
			overtime_seconds = excluded.overtime_seconds,
			note = excluded.note,
			last_modified = excluded.last_modified,
			remote_version = excluded.remote_version,
			deletion = excluded.deletion,
			dirty = excluded.dirty
	`,
		rec.ID, rec.Date, rec.Type, rec.StartTime, rec.EndTime,
		rec.BreakSeconds, rec.BonusAmount, rec.TotalHours, rec.OvertimeSeconds,
		rec.Note, rec.LastModified, rec.RemoteVersion, rec.Deletion, boolToInt(rec.Dirty),
	)
	return err
}

// SoftDelete marks a record as deleted pending remote acknowledgment. The
// tombstone is kept until the peer confirms it, so a later pull cannot
// resurrect the record.
func (r *WorkRecordRepository) SoftDelete(id string) error {
	result, err := r.db.Exec(`
		UPDATE work_records
		SET deletion = ?, dirty = 1, last_modified = ?
		WHERE id = ? AND deletion = ?
	`, models.DeletionPending, time.Now(), id, models.DeletionLive)
	if err != nil {
		return fmt.Errorf("failed to soft-delete work record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	r.logger.Debug("Work record soft-deleted", zap.String("id", id))
	return nil
}

// QueryByDateRange returns live records with dates in [start, end], ordered
// by date. Soft-deleted records are excluded.
func (r *WorkRecordRepository) QueryByDateRange(start, end time.Time) ([]*models.WorkRecord, error) {
	rows, err := r.db.Query(`
		SELECT `+recordColumns+`
		FROM work_records
		WHERE deletion = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, last_modified ASC
	`, models.DeletionLive, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query work records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// AllDirty returns records changed locally since the last successful upload,
// tombstones included.
func (r *WorkRecordRepository) AllDirty() ([]*models.WorkRecord, error) {
	rows, err := r.db.Query(`
		SELECT `+recordColumns+`
		FROM work_records
		WHERE dirty = 1
		ORDER BY last_modified ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dirty records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// MarkSynced clears the dirty flag and stores the version token returned by
// the peer after a successful push.
func (r *WorkRecordRepository) MarkSynced(id, remoteVersion string) error {
	_, err := r.db.Exec(`
		UPDATE work_records SET dirty = 0, remote_version = ? WHERE id = ?
	`, remoteVersion, id)
	if err != nil {
		return fmt.Errorf("failed to mark record synced: %w", err)
	}
	return nil
}

// ConfirmTombstone records that the peer has acknowledged a deletion.
func (r *WorkRecordRepository) ConfirmTombstone(id string) error {
	_, err := r.db.Exec(`
		UPDATE work_records SET deletion = ?, dirty = 0 WHERE id = ?
	`, models.DeletionConfirmed, id)
	if err != nil {
		return fmt.Errorf("failed to confirm tombstone: %w", err)
	}
	return nil
}

// PurgeConfirmedTombstones removes tombstones the peer has acknowledged.
// Pending tombstones are kept indefinitely.
func (r *WorkRecordRepository) PurgeConfirmedTombstones() (int64, error) {
	result, err := r.db.Exec(`
		DELETE FROM work_records WHERE deletion = ?
	`, models.DeletionConfirmed)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if purged > 0 {
		r.logger.Info("Purged confirmed tombstones", zap.Int64("count", purged))
	}
	return purged, nil
}

// RecomputeAll re-derives total hours and overtime for every live record
// under the given policy. Run after a policy edit so aggregates never go
// stale. Derived fields are not part of the push payload's authority (each
// peer recomputes under its own policy), so the rows stay clean.
func (r *WorkRecordRepository) RecomputeAll(p policy.Policy) (int, error) {
	rows, err := r.db.Query(`
		SELECT `+recordColumns+`
		FROM work_records
		WHERE deletion = ?
	`, models.DeletionLive)
	if err != nil {
		return 0, fmt.Errorf("failed to query records for recompute: %w", err)
	}
	records, err := collectRecords(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, rec := range records {
		d := timecalc.Derive(rec.Type, rec.Date, rec.StartTime, rec.EndTime, rec.BreakSeconds, p)
		if d.TotalHours == rec.TotalHours && d.OvertimeSeconds == rec.OvertimeSeconds {
			continue
		}
		_, err := r.db.Exec(`
			UPDATE work_records SET total_hours = ?, overtime_seconds = ? WHERE id = ?
		`, d.TotalHours, d.OvertimeSeconds, rec.ID)
		if err != nil {
			return updated, fmt.Errorf("failed to recompute record %s: %w", rec.ID, err)
		}
		updated++
	}

	if updated > 0 {
		r.logger.Info("Recomputed derived fields after policy change", zap.Int("updated", updated))
	}
	return updated, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.WorkRecord, error) {
	var rec models.WorkRecord
	var dirty int
	err := row.Scan(
		&rec.ID, &rec.Date, &rec.Type, &rec.StartTime, &rec.EndTime,
		&rec.BreakSeconds, &rec.BonusAmount, &rec.TotalHours, &rec.OvertimeSeconds,
		&rec.Note, &rec.LastModified, &rec.RemoteVersion, &rec.Deletion, &dirty,
	)
	if err != nil {
		return nil, err
	}
	rec.Dirty = dirty != 0
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*models.WorkRecord, error) {
	var records []*models.WorkRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
