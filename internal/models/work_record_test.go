package models_test

import (
	"testing"
	"time"

	"worklogd/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWork() *models.WorkRecord {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 2, 17, 30, 0, 0, time.UTC)
	return &models.WorkRecord{
		ID:           "11111111-1111-1111-1111-111111111111",
		Date:         time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Type:         models.TypeWork,
		StartTime:    &start,
		EndTime:      &end,
		BreakSeconds: 1800,
		Deletion:     models.DeletionLive,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*models.WorkRecord)
		wantField string
	}{
		{"valid work record", func(r *models.WorkRecord) {}, ""},
		{"missing id", func(r *models.WorkRecord) { r.ID = "" }, "id"},
		{"unknown type", func(r *models.WorkRecord) { r.Type = "weekend" }, "type"},
		{"end before start", func(r *models.WorkRecord) {
			e := r.StartTime.Add(-time.Hour)
			r.EndTime = &e
		}, "end_time"},
		{"end equals start", func(r *models.WorkRecord) { r.EndTime = r.StartTime }, "end_time"},
		{"negative break", func(r *models.WorkRecord) { r.BreakSeconds = -1 }, "break_seconds"},
		{"break exceeds interval", func(r *models.WorkRecord) { r.BreakSeconds = 9 * 3600 }, "break_seconds"},
		{"negative bonus", func(r *models.WorkRecord) { r.BonusAmount = -0.01 }, "bonus_amount"},
		{"work without times is a valid transient state", func(r *models.WorkRecord) {
			r.StartTime = nil
			r.EndTime = nil
			r.BreakSeconds = 0
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validWork()
			tt.mutate(rec)
			err := rec.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}

func TestChangeRecordRoundTrip(t *testing.T) {
	rec := validWork()
	rec.TotalHours = 8
	rec.LastModified = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	rec.RemoteVersion = "v42"

	c := rec.ToChangeRecord()
	assert.Equal(t, rec.LastModified, c.ModifiedAt)
	assert.Equal(t, "v42", c.RemoteVersion)
	assert.False(t, c.Deleted)

	back := c.ToWorkRecord()
	assert.Equal(t, rec.ID, back.ID)
	assert.Equal(t, rec.Type, back.Type)
	assert.Equal(t, rec.LastModified, back.LastModified)
	assert.Equal(t, models.DeletionLive, back.Deletion)
	assert.False(t, back.Dirty)
}

func TestChangeRecordTombstone(t *testing.T) {
	rec := validWork()
	rec.Deletion = models.DeletionPending

	c := rec.ToChangeRecord()
	assert.True(t, c.Deleted)

	// An incoming remote tombstone needs no further acknowledgment: the
	// peer already holds the deletion.
	back := c.ToWorkRecord()
	assert.Equal(t, models.DeletionConfirmed, back.Deletion)
	assert.True(t, back.IsDeleted())
}
