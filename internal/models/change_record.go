package models

import "time"

// ChangeRecord is the wire projection of a WorkRecord exchanged with the
// remote peer. ModifiedAt carries the writer's last-modified timestamp and is
// the input to last-writer-wins merging; RemoteVersion is the peer's opaque
// version token for the record.
type ChangeRecord struct {
	ID              string     `json:"id"`
	Date            time.Time  `json:"date"`
	Type            RecordType `json:"type"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	BreakSeconds    int64      `json:"break_seconds"`
	BonusAmount     float64    `json:"bonus_amount"`
	TotalHours      float64    `json:"total_hours"`
	OvertimeSeconds int64      `json:"overtime_seconds"`
	Note            *string    `json:"note,omitempty"`
	ModifiedAt      time.Time  `json:"modified_at"`
	RemoteVersion   string     `json:"remote_version,omitempty"`
	Deleted         bool       `json:"deleted"`
}

// ToChangeRecord projects a local record onto the wire format.
func (r *WorkRecord) ToChangeRecord() ChangeRecord {
	return ChangeRecord{
		ID:              r.ID,
		Date:            r.Date,
		Type:            r.Type,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		BreakSeconds:    r.BreakSeconds,
		BonusAmount:     r.BonusAmount,
		TotalHours:      r.TotalHours,
		OvertimeSeconds: r.OvertimeSeconds,
		Note:            r.Note,
		ModifiedAt:      r.LastModified,
		RemoteVersion:   r.RemoteVersion,
		Deleted:         r.IsDeleted(),
	}
}

// ToWorkRecord builds a local record from an incoming change. A remote
// deletion arrives as a confirmed tombstone: the peer already holds it, so
// there is nothing left to acknowledge.
func (c ChangeRecord) ToWorkRecord() *WorkRecord {
	deletion := DeletionLive
	if c.Deleted {
		deletion = DeletionConfirmed
	}
	return &WorkRecord{
		ID:              c.ID,
		Date:            c.Date,
		Type:            c.Type,
		StartTime:       c.StartTime,
		EndTime:         c.EndTime,
		BreakSeconds:    c.BreakSeconds,
		BonusAmount:     c.BonusAmount,
		TotalHours:      c.TotalHours,
		OvertimeSeconds: c.OvertimeSeconds,
		Note:            c.Note,
		LastModified:    c.ModifiedAt,
		RemoteVersion:   c.RemoteVersion,
		Deletion:        deletion,
	}
}
