package models

import (
	"fmt"
	"time"
)

// RecordType classifies a work record. Only Work records carry start/end
// times, a break and a bonus; switching a record away from Work clears those
// fields on the next recompute.
type RecordType string

const (
	TypeWork            RecordType = "work"
	TypeVacation        RecordType = "vacation"
	TypeHalfDayVacation RecordType = "half_day_vacation"
	TypeSickLeave       RecordType = "sick_leave"
	TypeCompensatory    RecordType = "compensatory"
	TypeTraining        RecordType = "training"
	TypeHoliday         RecordType = "holiday"
)

// ValidTypes lists all accepted record types.
var ValidTypes = []RecordType{
	TypeWork,
	TypeVacation,
	TypeHalfDayVacation,
	TypeSickLeave,
	TypeCompensatory,
	TypeTraining,
	TypeHoliday,
}

// IsValidType reports whether t is a known record type.
func IsValidType(t RecordType) bool {
	for _, v := range ValidTypes {
		if t == v {
			return true
		}
	}
	return false
}

// DeletionState tracks soft deletion. A deleted record stays in the local
// store until the remote peer has acknowledged the tombstone, so a re-sync
// cannot resurrect it.
type DeletionState string

const (
	DeletionLive      DeletionState = "live"
	DeletionPending   DeletionState = "deleted_pending"   // tombstone not yet acknowledged remotely
	DeletionConfirmed DeletionState = "deleted_confirmed" // safe to purge
)

// WorkRecord is one day's (or partial day's) time-tracking entry.
//
// TotalHours and OvertimeSeconds are derived values: they are recomputed from
// the other fields and the active policy on every mutation path and must
// never be set directly by callers.
type WorkRecord struct {
	ID              string        `json:"id"`
	Date            time.Time     `json:"date"`
	Type            RecordType    `json:"type"`
	StartTime       *time.Time    `json:"start_time,omitempty"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	BreakSeconds    int64         `json:"break_seconds"`
	BonusAmount     float64       `json:"bonus_amount"`
	TotalHours      float64       `json:"total_hours"`
	OvertimeSeconds int64         `json:"overtime_seconds"`
	Note            *string       `json:"note,omitempty"`
	LastModified    time.Time     `json:"last_modified"`
	RemoteVersion   string        `json:"remote_version,omitempty"`
	Deletion        DeletionState `json:"deletion"`
	Dirty           bool          `json:"-"`
}

// IsDeleted reports whether the record is soft-deleted (either pending or
// confirmed). Deleted records are excluded from listing and aggregation.
func (r *WorkRecord) IsDeleted() bool {
	return r.Deletion == DeletionPending || r.Deletion == DeletionConfirmed
}

// ValidationError describes an invalid record state rejected at the edit
// boundary. Invalid records are never persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid work record: %s: %s", e.Field, e.Message)
}

// Validate checks the record's invariants. For Work records with both times
// set, the end must be after the start and the break must fit inside the
// worked interval. A Work record with missing times is valid: that is a
// normal transient state while the user is still editing.
func (r *WorkRecord) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "id", Message: "must not be empty"}
	}
	if !IsValidType(r.Type) {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown type %q", r.Type)}
	}
	if r.BreakSeconds < 0 {
		return &ValidationError{Field: "break_seconds", Message: "must not be negative"}
	}
	if r.BonusAmount < 0 {
		return &ValidationError{Field: "bonus_amount", Message: "must not be negative"}
	}
	if r.Type == TypeWork && r.StartTime != nil && r.EndTime != nil {
		if !r.EndTime.After(*r.StartTime) {
			return &ValidationError{Field: "end_time", Message: "must be after start time"}
		}
		worked := int64(r.EndTime.Sub(*r.StartTime).Seconds())
		if r.BreakSeconds > worked {
			return &ValidationError{Field: "break_seconds", Message: "exceeds worked interval"}
		}
	}
	return nil
}
