// Package remote defines the contract with the cloud backend that holds the
// user's synchronized work records, plus an HTTP implementation of it.
package remote

import (
	"context"
	"errors"

	"worklogd/internal/models"
)

// Availability is the backend account state as last observed.
type Availability string

const (
	AvailabilityUnknown     Availability = "unknown"
	AvailabilityAvailable   Availability = "available"
	AvailabilityUnavailable Availability = "unavailable"
	AvailabilityRestricted  Availability = "restricted"
)

// PullPage is one page of incremental changes.
type PullPage struct {
	Records    []models.ChangeRecord
	NextCursor string
	HasMore    bool
}

// RestorePage is one page of a full-restore pagination. Total is the
// server's best-effort estimate of the overall record count and may grow as
// pagination proceeds.
type RestorePage struct {
	Records   []models.ChangeRecord
	NextToken string
	Total     int
	HasMore   bool
}

// Peer is the remote sync backend. All calls are blocking and honor ctx.
type Peer interface {
	// CheckAvailability probes the account state.
	CheckAvailability(ctx context.Context) (Availability, error)

	// EnsureContainer creates the user's record container if absent.
	// Idempotent.
	EnsureContainer(ctx context.Context) error

	// SubscribeToChanges registers for push-based change notification.
	// Idempotent.
	SubscribeToChanges(ctx context.Context) error

	// PullChanges fetches changes after cursor. An empty cursor means
	// "from the beginning".
	PullChanges(ctx context.Context, cursor string, limit int) (PullPage, error)

	// PushRecord uploads one record and returns its new version token.
	// A version mismatch yields a *ConflictError carrying the server copy.
	PushRecord(ctx context.Context, rec models.ChangeRecord) (string, error)

	// PullAll paginates through every record the server holds. It is
	// restartable from scratch only; tokens from one run are not valid
	// across runs.
	PullAll(ctx context.Context, pageToken string, limit int) (RestorePage, error)
}

// UnavailableError covers network failures and backend outages. Sync
// degrades to offline mode and retries on a later trigger.
type UnavailableError struct {
	Message string
	Err     error
}

func (e *UnavailableError) Error() string { return e.Message }
func (e *UnavailableError) Unwrap() error { return e.Err }

// QuotaError is the backend refusing writes for capacity reasons. Treated
// like unavailability: retryable, never fatal.
type QuotaError struct {
	Message    string
	StatusCode int
}

func (e *QuotaError) Error() string { return e.Message }

// RestrictedError means the account is not allowed to sync (auth revoked,
// account locked). Not retryable without user action.
type RestrictedError struct {
	Message    string
	StatusCode int
}

func (e *RestrictedError) Error() string { return e.Message }

// ConflictError is a push rejected because the record diverged remotely.
// Server carries the backend's current copy for merge-then-retry.
type ConflictError struct {
	Message string
	Server  models.ChangeRecord
}

func (e *ConflictError) Error() string { return e.Message }

// BackendError is any other unexpected remote failure.
type BackendError struct {
	Message    string
	StatusCode int
}

func (e *BackendError) Error() string { return e.Message }

// IsUnavailable reports whether err should degrade sync to offline mode
// rather than surface as a hard error. Quota exhaustion counts.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	var qe *QuotaError
	return errors.As(err, &ue) || errors.As(err, &qe)
}

// IsRestricted reports whether err marks the account as restricted.
func IsRestricted(err error) bool {
	var re *RestrictedError
	return errors.As(err, &re)
}
