// Package sync reconciles the local work-record store with the remote peer:
// it pushes dirty local edits, pulls remote change batches, and merges both
// sides with last-writer-wins semantics per record.
package sync

import (
	"context"
	"fmt"
	"time"

	"worklogd/internal/policy"
	"worklogd/internal/remote"
	"worklogd/internal/repository"

	"go.uber.org/zap"
)

// State is the engine's externally visible state.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateError   State = "error"
)

// Status is a snapshot of the engine for presentation.
type Status struct {
	State        State
	Availability remote.Availability
	LastSync     *time.Time
	LastError    string
	// Progress is the fractional completion of a running full restore,
	// 0 when no restore is active.
	Progress float64
	Pushed   int
	Pulled   int
}

// Config tunes the engine.
type Config struct {
	// PageSize bounds pull and restore pages.
	PageSize int
	// SyncInterval is the periodic sync cadence in Run. Zero disables the
	// ticker; syncs then happen only on explicit triggers.
	SyncInterval time.Duration
	// CheckInterval rate-limits availability probes. Checks inside the
	// window return the cached value.
	CheckInterval time.Duration
	// RequestTimeout bounds each remote operation.
	RequestTimeout time.Duration
}

// DefaultConfig matches the backend's documented limits.
func DefaultConfig() Config {
	return Config{
		PageSize:       100,
		SyncInterval:   5 * time.Minute,
		CheckInterval:  60 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

type commandKind int

const (
	cmdSync commandKind = iota
	cmdRestore
)

// Engine owns all mutations of the local record collection. Commands and
// policy change events are consumed by a single goroutine in Run, so a user
// edit applied through the engine can never race a remote merge.
type Engine struct {
	repo     *repository.WorkRecordRepository
	peer     remote.Peer
	policies *policy.Store
	cursors  *CursorStore
	cfg      Config
	logger   *zap.Logger

	commands chan commandKind

	// Owned by the run loop.
	generation   int64
	bootstrapped bool
	lastCheck    time.Time

	status observableStatus
}

func NewEngine(
	repo *repository.WorkRecordRepository,
	peer remote.Peer,
	policies *policy.Store,
	cursors *CursorStore,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}

	e := &Engine{
		repo:     repo,
		peer:     peer,
		policies: policies,
		cursors:  cursors,
		cfg:      cfg,
		logger:   logger,
		commands: make(chan commandKind, 2),
	}
	e.status.set(Status{State: StateIdle, Availability: remote.AvailabilityUnknown})

	// Later sessions must outrank whatever generation last touched the
	// cursor, including ones from a previous process.
	if gen, err := cursors.Generation(); err == nil {
		e.generation = gen
	}
	return e
}

// Status returns the current engine snapshot.
func (e *Engine) Status() Status {
	return e.status.get()
}

// TriggerSync queues an incremental sync. Returns an error when a trigger is
// already pending; the queued run will pick up all state anyway.
func (e *Engine) TriggerSync() error {
	select {
	case e.commands <- cmdSync:
		return nil
	default:
		return fmt.Errorf("sync already queued")
	}
}

// TriggerFullRestore queues a full restore: every remote record is pulled
// and merged, independent of the incremental cursor.
func (e *Engine) TriggerFullRestore() error {
	select {
	case e.commands <- cmdRestore:
		return nil
	default:
		return fmt.Errorf("restore already queued")
	}
}

// Run is the engine's owner loop. It serializes sync sessions, periodic
// ticks and policy-change recomputes until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Sync engine started",
		zap.Duration("interval", e.cfg.SyncInterval),
		zap.Int("page_size", e.cfg.PageSize),
	)

	var tick <-chan time.Time
	if e.cfg.SyncInterval > 0 {
		ticker := time.NewTicker(e.cfg.SyncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Sync engine stopped")
			return
		case cmd := <-e.commands:
			switch cmd {
			case cmdSync:
				e.SyncOnce(ctx)
			case cmdRestore:
				e.RestoreOnce(ctx)
			}
		case <-tick:
			e.SyncOnce(ctx)
		case p := <-e.policies.Events():
			if _, err := e.repo.RecomputeAll(p); err != nil {
				e.logger.Error("Bulk recompute after policy change failed", zap.Error(err))
			}
		}
	}
}

// SyncOnce runs one incremental sync session: availability gate, bootstrap,
// push dirty records, pull remote pages, purge acknowledged tombstones.
// Exposed for one-shot CLI use; Run calls it from the owner loop.
func (e *Engine) SyncOnce(ctx context.Context) {
	e.generation++
	gen := e.generation

	if !e.gate(ctx) {
		return
	}

	e.status.update(func(s *Status) {
		s.State = StateSyncing
		s.LastError = ""
		s.Pushed = 0
		s.Pulled = 0
	})

	pol := e.policies.Get()

	pushed, err := e.pushDirty(ctx, pol)
	e.status.update(func(s *Status) { s.Pushed = pushed })
	if err != nil {
		e.fail("push failed", err)
		return
	}

	pulled, err := e.pullChanges(ctx, gen, pol)
	e.status.update(func(s *Status) { s.Pulled = pulled })
	if err != nil {
		e.fail("pull failed", err)
		return
	}

	if _, err := e.repo.PurgeConfirmedTombstones(); err != nil {
		e.logger.Error("Tombstone purge failed", zap.Error(err))
	}

	now := time.Now()
	e.status.update(func(s *Status) {
		s.State = StateIdle
		s.LastSync = &now
	})
	e.logger.Info("Sync completed",
		zap.Int("pushed", pushed),
		zap.Int("pulled", pulled),
	)
}

// gate checks availability (throttled) and runs the one-time bootstrap.
// Returns false when sync should not proceed.
func (e *Engine) gate(ctx context.Context) bool {
	avail := e.checkAvailability(ctx)
	if avail != remote.AvailabilityAvailable {
		e.status.update(func(s *Status) {
			s.State = StateIdle
			if avail == remote.AvailabilityRestricted {
				s.LastError = "account is restricted; sync disabled"
			}
		})
		e.logger.Info("Skipping sync, backend not available",
			zap.String("availability", string(avail)),
		)
		return false
	}

	if !e.bootstrapped {
		if err := e.bootstrap(ctx); err != nil {
			// Retried on the next Available session, not immediately:
			// a tight retry loop against a struggling backend helps
			// nobody.
			e.fail("bootstrap failed", err)
			return false
		}
		e.bootstrapped = true
	}
	return true
}

// checkAvailability probes the backend at most once per CheckInterval and
// serves the cached state in between.
func (e *Engine) checkAvailability(ctx context.Context) remote.Availability {
	cached := e.status.get().Availability
	if time.Since(e.lastCheck) < e.cfg.CheckInterval && cached != remote.AvailabilityUnknown {
		return cached
	}

	opCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	avail, err := e.peer.CheckAvailability(opCtx)
	if err != nil {
		e.logger.Warn("Availability check failed", zap.Error(err))
		avail = remote.AvailabilityUnavailable
	}
	e.lastCheck = time.Now()
	e.status.update(func(s *Status) { s.Availability = avail })
	return avail
}

// bootstrap makes sure the remote container exists and this device receives
// change notifications. Both calls are idempotent on the backend.
func (e *Engine) bootstrap(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	if err := e.peer.EnsureContainer(opCtx); err != nil {
		return fmt.Errorf("failed to ensure container: %w", err)
	}
	if err := e.peer.SubscribeToChanges(opCtx); err != nil {
		return fmt.Errorf("failed to subscribe to changes: %w", err)
	}
	e.logger.Info("Sync bootstrap completed")
	return nil
}

// fail records a failed session. Unavailability and quota exhaustion degrade
// to offline mode silently; everything else surfaces as an error message.
func (e *Engine) fail(stage string, err error) {
	switch {
	case remote.IsUnavailable(err):
		e.status.update(func(s *Status) {
			s.State = StateIdle
			s.Availability = remote.AvailabilityUnavailable
		})
		e.logger.Warn("Backend unavailable, staying offline", zap.Error(err))
	case remote.IsRestricted(err):
		e.status.update(func(s *Status) {
			s.State = StateIdle
			s.Availability = remote.AvailabilityRestricted
			s.LastError = "account is restricted; sync disabled"
		})
		e.logger.Warn("Backend restricted", zap.Error(err))
	default:
		msg := fmt.Sprintf("%s: %v", stage, err)
		e.status.update(func(s *Status) {
			s.State = StateError
			s.LastError = msg
		})
		e.logger.Error("Sync failed", zap.String("stage", stage), zap.Error(err))
	}
}
