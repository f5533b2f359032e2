package sync_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"worklogd/internal/database"
	"worklogd/internal/models"
	"worklogd/internal/policy"
	"worklogd/internal/remote"
	"worklogd/internal/repository"
	syncengine "worklogd/internal/sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePeer is a scriptable in-memory remote backend.
type fakePeer struct {
	availability   remote.Availability
	checkCalls     int
	ensureCalls    int
	subscribeCalls int
	ensureErr      error

	pages     []remote.PullPage
	pullCalls int
	onPull    func(call int) error

	pushFunc func(call int, rec models.ChangeRecord) (string, error)
	pushes   []models.ChangeRecord

	restorePages []remote.RestorePage
	restoreCalls int
}

func newFakePeer() *fakePeer {
	return &fakePeer{availability: remote.AvailabilityAvailable}
}

func (p *fakePeer) CheckAvailability(ctx context.Context) (remote.Availability, error) {
	p.checkCalls++
	return p.availability, nil
}

func (p *fakePeer) EnsureContainer(ctx context.Context) error {
	p.ensureCalls++
	return p.ensureErr
}

func (p *fakePeer) SubscribeToChanges(ctx context.Context) error {
	p.subscribeCalls++
	return nil
}

func (p *fakePeer) PullChanges(ctx context.Context, cursor string, limit int) (remote.PullPage, error) {
	call := p.pullCalls
	p.pullCalls++
	if p.onPull != nil {
		if err := p.onPull(call); err != nil {
			return remote.PullPage{}, err
		}
	}
	if call >= len(p.pages) {
		return remote.PullPage{NextCursor: cursor}, nil
	}
	return p.pages[call], nil
}

func (p *fakePeer) PushRecord(ctx context.Context, rec models.ChangeRecord) (string, error) {
	call := len(p.pushes)
	p.pushes = append(p.pushes, rec)
	if p.pushFunc != nil {
		return p.pushFunc(call, rec)
	}
	return "v1", nil
}

func (p *fakePeer) PullAll(ctx context.Context, pageToken string, limit int) (remote.RestorePage, error) {
	call := p.restoreCalls
	p.restoreCalls++
	if call >= len(p.restorePages) {
		return remote.RestorePage{}, nil
	}
	return p.restorePages[call], nil
}

type testEnv struct {
	engine   *syncengine.Engine
	repo     *repository.WorkRecordRepository
	policies *policy.Store
	cursors  *syncengine.CursorStore
	peer     *fakePeer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	policies, err := policy.NewStore(db.DB, policy.Default(), zap.NewNop())
	require.NoError(t, err)

	repo := repository.NewWorkRecordRepository(db.DB, zap.NewNop())
	cursors := syncengine.NewCursorStore(db.DB)
	peer := newFakePeer()

	cfg := syncengine.Config{
		PageSize:       10,
		CheckInterval:  60 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
	return &testEnv{
		engine:   syncengine.NewEngine(repo, peer, policies, cursors, cfg, zap.NewNop()),
		repo:     repo,
		policies: policies,
		cursors:  cursors,
		peer:     peer,
	}
}

func change(id string, modified time.Time, note string) models.ChangeRecord {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 2, 17, 30, 0, 0, time.UTC)
	return models.ChangeRecord{
		ID:            id,
		Date:          time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Type:          models.TypeWork,
		StartTime:     &start,
		EndTime:       &end,
		BreakSeconds:  1800,
		Note:          &note,
		ModifiedAt:    modified,
		RemoteVersion: "rv1",
	}
}

func TestSyncPullInsertsNewRecords(t *testing.T) {
	env := newTestEnv(t)
	modified := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

	incoming := change(uuid.NewString(), modified, "from remote")
	// The remote writer calculated under some other policy; the merge must
	// not trust its derived values.
	incoming.TotalHours = 99
	incoming.OvertimeSeconds = 12345

	env.peer.pages = []remote.PullPage{
		{Records: []models.ChangeRecord{incoming}, NextCursor: "c1"},
	}

	env.engine.SyncOnce(context.Background())

	st := env.engine.Status()
	assert.Equal(t, syncengine.StateIdle, st.State)
	assert.Empty(t, st.LastError)
	assert.Equal(t, 1, st.Pulled)
	require.NotNil(t, st.LastSync)

	got, err := env.repo.Get(incoming.ID)
	require.NoError(t, err)
	assert.InDelta(t, 8.0, got.TotalHours, 1e-9)
	assert.Zero(t, got.OvertimeSeconds)
	assert.True(t, got.LastModified.Equal(modified))
	assert.False(t, got.Dirty)

	cursor, err := env.cursors.Load()
	require.NoError(t, err)
	assert.Equal(t, "c1", cursor)
}

func TestMergeLastWriterWins(t *testing.T) {
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		localMod  time.Time
		remoteMod time.Time
		wantNote  string
	}{
		{"remote newer overwrites", base, base.Add(time.Hour), "remote"},
		{"local newer is kept", base.Add(time.Hour), base, "local"},
		{"exact tie goes to remote", base, base, "remote"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			id := uuid.NewString()

			local := change(id, tt.localMod, "local").ToWorkRecord()
			require.NoError(t, env.repo.ApplyRemote(local))

			env.peer.pages = []remote.PullPage{
				{Records: []models.ChangeRecord{change(id, tt.remoteMod, "remote")}, NextCursor: "c1"},
			}
			env.engine.SyncOnce(context.Background())

			got, err := env.repo.Get(id)
			require.NoError(t, err)
			require.NotNil(t, got.Note)
			assert.Equal(t, tt.wantNote, *got.Note)
		})
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.NewString()
	modified := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

	page := remote.PullPage{Records: []models.ChangeRecord{change(id, modified, "n")}, NextCursor: "c1"}
	env.peer.pages = []remote.PullPage{page, page}

	env.engine.SyncOnce(context.Background())
	first, err := env.repo.Get(id)
	require.NoError(t, err)

	env.engine.SyncOnce(context.Background())
	second, err := env.repo.Get(id)
	require.NoError(t, err)

	assert.Equal(t, first.Type, second.Type)
	assert.Equal(t, first.TotalHours, second.TotalHours)
	assert.Equal(t, first.OvertimeSeconds, second.OvertimeSeconds)
	assert.True(t, first.LastModified.Equal(second.LastModified))
	assert.Equal(t, first.Dirty, second.Dirty)
}

func TestPullFailureKeepsCursorAtLastMergedPage(t *testing.T) {
	env := newTestEnv(t)
	id1 := uuid.NewString()
	modified := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

	env.peer.pages = []remote.PullPage{
		{Records: []models.ChangeRecord{change(id1, modified, "page1")}, NextCursor: "p1", HasMore: true},
	}
	env.peer.onPull = func(call int) error {
		if call == 1 {
			return &remote.BackendError{Message: "boom", StatusCode: 500}
		}
		return nil
	}

	env.engine.SyncOnce(context.Background())

	st := env.engine.Status()
	assert.Equal(t, syncengine.StateError, st.State)
	assert.Contains(t, st.LastError, "pull failed")

	// Page 1 was merged and its cursor committed before the failure.
	_, err := env.repo.Get(id1)
	require.NoError(t, err)

	cursor, err := env.cursors.Load()
	require.NoError(t, err)
	assert.Equal(t, "p1", cursor)
}

func TestAvailabilityCheckIsThrottled(t *testing.T) {
	env := newTestEnv(t)

	env.engine.SyncOnce(context.Background())
	env.engine.SyncOnce(context.Background())

	assert.Equal(t, 1, env.peer.checkCalls)
}

func TestUnavailableBackendDegradesSilently(t *testing.T) {
	env := newTestEnv(t)
	env.peer.availability = remote.AvailabilityUnavailable

	// A local edit stays queued, not an error.
	rec := change(uuid.NewString(), time.Now(), "offline edit").ToWorkRecord()
	require.NoError(t, env.repo.Upsert(rec, env.policies.Get()))

	env.engine.SyncOnce(context.Background())

	st := env.engine.Status()
	assert.Equal(t, syncengine.StateIdle, st.State)
	assert.Empty(t, st.LastError)
	assert.Equal(t, remote.AvailabilityUnavailable, st.Availability)
	assert.Empty(t, env.peer.pushes)

	dirty, err := env.repo.AllDirty()
	require.NoError(t, err)
	assert.Len(t, dirty, 1)
}

func TestRestrictedAccountSurfacesMessage(t *testing.T) {
	env := newTestEnv(t)
	env.peer.availability = remote.AvailabilityRestricted

	env.engine.SyncOnce(context.Background())

	st := env.engine.Status()
	assert.Equal(t, remote.AvailabilityRestricted, st.Availability)
	assert.Contains(t, st.LastError, "restricted")
}

func TestBootstrapFailureRetriedOnNextSession(t *testing.T) {
	env := newTestEnv(t)
	env.peer.ensureErr = &remote.BackendError{Message: "zone down", StatusCode: 500}

	env.engine.SyncOnce(context.Background())
	assert.Equal(t, syncengine.StateError, env.engine.Status().State)
	assert.Equal(t, 1, env.peer.ensureCalls)

	env.peer.ensureErr = nil
	env.engine.SyncOnce(context.Background())
	assert.Equal(t, syncengine.StateIdle, env.engine.Status().State)
	assert.Equal(t, 2, env.peer.ensureCalls)
	assert.Equal(t, 1, env.peer.subscribeCalls)

	// Bootstrap is one-time once it succeeds.
	env.engine.SyncOnce(context.Background())
	assert.Equal(t, 2, env.peer.ensureCalls)
}

func TestPushDirtyRecords(t *testing.T) {
	env := newTestEnv(t)

	rec := change(uuid.NewString(), time.Now(), "local edit").ToWorkRecord()
	rec.RemoteVersion = ""
	require.NoError(t, env.repo.Upsert(rec, env.policies.Get()))

	env.peer.pushFunc = func(call int, c models.ChangeRecord) (string, error) {
		return "v9", nil
	}
	env.engine.SyncOnce(context.Background())

	require.Len(t, env.peer.pushes, 1)
	assert.Equal(t, rec.ID, env.peer.pushes[0].ID)
	assert.Equal(t, 1, env.engine.Status().Pushed)

	got, err := env.repo.Get(rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Dirty)
	assert.Equal(t, "v9", got.RemoteVersion)
}

func TestPushConflictRemoteWins(t *testing.T) {
	env := newTestEnv(t)

	rec := change(uuid.NewString(), time.Now(), "local").ToWorkRecord()
	require.NoError(t, env.repo.Upsert(rec, env.policies.Get()))

	server := change(rec.ID, time.Now().Add(time.Hour), "server")
	server.RemoteVersion = "rv2"
	env.peer.pushFunc = func(call int, c models.ChangeRecord) (string, error) {
		return "", &remote.ConflictError{Message: "diverged", Server: server}
	}

	env.engine.SyncOnce(context.Background())

	// Server copy won the merge: exactly one push attempt, no retry.
	assert.Len(t, env.peer.pushes, 1)
	assert.Equal(t, syncengine.StateIdle, env.engine.Status().State)

	got, err := env.repo.Get(rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Note)
	assert.Equal(t, "server", *got.Note)
	assert.False(t, got.Dirty)
}

func TestPushConflictLocalWinsRetriesOnce(t *testing.T) {
	env := newTestEnv(t)

	rec := change(uuid.NewString(), time.Now(), "local").ToWorkRecord()
	require.NoError(t, env.repo.Upsert(rec, env.policies.Get()))

	server := change(rec.ID, time.Now().Add(-time.Hour), "stale server")
	server.RemoteVersion = "rv2"
	env.peer.pushFunc = func(call int, c models.ChangeRecord) (string, error) {
		if call == 0 {
			return "", &remote.ConflictError{Message: "diverged", Server: server}
		}
		return "v3", nil
	}

	env.engine.SyncOnce(context.Background())

	require.Len(t, env.peer.pushes, 2)
	// The retry adopts the server's version token.
	assert.Equal(t, "rv2", env.peer.pushes[1].RemoteVersion)
	require.NotNil(t, env.peer.pushes[1].Note)
	assert.Equal(t, "local", *env.peer.pushes[1].Note)

	got, err := env.repo.Get(rec.ID)
	require.NoError(t, err)
	assert.False(t, got.Dirty)
	assert.Equal(t, "v3", got.RemoteVersion)
}

func TestPushTombstoneConfirmsAndPurges(t *testing.T) {
	env := newTestEnv(t)

	rec := change(uuid.NewString(), time.Now(), "to delete").ToWorkRecord()
	require.NoError(t, env.repo.Upsert(rec, env.policies.Get()))
	require.NoError(t, env.repo.SoftDelete(rec.ID))

	env.engine.SyncOnce(context.Background())

	require.Len(t, env.peer.pushes, 1)
	assert.True(t, env.peer.pushes[0].Deleted)

	// Acknowledged tombstones are purged at the end of the session.
	_, err := env.repo.Get(rec.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRemoteTombstoneDeletesLocalRecord(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.NewString()

	local := change(id, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), "local").ToWorkRecord()
	require.NoError(t, env.repo.ApplyRemote(local))

	tomb := change(id, time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC), "gone")
	tomb.Deleted = true
	env.peer.pages = []remote.PullPage{
		{Records: []models.ChangeRecord{tomb}, NextCursor: "c1"},
	}

	env.engine.SyncOnce(context.Background())

	// Remote tombstone is already acknowledged, so it gets purged.
	_, err := env.repo.Get(id)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestFullRestore(t *testing.T) {
	env := newTestEnv(t)
	modified := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	id1, id2, id3 := uuid.NewString(), uuid.NewString(), uuid.NewString()

	env.peer.restorePages = []remote.RestorePage{
		{
			Records:   []models.ChangeRecord{change(id1, modified, "a"), change(id2, modified, "b")},
			NextToken: "t1",
			Total:     3,
			HasMore:   true,
		},
		{
			Records: []models.ChangeRecord{change(id3, modified, "c")},
			Total:   3,
		},
	}

	env.engine.RestoreOnce(context.Background())

	st := env.engine.Status()
	assert.Equal(t, syncengine.StateIdle, st.State)
	assert.Empty(t, st.LastError)
	assert.Equal(t, 3, st.Pulled)
	assert.Zero(t, st.Progress)

	for _, id := range []string{id1, id2, id3} {
		_, err := env.repo.Get(id)
		require.NoError(t, err)
	}

	// Restore runs its own pagination; the incremental cursor is untouched.
	cursor, err := env.cursors.Load()
	require.NoError(t, err)
	assert.Empty(t, cursor)
	assert.Zero(t, env.peer.pullCalls)
}

func TestRunRecomputesOnPolicyChange(t *testing.T) {
	env := newTestEnv(t)

	rec := change(uuid.NewString(), time.Now(), "eight hours").ToWorkRecord()
	require.NoError(t, env.repo.Upsert(rec, env.policies.Get()))

	got, err := env.repo.Get(rec.ID)
	require.NoError(t, err)
	require.Zero(t, got.OvertimeSeconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.engine.Run(ctx)

	p := env.policies.Get()
	p.StandardDailyHours = 7
	require.NoError(t, env.policies.Set(p))

	require.Eventually(t, func() bool {
		got, err := env.repo.Get(rec.ID)
		return err == nil && got.OvertimeSeconds == 3600
	}, 2*time.Second, 10*time.Millisecond)
}
