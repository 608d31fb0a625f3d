package controlplane

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"family-safety-control/internal/events"
	"family-safety-control/internal/model"
	"family-safety-control/internal/snapshot"
	"family-safety-control/internal/utils"
)

type memAdapter struct {
	mu          sync.Mutex
	data        []byte
	loadErr     error
	saveErr     error
	saves       int
	quarantined [][]byte
}

func (m *memAdapter) Name() string { return "memory" }

func (m *memAdapter) Load(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]byte(nil), m.data...), nil
}

func (m *memAdapter) Save(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *memAdapter) Health(ctx context.Context) error { return nil }
func (m *memAdapter) Close() error                     { return nil }

func (m *memAdapter) Quarantine(ctx context.Context, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quarantined = append(m.quarantined, m.data)
	m.data = nil
	return "memory/corrupt", nil
}

func (m *memAdapter) failSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func ptr[T any](v T) *T { return &v }

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	store   *Store
	adapter *memAdapter
	clock   *testClock
	events  *events.Recorder
	opts    Options
}

var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	env := &testEnv{
		adapter: &memAdapter{},
		clock:   &testClock{t: testStart},
		events:  &events.Recorder{},
	}
	env.opts = Options{
		Adapter:   env.adapter,
		Secret:    "test-secret",
		Publisher: env.events,
		Now:       env.clock.Now,
		Location:  time.UTC,
		DataDir:   t.TempDir(),
	}
	for _, fn := range mutate {
		fn(&env.opts)
	}
	s, err := Open(context.Background(), env.opts)
	require.NoError(t, err)
	env.store = s
	return env
}

// reopen builds a second store on top of the same adapter.
func (env *testEnv) reopen(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), env.opts)
	require.NoError(t, err)
	return s
}

func (env *testEnv) child(t *testing.T, name string) model.ChildID {
	t.Helper()
	c, err := env.store.CreateChild(context.Background(), name, "parent")
	require.NoError(t, err)
	return c.ID
}

func TestOpen_SeedsEmptyStorage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	children := env.store.ListChildren(ctx, false)
	require.Len(t, children, 1)
	assert.Equal(t, SeedChildName, children[0].Name)
	assert.Equal(t, utils.StableChildID(SeedChildName), children[0].ID)

	p, err := env.store.GetPolicy(ctx, children[0].ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.Version)
	assert.Equal(t, model.ModeOpen, p.Mode)

	assert.NotEmpty(t, env.adapter.data, "seed state is persisted")
	snap, up, err := snapshot.Decode(env.adapter.data)
	require.NoError(t, err)
	assert.False(t, up.Needed)
	assert.Len(t, snap.Children, 1)
}

func TestOpen_CorruptSnapshotIsQuarantined(t *testing.T) {
	adapter := &memAdapter{data: []byte(`{"schemaVersion": 3, "children": [`)}
	env := newTestEnv(t, func(o *Options) { o.Adapter = adapter })

	require.Len(t, adapter.quarantined, 1)
	assert.Equal(t, `{"schemaVersion": 3, "children": [`, string(adapter.quarantined[0]))

	children := env.store.ListChildren(context.Background(), true)
	require.Len(t, children, 1)
	assert.Equal(t, SeedChildName, children[0].Name)
	_, _, err := snapshot.Decode(adapter.data)
	assert.NoError(t, err, "seed replaced the unreadable snapshot")
}

func TestOpen_LoadErrorFails(t *testing.T) {
	adapter := &memAdapter{loadErr: errors.New("disk on fire")}
	_, err := Open(context.Background(), Options{Adapter: adapter})
	assert.ErrorContains(t, err, "disk on fire")

	_, err = Open(context.Background(), Options{})
	assert.Error(t, err)
}

func TestPersistFailureIsReported(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := utils.StableChildID(SeedChildName)

	env.adapter.failSaves(errors.New("read-only filesystem"))
	p, err := env.store.UpsertPolicy(ctx, child, model.PolicyPatch{AlwaysAllowed: ptr(true)}, "parent")
	require.ErrorIs(t, err, ErrPersist)
	assert.ErrorContains(t, err, "read-only filesystem")
	assert.EqualValues(t, 2, p.Version, "change stays in memory")

	env.adapter.failSaves(nil)
	require.NoError(t, env.store.Flush(ctx))
	reopened := env.reopen(t)
	got, err := reopened.GetPolicy(ctx, child)
	require.NoError(t, err)
	assert.True(t, got.AlwaysAllowed)
}

func TestRoundTripAfterReload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")

	_, err := env.store.UpsertPolicy(ctx, child, model.PolicyPatch{
		BlockedDomains: []string{"https://www.Example.com/path"},
		ScreenTime:     &model.ScreenTime{DailyBudgetMinutes: 90},
	}, "parent")
	require.NoError(t, err)

	pending, err := env.store.StartPairing(ctx, child, "parent")
	require.NoError(t, err)
	paired, err := env.store.CompletePairing(ctx, pending.Code, "Laptop", "1.4.0")
	require.NoError(t, err)

	req, _, err := env.store.CreateRequest(ctx, NewRequest{ChildID: child, Type: model.RequestMoreTime, ExtraMinutes: 30})
	require.NoError(t, err)
	_, _, _, err = env.store.DecideRequest(ctx, req.ID, RequestDecision{Approve: true})
	require.NoError(t, err)

	reopened := env.reopen(t)

	p, err := reopened.GetPolicy(ctx, child)
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.Version)
	assert.Equal(t, []string{"example.com"}, p.BlockedDomains)

	devices := reopened.GetDevices(ctx, child)
	require.Len(t, devices, 1)
	assert.Equal(t, paired.DeviceID, devices[0].ID)
	assert.Empty(t, devices[0].TokenHash, "hashes never leave the store")

	id, ok := reopened.ValidateToken(ctx, child, paired.Token)
	assert.True(t, ok)
	assert.Equal(t, paired.DeviceID, id)

	assert.Len(t, reopened.ActiveGrants(ctx, child), 1)
	assert.True(t, reopened.VerifyAudit(ctx, child).Valid)
	assert.Equal(t, env.store.ListChildren(ctx, true), reopened.ListChildren(ctx, true))
}

func TestOpen_NormalizesLegacyDevices(t *testing.T) {
	child := utils.StableChildID("Legacy")
	paired := testStart.Add(-48 * time.Hour)
	revoked := testStart.Add(-time.Hour)
	snap := &snapshot.Snapshot{
		Devices: []model.Device{
			{ID: "dev-a", ChildID: child, Name: "old", PairedAt: paired},
			{ID: "dev-a", ChildID: child, Name: "new", PairedAt: paired.Add(time.Hour), TokenHash: "x"},
			{ID: "dev-b", ChildID: child, PairedAt: paired, TokenHash: "y", TokenRevokedAt: &revoked},
		},
	}
	data, err := snapshot.Encode(snap)
	require.NoError(t, err)

	adapter := &memAdapter{data: data}
	env := newTestEnv(t, func(o *Options) { o.Adapter = adapter })
	ctx := context.Background()

	devices := env.store.GetDevices(ctx, child)
	require.Len(t, devices, 2)
	byID := map[string]model.Device{}
	for _, d := range devices {
		byID[d.ID] = d
	}
	assert.Equal(t, "new", byID["dev-a"].Name)
	require.NotNil(t, byID["dev-a"].TokenIssuedAt)
	assert.Equal(t, paired.Add(time.Hour), byID["dev-a"].TokenIssuedAt.UTC())
	require.NotNil(t, byID["dev-b"].TokenExpiresAt)
	assert.Equal(t, revoked, byID["dev-b"].TokenExpiresAt.UTC(), "expiry clamped to revocation")

	_, ok := env.store.GetChild(ctx, child)
	assert.True(t, ok, "device owner is created on load")
}

func TestOpen_PersistsDeduplicatedDevices(t *testing.T) {
	child := utils.StableChildID("Twice")
	paired := testStart.Add(-24 * time.Hour)
	issued := paired
	expires := testStart.Add(24 * time.Hour)
	first := model.Device{ID: "dev-a", ChildID: child, Name: "old", PairedAt: paired,
		TokenHash: "x", TokenIssuedAt: &issued, TokenExpiresAt: &expires}
	second := first
	second.Name = "new"
	second.PairedAt = paired.Add(time.Hour)
	snap := &snapshot.Snapshot{
		Children: []model.Child{{ID: child, Name: "Twice", CreatedAt: paired}},
		Devices:  []model.Device{first, second},
	}
	data, err := snapshot.Encode(snap)
	require.NoError(t, err)

	adapter := &memAdapter{data: data}
	env := newTestEnv(t, func(o *Options) { o.Adapter = adapter })
	ctx := context.Background()

	devices := env.store.GetDevices(ctx, child)
	require.Len(t, devices, 1)
	assert.Equal(t, "new", devices[0].Name)

	adapter.mu.Lock()
	saves, stored := adapter.saves, adapter.data
	adapter.mu.Unlock()
	assert.Positive(t, saves, "duplicates are written back on open")
	loaded, _, err := snapshot.Decode(stored)
	require.NoError(t, err)
	require.Len(t, loaded.Devices, 1)
	assert.Equal(t, paired.Add(time.Hour), loaded.Devices[0].PairedAt.UTC())
}

func TestSideEffectsRunAfterUnlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := utils.StableChildID(SeedChildName)

	done := make(chan struct{})
	env.store.mu.Lock()
	env.store.afterUnlock(func(ctx context.Context) {
		// Re-entering the store would deadlock if the lock were still held.
		env.store.ListChildren(ctx, false)
		close(done)
	})
	env.store.unlock(ctx)
	<-done

	_, err := env.store.UpsertPolicy(ctx, child, model.PolicyPatch{}, "parent")
	require.NoError(t, err)
	assert.Contains(t, env.events.Topics(), events.TopicPolicyUpdated)
}
