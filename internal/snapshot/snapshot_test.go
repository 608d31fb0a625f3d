package snapshot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"family-safety-control/internal/model"
)

const v1Document = `{
	"schemaVersion": 1,
	"children": [{"id": "6f1c1a39-8c43-4b43-9a44-2a1b7d0c9e01", "name": "Ada"}],
	"policies": [{"childId": "6f1c1a39-8c43-4b43-9a44-2a1b7d0c9e01", "version": 4, "mode": "bedtime"}],
	"devices": [{
		"id": "dev-1",
		"childId": "6f1c1a39-8c43-4b43-9a44-2a1b7d0c9e01",
		"name": "Kid-PC",
		"pairedAt": "2025-01-02T03:04:05Z",
		"tokenHash": "abc"
	}],
	"someFieldFromTheFuture": {"x": 1}
}`

func TestDecode_LazyUpgradeFromV1(t *testing.T) {
	s, up, err := Decode([]byte(v1Document))
	require.NoError(t, err)

	assert.True(t, up.Needed)
	assert.Equal(t, 1, up.FromVersion)
	assert.Equal(t, CurrentSchemaVersion, s.SchemaVersion)

	require.Len(t, s.Policies, 1)
	assert.Equal(t, model.ModeBedtime, s.Policies[0].Mode)
	assert.Equal(t, int64(4), s.Policies[0].Version)

	require.Len(t, s.Devices, 1)
	require.NotNil(t, s.Devices[0].TokenIssuedAt)
	assert.True(t, s.Devices[0].TokenIssuedAt.Equal(s.Devices[0].PairedAt))

	// collections introduced later are present and empty
	assert.NotNil(t, s.Profiles)
	assert.NotNil(t, s.Diagnostics)
}

func TestDecode_CurrentVersionNeedsNoUpgrade(t *testing.T) {
	data, err := Encode(&Snapshot{})
	require.NoError(t, err)

	_, up, err := Decode(data)
	require.NoError(t, err)
	assert.False(t, up.Needed)
	assert.False(t, up.Newer)
}

func TestDecode_NewerVersionIsAccepted(t *testing.T) {
	_, up, err := Decode([]byte(`{"schemaVersion": 99, "children": []}`))
	require.NoError(t, err)
	assert.True(t, up.Newer)
	assert.False(t, up.Needed)
}

func TestDecode_Corrupt(t *testing.T) {
	_, _, err := Decode(nil)
	assert.ErrorIs(t, err, ErrEmptySnapshot)

	_, _, err = Decode([]byte(`{"schemaVersion": 3, "children": [`))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestRoundTrip(t *testing.T) {
	child := uuid.New()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)

	in := &Snapshot{
		Children: []model.Child{{ID: child, Name: "Ada", CreatedAt: now}},
		Policies: []model.Policy{model.DefaultPolicy(child, now)},
		Devices: []model.Device{{
			ID: "dev-1", ChildID: child, Name: "Kid-PC", PairedAt: now,
			TokenHash: "h", TokenIssuedAt: &now, TokenExpiresAt: &expires,
		}},
		Requests: []model.AccessRequest{{ID: "req-1", ChildID: child, Type: model.RequestMoreTime, Status: model.RequestPending, CreatedAt: now}},
		Grants:   []model.Grant{{ID: "gr-1", ChildID: child, RequestID: "req-1", Type: model.RequestMoreTime, ExpiresAt: expires}},
		Audit: []model.AuditEntry{
			{ID: "a1", ChildID: child, Timestamp: now, Action: "x", PayloadHash: "p1", AfterHash: "h1"},
			{ID: "a2", ChildID: child, Timestamp: now, Action: "y", PayloadHash: "p2", BeforeHash: "h1", AfterHash: "h2"},
		},
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, up, err := Decode(data)
	require.NoError(t, err)
	assert.False(t, up.Needed)

	// compare as JSON: nil vs empty collections are normalized on both sides
	ensureCollections(in)
	want, err := json.Marshal(in)
	require.NoError(t, err)
	got, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(got))
}
