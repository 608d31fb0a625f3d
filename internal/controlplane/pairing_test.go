package controlplane

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"family-safety-control/internal/events"
	"family-safety-control/internal/model"
)

func TestPairing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")

	pending, err := env.store.StartPairing(ctx, child, "parent")
	require.NoError(t, err)
	assert.Len(t, pending.Code, 6)
	assert.Equal(t, testStart.Add(10*time.Minute), pending.ExpiresAt)

	got, ok := env.store.PendingPairing(ctx, child)
	require.True(t, ok)
	assert.Equal(t, pending.Code, got.Code)

	res, err := env.store.CompletePairing(ctx, " "+pending.Code+" ", "Kid\u0007's   Laptop", "2.0.1")
	require.NoError(t, err)
	assert.Equal(t, child, res.ChildID)
	assert.True(t, strings.HasPrefix(res.DeviceID, "dev-"))
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, testStart.Add(30*24*time.Hour), res.ExpiresAt)

	devices := env.store.GetDevices(ctx, child)
	require.Len(t, devices, 1)
	assert.Equal(t, "Kid's Laptop", devices[0].Name)
	assert.Equal(t, "2.0.1", devices[0].AgentVersion)

	_, err = env.store.CompletePairing(ctx, pending.Code, "Second", "")
	assert.ErrorIs(t, err, ErrPairingNotFound, "codes are single use")

	_, ok = env.store.PendingPairing(ctx, child)
	assert.False(t, ok)
	assert.Contains(t, env.events.Topics(), events.TopicDevicePaired)
}

func TestPairing_Expired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")

	pending, err := env.store.StartPairing(ctx, child, "parent")
	require.NoError(t, err)

	env.clock.Advance(10 * time.Minute)
	_, err = env.store.CompletePairing(ctx, pending.Code, "Laptop", "")
	assert.ErrorIs(t, err, ErrPairingNotFound)
	assert.Empty(t, env.store.GetDevices(ctx, child))
}

func TestPairing_RestartReplacesCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")

	first, err := env.store.StartPairing(ctx, child, "parent")
	require.NoError(t, err)
	second, err := env.store.StartPairing(ctx, child, "parent")
	require.NoError(t, err)

	if first.Code != second.Code {
		_, err = env.store.CompletePairing(ctx, first.Code, "Laptop", "")
		assert.ErrorIs(t, err, ErrPairingNotFound)
	}
	_, err = env.store.CompletePairing(ctx, second.Code, "Laptop", "")
	assert.NoError(t, err)
}

func TestPairing_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, code := range []string{"", "12345", "1234567890", "12a456"} {
		_, err := env.store.CompletePairing(ctx, code, "Laptop", "")
		assert.ErrorIs(t, err, ErrInvalidInput, code)
	}

	child := env.child(t, "Ada")
	_, _, err := env.store.ArchiveChild(ctx, child, "parent")
	require.NoError(t, err)
	_, err = env.store.StartPairing(ctx, child, "parent")
	assert.ErrorIs(t, err, ErrChildArchived)
}

func pairDevice(t *testing.T, env *testEnv, child model.ChildID) PairResult {
	t.Helper()
	ctx := context.Background()
	pending, err := env.store.StartPairing(ctx, child, "parent")
	require.NoError(t, err)
	res, err := env.store.CompletePairing(ctx, pending.Code, "Laptop", "1.0.0")
	require.NoError(t, err)
	return res
}

func TestRevokeToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")
	dev := pairDevice(t, env, child)

	_, ok := env.store.ValidateToken(ctx, child, dev.Token)
	require.True(t, ok)

	owner, found, err := env.store.RevokeToken(ctx, dev.DeviceID, "parent")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, child, owner)

	_, ok = env.store.ValidateToken(ctx, child, dev.Token)
	assert.False(t, ok, "revoked token is rejected")

	devices := env.store.GetDevices(ctx, child)
	require.Len(t, devices, 1, "revoked device is kept")
	require.NotNil(t, devices[0].TokenRevokedAt)
	assert.Equal(t, testStart, *devices[0].TokenRevokedAt)

	_, found, err = env.store.RevokeToken(ctx, dev.DeviceID, "parent")
	assert.NoError(t, err, "revoking twice is a no-op")
	assert.True(t, found)

	_, found, err = env.store.RevokeToken(ctx, "dev-missing", "parent")
	assert.NoError(t, err)
	assert.False(t, found)

	_, _, err = env.store.RotateToken(ctx, dev.DeviceID, "parent")
	assert.ErrorIs(t, err, ErrTokenRevoked)

	_, err = env.store.Heartbeat(ctx, child, dev.Token, model.HeartbeatReport{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	reopened := env.reopen(t)
	_, ok = reopened.ValidateToken(ctx, child, dev.Token)
	assert.False(t, ok, "revocation survives reload")
}

func TestValidateToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ada := env.child(t, "Ada")
	bob := env.child(t, "Bob")
	dev := pairDevice(t, env, ada)

	_, ok := env.store.ValidateToken(ctx, bob, dev.Token)
	assert.False(t, ok, "token is bound to its child")
	_, ok = env.store.ValidateToken(ctx, ada, "")
	assert.False(t, ok)
	_, ok = env.store.ValidateToken(ctx, ada, dev.Token+"x")
	assert.False(t, ok)
	id, ok := env.store.ValidateToken(ctx, ada, dev.Token)
	assert.True(t, ok)
	assert.Equal(t, dev.DeviceID, id)

	// A record without a stored hash never matches.
	env.store.mu.Lock()
	env.store.devices[dev.DeviceID].TokenHash = ""
	env.store.mu.Unlock()
	_, ok = env.store.ValidateToken(ctx, ada, dev.Token)
	assert.False(t, ok)
	env.store.mu.Lock()
	env.store.devices[dev.DeviceID].TokenHash = env.store.hasher.Hash(dev.Token)
	env.store.mu.Unlock()

	env.clock.Advance(30 * 24 * time.Hour)
	_, ok = env.store.ValidateToken(ctx, ada, dev.Token)
	assert.False(t, ok, "expired token is rejected")
}

func TestRotateToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")
	dev := pairDevice(t, env, child)

	env.clock.Advance(time.Hour)
	rotated, found, err := env.store.RotateToken(ctx, dev.DeviceID, "parent")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEqual(t, dev.Token, rotated.Token)
	assert.Equal(t, testStart.Add(time.Hour+30*24*time.Hour), rotated.ExpiresAt)

	_, ok := env.store.ValidateToken(ctx, child, dev.Token)
	assert.False(t, ok)
	id, ok := env.store.ValidateToken(ctx, child, rotated.Token)
	assert.True(t, ok)
	assert.Equal(t, dev.DeviceID, id)
}

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"  Kid   Laptop ", 64, "Kid Laptop"},
		{"tab\there", 64, "tab here"},
		{"bell\u0007", 64, "bell"},
		{"e\u0301cole", 64, "\u00e9cole"},
		{"abcdef", 3, "abc"},
		{"ab cd", 3, "ab"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeLabel(tt.in, tt.max), tt.in)
	}
}
