package profile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeDefaults_NilDocument(t *testing.T) {
	doc := MergeDefaults(nil)
	require.NotNil(t, doc.Policy)
	assert.Equal(t, "Open", *doc.Policy.Mode)
	assert.True(t, *doc.Policy.SafeSearch)
	assert.Equal(t, "system", *doc.UI.Theme)
}

func TestMergeDefaults_AddsMissingFieldKeepsExisting(t *testing.T) {
	// Stored by an older writer: no safeSearch, no integrity block, no ui.
	stored := `{
		"policyVersion": 7,
		"policy": {
			"mode": "Homework",
			"dailyBudgetMinutes": 90,
			"blockedApps": ["game.exe"],
			"bedtime": {"enabled": true, "start": "20:30"}
		},
		"notifications": {"accessRequests": false}
	}`
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(stored), &doc))

	MergeDefaults(&doc)

	assert.Equal(t, int64(7), doc.PolicyVersion)
	assert.Equal(t, "Homework", *doc.Policy.Mode)
	assert.Equal(t, 90, *doc.Policy.DailyBudgetMinutes)
	assert.Equal(t, []string{"game.exe"}, doc.Policy.BlockedApps)

	// new fields populated with documented defaults
	require.NotNil(t, doc.Policy.SafeSearch)
	assert.True(t, *doc.Policy.SafeSearch)
	require.NotNil(t, doc.Policy.Integrity)
	assert.True(t, *doc.Policy.Integrity.AlertOnHostsWriteFailure)
	assert.Equal(t, "system", *doc.UI.Theme)

	// nested objects merge recursively
	assert.True(t, *doc.Policy.Bedtime.Enabled)
	assert.Equal(t, "20:30", *doc.Policy.Bedtime.Start)
	assert.Equal(t, "07:00", *doc.Policy.Bedtime.End)

	// scalars are never overwritten by defaults
	assert.False(t, *doc.Notifications.AccessRequests)
	assert.True(t, *doc.Notifications.IntegrityAlerts)
}

func TestMergeDefaults_EmptySliceIsKept(t *testing.T) {
	doc := &Document{Policy: &PolicySettings{BlockedDomains: []string{}}}
	MergeDefaults(doc)
	assert.NotNil(t, doc.Policy.BlockedDomains)
	assert.Empty(t, doc.Policy.BlockedDomains)
}

func TestMergeDefaults_Idempotent(t *testing.T) {
	doc := MergeDefaults(&Document{Policy: &PolicySettings{Mode: ptr("Bedtime")}})
	first, err := json.Marshal(doc)
	require.NoError(t, err)

	again := MergeDefaults(doc.Clone())
	second, err := json.Marshal(again)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
}

func TestSamePolicy(t *testing.T) {
	a := MergeDefaults(&Document{})
	b := MergeDefaults(&Document{UI: &UISettings{Theme: ptr("dark")}})
	assert.True(t, SamePolicy(a, b))

	*b.Policy.Mode = "Lockdown"
	assert.False(t, SamePolicy(a, b))
}
