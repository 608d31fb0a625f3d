package controlplane

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"family-safety-control/internal/model"
	"family-safety-control/internal/policy"
	"family-safety-control/internal/profile"
)

func TestUpsertPolicy_VersionIsMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")

	var last int64 = 1
	for i := 0; i < 5; i++ {
		env.clock.Advance(time.Second)
		p, err := env.store.UpsertPolicy(ctx, child, model.PolicyPatch{}, "parent")
		require.NoError(t, err)
		assert.Greater(t, p.Version, last)
		assert.Equal(t, env.clock.Now(), p.UpdatedAt)
		last = p.Version
	}
	assert.EqualValues(t, 6, last)

	reopened := env.reopen(t)
	p, err := reopened.GetPolicy(ctx, child)
	require.NoError(t, err)
	assert.EqualValues(t, 6, p.Version)
}

func TestUpsertPolicy_AppliesOnlyProvidedFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")

	mode := model.ModeHomework
	_, err := env.store.UpsertPolicy(ctx, child, model.PolicyPatch{
		Mode:        &mode,
		BlockedApps: []string{" Steam ", "steam", ""},
		CategoryRules: []model.CategoryRule{
			{Category: "Gambling", Action: model.RuleBlock},
			{Category: "gambling", Action: model.RuleAlert},
		},
	}, "mum")
	require.NoError(t, err)

	p, err := env.store.UpsertPolicy(ctx, child, model.PolicyPatch{AlwaysAllowed: ptr(false)}, "dad")
	require.NoError(t, err)
	assert.Equal(t, model.ModeHomework, p.Mode)
	assert.Equal(t, []string{"Steam", "steam"}, p.BlockedApps)
	assert.Equal(t, []model.CategoryRule{{Category: "gambling", Action: model.RuleAlert}}, p.CategoryRules)
	assert.Equal(t, "dad", p.UpdatedBy)

	until := testStart.Add(time.Hour)
	p, err = env.store.UpsertPolicy(ctx, child, model.PolicyPatch{GrantUntil: &until}, "dad")
	require.NoError(t, err)
	require.NotNil(t, p.GrantUntil)
	p, err = env.store.UpsertPolicy(ctx, child, model.PolicyPatch{ClearGrant: true}, "dad")
	require.NoError(t, err)
	assert.Nil(t, p.GrantUntil)
}

func TestUpsertPolicy_RejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")

	party := model.SafetyMode("Party")
	for name, patch := range map[string]model.PolicyPatch{
		"mode":     {Mode: &party},
		"window":   {Bedtime: &model.ScheduleWindow{Enabled: true, Start: "25:00", End: "07:00"}},
		"budget":   {ScreenTime: &model.ScreenTime{DailyBudgetMinutes: -1}},
		"category": {CategoryRules: []model.CategoryRule{{Category: "games", Action: "maybe"}}},
	} {
		_, err := env.store.UpsertPolicy(ctx, child, patch, "parent")
		assert.ErrorIs(t, err, ErrInvalidInput, name)
	}

	p, err := env.store.GetPolicy(ctx, child)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.Version, "rejected upserts do not mutate")
}

func TestUpsertPolicy_WindowTimesAreOptional(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")

	_, err := env.store.UpsertPolicy(ctx, child, model.PolicyPatch{
		Bedtime: &model.ScheduleWindow{Enabled: true, Start: "20:30", End: "06:45"},
	}, "parent")
	require.NoError(t, err)

	p, err := env.store.UpsertPolicy(ctx, child, model.PolicyPatch{
		Bedtime: &model.ScheduleWindow{Enabled: false},
	}, "parent")
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleWindow{Enabled: false, Start: "20:30", End: "06:45"}, p.Bedtime)

	p, err = env.store.UpsertPolicy(ctx, child, model.PolicyPatch{
		Bedtime: &model.ScheduleWindow{Enabled: true, Start: "21:15"},
	}, "parent")
	require.NoError(t, err)
	assert.Equal(t, model.ScheduleWindow{Enabled: true, Start: "21:15", End: "06:45"}, p.Bedtime)

	_, err = env.store.UpsertPolicy(ctx, child, model.PolicyPatch{
		School: &model.ScheduleWindow{Enabled: false, End: "3pm"},
	}, "parent")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetPolicy_CreatesDefault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	stranger := model.ChildID{1, 2, 3}

	p, err := env.store.GetPolicy(ctx, stranger)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.Version)

	_, ok := env.store.GetChild(ctx, stranger)
	assert.True(t, ok)
}

func TestEffectivePolicy_Precedence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")

	lockdown := model.ModeLockdown
	_, err := env.store.UpsertPolicy(ctx, child, model.PolicyPatch{
		Mode:          &lockdown,
		AlwaysAllowed: ptr(true),
		Bedtime:       &model.ScheduleWindow{Enabled: true, Start: "11:00", End: "13:00"},
	}, "parent")
	require.NoError(t, err)

	d, err := env.store.EffectivePolicy(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, model.ModeOpen, d.Mode)
	assert.Equal(t, policy.ReasonAlwaysAllowed, d.Reason)

	_, err = env.store.UpsertPolicy(ctx, child, model.PolicyPatch{AlwaysAllowed: ptr(false)}, "parent")
	require.NoError(t, err)
	d, err = env.store.EffectivePolicy(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, model.ModeLockdown, d.Mode, "bedtime is less restrictive than lockdown")
	assert.Equal(t, policy.ReasonModeConfigured, d.Reason)

	open := model.ModeOpen
	_, err = env.store.UpsertPolicy(ctx, child, model.PolicyPatch{Mode: &open}, "parent")
	require.NoError(t, err)
	d, err = env.store.EffectivePolicy(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, model.ModeBedtime, d.Mode)
	assert.Equal(t, policy.ReasonScheduleBedtime, d.Reason)
	assert.EqualValues(t, 4, d.PolicyVersion)
}

func TestEffectivePolicy_BudgetWithGrants(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")
	dev := pairDevice(t, env, child)

	_, err := env.store.UpsertPolicy(ctx, child, model.PolicyPatch{
		ScreenTime:     &model.ScreenTime{DailyBudgetMinutes: 60},
		BlockedDomains: []string{"games.example"},
	}, "parent")
	require.NoError(t, err)

	_, err = env.store.Heartbeat(ctx, child, dev.Token, model.HeartbeatReport{ScreenTimeUsedMinutes: 50})
	require.NoError(t, err)

	more, _, err := env.store.CreateRequest(ctx, NewRequest{ChildID: child, Type: model.RequestMoreTime, ExtraMinutes: 30})
	require.NoError(t, err)
	site, _, err := env.store.CreateRequest(ctx, NewRequest{ChildID: child, Type: model.RequestUnblockSite, Target: "http://games.example/play"})
	require.NoError(t, err)
	for _, id := range []string{more.ID, site.ID} {
		_, _, _, err = env.store.DecideRequest(ctx, id, RequestDecision{Approve: true})
		require.NoError(t, err)
	}

	d, err := env.store.EffectivePolicy(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, 90, d.BudgetMinutes)
	require.NotNil(t, d.RemainingMinutes)
	assert.Equal(t, 40, *d.RemainingMinutes)
	assert.False(t, d.BudgetDepleted)
	assert.NotContains(t, d.BlockedDomains, "games.example")
	assert.Contains(t, d.AllowedDomains, "games.example")
}

func TestProfile_DefaultsAndVersioning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")

	doc := env.store.GetProfile(ctx, child)
	require.NotNil(t, doc.Policy)
	assert.Equal(t, "Open", *doc.Policy.Mode)

	theme := "dark"
	saved, err := env.store.UpsertProfile(ctx, child, &profile.Document{UI: &profile.UISettings{Theme: &theme}}, "parent")
	require.NoError(t, err)
	assert.EqualValues(t, 1, saved.PolicyVersion)
	assert.Equal(t, "dark", *saved.UI.Theme)
	assert.Equal(t, "en", *saved.UI.Language, "missing fields come from defaults")
	require.NotNil(t, saved.EffectiveAt)

	env.clock.Advance(time.Minute)
	other := "light"
	saved, err = env.store.UpsertProfile(ctx, child, &profile.Document{UI: &profile.UISettings{Theme: &other}}, "parent")
	require.NoError(t, err)
	assert.EqualValues(t, 1, saved.PolicyVersion, "policy content unchanged")
	assert.Equal(t, testStart, *saved.EffectiveAt)

	bedtime := "Bedtime"
	doc = env.store.GetProfile(ctx, child)
	doc.Policy.Mode = &bedtime
	saved, err = env.store.UpsertProfile(ctx, child, doc, "parent")
	require.NoError(t, err)
	assert.EqualValues(t, 2, saved.PolicyVersion)
	require.NotNil(t, saved.LastKnownGood)
	assert.Equal(t, "Open", *saved.LastKnownGood.Profile.Policy.Mode)
	assert.EqualValues(t, 1, saved.LastKnownGood.PolicyVersion)
}

func TestProfile_Rollback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")

	_, err := env.store.RollbackProfile(ctx, child, "parent")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	doc := profile.Defaults()
	_, err = env.store.UpsertProfile(ctx, child, doc, "parent")
	require.NoError(t, err)

	bedtime := "Bedtime"
	doc.Policy.Mode = &bedtime
	_, err = env.store.UpsertProfile(ctx, child, doc, "parent")
	require.NoError(t, err)

	rolled, err := env.store.RollbackProfile(ctx, child, "dad")
	require.NoError(t, err)
	assert.Equal(t, "Open", *rolled.Policy.Mode)
	assert.EqualValues(t, 3, rolled.PolicyVersion, "rollback is a new version")
	assert.Equal(t, "dad", rolled.RolledBackBy)
	require.NotNil(t, rolled.RolledBackAt)

	again, err := env.store.RollbackProfile(ctx, child, "dad")
	require.NoError(t, err)
	assert.Equal(t, "Bedtime", *again.Policy.Mode, "second rollback undoes the first")

	reopened := env.reopen(t)
	assert.Equal(t, "Bedtime", *reopened.GetProfile(ctx, child).Policy.Mode)
}

func TestProfile_RollbackKeepsSettings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")

	_, err := env.store.UpsertProfile(ctx, child, profile.Defaults(), "parent")
	require.NoError(t, err)

	doc := env.store.GetProfile(ctx, child)
	bedtime := "Bedtime"
	doc.Policy.Mode = &bedtime
	_, err = env.store.UpsertProfile(ctx, child, doc, "parent")
	require.NoError(t, err)

	doc = env.store.GetProfile(ctx, child)
	theme, name := "dark", "Ada Lovelace"
	doc.UI.Theme = &theme
	doc.DisplayName = &name
	saved, err := env.store.UpsertProfile(ctx, child, doc, "parent")
	require.NoError(t, err)
	require.NotNil(t, saved.LastKnownGood, "settings edits keep the rollback target")

	rolled, err := env.store.RollbackProfile(ctx, child, "parent")
	require.NoError(t, err)
	assert.Equal(t, "Open", *rolled.Policy.Mode)
	assert.Equal(t, "dark", *rolled.UI.Theme)
	require.NotNil(t, rolled.DisplayName)
	assert.Equal(t, "Ada Lovelace", *rolled.DisplayName)

	reopened := env.reopen(t)
	kept := reopened.GetProfile(ctx, child)
	assert.Equal(t, "dark", *kept.UI.Theme)
	assert.Equal(t, "Open", *kept.Policy.Mode)
}

func TestProfile_AdditiveMigrationOnLoad(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	child := env.child(t, "Ada")

	// A document written before UI settings and safe search existed.
	mode := "Homework"
	env.store.mu.Lock()
	env.store.profiles[child] = &profile.Document{
		PolicyVersion: 7,
		Policy:        &profile.PolicySettings{Mode: &mode, BlockedApps: []string{"steam"}},
	}
	require.NoError(t, env.store.persistLocked(ctx))
	env.store.mu.Unlock()

	reopened := env.reopen(t)
	doc := reopened.GetProfile(ctx, child)
	assert.EqualValues(t, 7, doc.PolicyVersion)
	assert.Equal(t, "Homework", *doc.Policy.Mode)
	assert.Equal(t, []string{"steam"}, doc.Policy.BlockedApps)
	require.NotNil(t, doc.Policy.SafeSearch)
	assert.True(t, *doc.Policy.SafeSearch)
	require.NotNil(t, doc.UI)
	assert.Equal(t, "system", *doc.UI.Theme)
}
