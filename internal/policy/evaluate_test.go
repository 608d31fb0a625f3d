package policy

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"family-safety-control/internal/model"
)

func at(t *testing.T, clock string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", "2026-03-10 "+clock, time.UTC)
	require.NoError(t, err)
	return ts
}

func basePolicy() model.Policy {
	return model.DefaultPolicy(uuid.New(), time.Now())
}

func TestEvaluate_ConfiguredMode(t *testing.T) {
	p := basePolicy()
	p.Mode = model.ModeHomework

	d := Evaluate(Input{Policy: p, Now: at(t, "12:00"), Location: time.UTC})
	assert.Equal(t, model.ModeHomework, d.Mode)
	assert.Equal(t, ReasonModeConfigured, d.Reason)
	assert.Nil(t, d.RemainingMinutes)
}

func TestEvaluate_AlwaysAllowedBeatsLockdownAndSchedules(t *testing.T) {
	p := basePolicy()
	p.Mode = model.ModeLockdown
	p.AlwaysAllowed = true
	p.Bedtime = model.ScheduleWindow{Enabled: true, Start: "21:00", End: "07:00"}

	d := Evaluate(Input{Policy: p, Now: at(t, "23:30"), Location: time.UTC})
	assert.Equal(t, model.ModeOpen, d.Mode)
	assert.Equal(t, ReasonAlwaysAllowed, d.Reason)
	assert.Equal(t, model.ModeLockdown, d.ConfiguredMode)
}

func TestEvaluate_GrantOverridesMode(t *testing.T) {
	now := at(t, "10:00")
	until := now.Add(30 * time.Minute)
	p := basePolicy()
	p.Mode = model.ModeLockdown
	p.GrantUntil = &until

	d := Evaluate(Input{Policy: p, Now: now, Location: time.UTC})
	assert.Equal(t, model.ModeOpen, d.Mode)
	assert.Equal(t, ReasonGrantActive, d.Reason)
	require.NotNil(t, d.GrantUntil)

	// expired grant is inert
	d = Evaluate(Input{Policy: p, Now: until.Add(time.Second), Location: time.UTC})
	assert.Equal(t, model.ModeLockdown, d.Mode)
}

func TestEvaluate_ScheduleWindowsCrossMidnight(t *testing.T) {
	p := basePolicy()
	p.Bedtime = model.ScheduleWindow{Enabled: true, Start: "21:00", End: "07:00"}

	for _, tc := range []struct {
		clock string
		want  model.SafetyMode
	}{
		{"20:59", model.ModeOpen},
		{"21:00", model.ModeBedtime},
		{"23:59", model.ModeBedtime},
		{"00:00", model.ModeBedtime},
		{"06:59", model.ModeBedtime},
		{"07:00", model.ModeOpen},
	} {
		t.Run(tc.clock, func(t *testing.T) {
			d := Evaluate(Input{Policy: p, Now: at(t, tc.clock), Location: time.UTC})
			assert.Equal(t, tc.want, d.Mode)
			if tc.want == model.ModeBedtime {
				assert.Equal(t, ReasonScheduleBedtime, d.Reason)
			}
		})
	}
}

func TestEvaluate_ScheduleOnlyMoreRestrictive(t *testing.T) {
	p := basePolicy()
	p.Mode = model.ModeLockdown
	p.Homework = model.ScheduleWindow{Enabled: true, Start: "16:00", End: "18:00"}

	d := Evaluate(Input{Policy: p, Now: at(t, "17:00"), Location: time.UTC})
	assert.Equal(t, model.ModeLockdown, d.Mode)
	assert.Equal(t, ReasonModeConfigured, d.Reason)

	p.Mode = model.ModeOpen
	d = Evaluate(Input{Policy: p, Now: at(t, "17:00"), Location: time.UTC})
	assert.Equal(t, model.ModeHomework, d.Mode)
	assert.Equal(t, ReasonScheduleHomework, d.Reason)
	assert.Equal(t, "homework", d.ActiveWindow)
}

func TestEvaluate_BudgetIsReportedAlongsideMode(t *testing.T) {
	now := at(t, "12:00")
	p := basePolicy()
	p.ScreenTime.DailyBudgetMinutes = 60

	d := Evaluate(Input{Policy: p, Now: now, Location: time.UTC, UsedMinutes: 75})
	assert.Equal(t, model.ModeOpen, d.Mode)
	require.NotNil(t, d.RemainingMinutes)
	assert.Equal(t, 0, *d.RemainingMinutes)
	assert.True(t, d.BudgetDepleted)

	grants := []model.Grant{
		{Type: model.RequestMoreTime, ExtraMinutes: 30, ExpiresAt: now.Add(time.Hour)},
		{Type: model.RequestMoreTime, ExtraMinutes: 500, ExpiresAt: now.Add(-time.Minute)},
	}
	d = Evaluate(Input{Policy: p, Now: now, Location: time.UTC, UsedMinutes: 75, Grants: grants})
	assert.Equal(t, 90, d.BudgetMinutes)
	assert.Equal(t, 15, *d.RemainingMinutes)
	assert.False(t, d.BudgetDepleted)
}

func TestEvaluate_UnblockGrants(t *testing.T) {
	now := at(t, "12:00")
	p := basePolicy()
	p.BlockedDomains = []string{"games.example", "video.example"}
	p.BlockedApps = []string{"Minecraft"}

	d := Evaluate(Input{Policy: p, Now: now, Location: time.UTC, Grants: []model.Grant{
		{Type: model.RequestUnblockSite, Target: "games.example", ExpiresAt: now.Add(time.Hour)},
		{Type: model.RequestUnblockApp, Target: "minecraft", ExpiresAt: now.Add(time.Hour)},
	}})
	assert.Equal(t, []string{"video.example"}, d.BlockedDomains)
	assert.Contains(t, d.AllowedDomains, "games.example")
	assert.Empty(t, d.BlockedApps)

	// the stored policy is untouched
	assert.Len(t, p.BlockedDomains, 2)
}

func TestEvaluate_AlertCategoryBlocks(t *testing.T) {
	p := basePolicy()
	p.CategoryRules = []model.CategoryRule{
		{Category: "gambling", Action: model.RuleBlock},
		{Category: "social", Action: model.RuleAlert},
		{Category: "education", Action: model.RuleAllow},
	}
	d := Evaluate(Input{Policy: p, Now: at(t, "12:00"), Location: time.UTC})
	assert.ElementsMatch(t, []string{"gambling", "social"}, d.BlockedCategories)
}

func TestNextMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2026, 3, 10, 23, 50, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, loc), NextMidnight(now, loc))
}

func TestFingerprint_IgnoresBookkeeping(t *testing.T) {
	p := basePolicy()
	q := p.Clone()
	q.Version = 42
	q.UpdatedBy = "someone"
	q.UpdatedAt = q.UpdatedAt.Add(time.Hour)
	assert.Equal(t, Fingerprint(p), Fingerprint(q))

	q.Mode = model.ModeBedtime
	assert.NotEqual(t, Fingerprint(p), Fingerprint(q))
}
