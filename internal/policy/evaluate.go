// Package policy resolves a stored policy into the single decision a child
// device enforces at a given instant. Evaluate is pure so the server and the
// agent can run the same code and never disagree.
package policy

import (
	"slices"
	"strings"
	"time"

	"family-safety-control/internal/model"
)

type ReasonCode string

const (
	ReasonAlwaysAllowed    ReasonCode = "always_allowed"
	ReasonGrantActive      ReasonCode = "grant_active"
	ReasonModeConfigured   ReasonCode = "mode_configured"
	ReasonScheduleBedtime  ReasonCode = "schedule_bedtime"
	ReasonScheduleSchool   ReasonCode = "schedule_school"
	ReasonScheduleHomework ReasonCode = "schedule_homework"
)

// Input is everything Evaluate looks at.
type Input struct {
	Policy   model.Policy
	Now      time.Time
	Location *time.Location

	// UsedMinutes is today's screen time. Zero when unknown.
	UsedMinutes int
	// Grants may include expired entries, they are ignored.
	Grants []model.Grant
}

// Decision is the effective policy for one instant.
type Decision struct {
	Mode           model.SafetyMode `json:"mode"`
	Reason         ReasonCode       `json:"reason"`
	ConfiguredMode model.SafetyMode `json:"configuredMode"`
	ActiveWindow   string           `json:"activeWindow,omitempty"`
	GrantUntil     *time.Time       `json:"grantUntil,omitempty"`

	PolicyVersion int64  `json:"policyVersion"`
	Fingerprint   string `json:"fingerprint"`

	BudgetMinutes    int  `json:"budgetMinutes"`
	RemainingMinutes *int `json:"remainingMinutes,omitempty"`
	BudgetDepleted   bool `json:"budgetDepleted"`

	BlockedApps       []string             `json:"blockedApps"`
	AllowedApps       []string             `json:"allowedApps"`
	BlockedDomains    []string             `json:"blockedDomains"`
	AllowedDomains    []string             `json:"allowedDomains"`
	BlockedCategories []string             `json:"blockedCategories"`
	Integrity         model.IntegrityGates `json:"integrity"`

	EvaluatedAt time.Time `json:"evaluatedAt"`
}

type window struct {
	name   string
	w      model.ScheduleWindow
	mode   model.SafetyMode
	reason ReasonCode
}

// Evaluate applies override precedence, highest first:
//  1. alwaysAllowed forces Open
//  2. an unexpired grantUntil forces Open
//  3. the configured mode
//  4. schedule windows, only when more restrictive than the mode so far
//  5. screen-time budget, reported next to the mode, never replacing it
func Evaluate(in Input) Decision {
	p := in.Policy
	loc := in.Location
	if loc == nil {
		loc = time.Local
	}
	now := in.Now.In(loc)

	d := Decision{
		ConfiguredMode: p.Mode,
		PolicyVersion:  p.Version,
		Fingerprint:    Fingerprint(p),
		Integrity:      p.Integrity,
		EvaluatedAt:    in.Now,
	}

	switch {
	case p.AlwaysAllowed:
		d.Mode, d.Reason = model.ModeOpen, ReasonAlwaysAllowed
	case p.GrantUntil != nil && p.GrantUntil.After(in.Now):
		d.Mode, d.Reason = model.ModeOpen, ReasonGrantActive
		until := *p.GrantUntil
		d.GrantUntil = &until
	default:
		d.Mode, d.Reason = p.Mode, ReasonModeConfigured
		if !d.Mode.Valid() {
			d.Mode = model.ModeOpen
		}
		for _, sw := range []window{
			{"bedtime", p.Bedtime, model.ModeBedtime, ReasonScheduleBedtime},
			{"school", p.School, model.ModeHomework, ReasonScheduleSchool},
			{"homework", p.Homework, model.ModeHomework, ReasonScheduleHomework},
		} {
			if InWindow(sw.w, now) && sw.mode.Restrictiveness() > d.Mode.Restrictiveness() {
				d.Mode, d.Reason, d.ActiveWindow = sw.mode, sw.reason, sw.name
			}
		}
	}

	d.BlockedApps = slices.Clone(nonNil(p.BlockedApps))
	d.AllowedApps = slices.Clone(nonNil(p.AllowedApps))
	d.BlockedDomains = slices.Clone(nonNil(p.BlockedDomains))
	d.AllowedDomains = slices.Clone(nonNil(p.AllowedDomains))
	d.BlockedCategories = blockedCategories(p.CategoryRules)

	extra := 0
	for _, g := range in.Grants {
		if !g.Active(in.Now) {
			continue
		}
		switch g.Type {
		case model.RequestMoreTime:
			extra += g.ExtraMinutes
		case model.RequestUnblockApp:
			d.BlockedApps = removeFold(d.BlockedApps, g.Target)
			d.AllowedApps = appendUnique(d.AllowedApps, g.Target)
		case model.RequestUnblockSite:
			d.BlockedDomains = removeFold(d.BlockedDomains, g.Target)
			d.AllowedDomains = appendUnique(d.AllowedDomains, g.Target)
		}
	}

	if budget := p.ScreenTime.DailyBudgetMinutes; budget > 0 {
		d.BudgetMinutes = budget + extra
		remaining := d.BudgetMinutes - in.UsedMinutes
		if remaining < 0 {
			remaining = 0
		}
		d.RemainingMinutes = &remaining
		d.BudgetDepleted = remaining == 0
	}

	return d
}

// Alert rules are reported as blocked: there is no allow-but-alert hook in
// the network layer yet.
func blockedCategories(rules []model.CategoryRule) []string {
	out := []string{}
	for _, r := range rules {
		if r.Action == model.RuleBlock || r.Action == model.RuleAlert {
			out = appendUnique(out, r.Category)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func removeFold(list []string, v string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return strings.EqualFold(s, v) })
}

func appendUnique(list []string, v string) []string {
	if v == "" || slices.ContainsFunc(list, func(s string) bool { return strings.EqualFold(s, v) }) {
		return list
	}
	return append(list, v)
}
