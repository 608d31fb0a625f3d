package controlplane

import (
	"context"
	"slices"
	"strings"
	"time"

	"family-safety-control/internal/events"
	"family-safety-control/internal/model"
	"family-safety-control/internal/policy"
)

// Upper bound of a daily screen-time budget, one full day.
const maxDailyBudgetMinutes = 24 * 60

// policyLocked returns the stored policy of child, creating the version 1
// default on first reference.
func (s *Store) policyLocked(child model.ChildID, now time.Time) (*model.Policy, bool) {
	if p, ok := s.policies[child]; ok {
		return p, false
	}
	s.ensureChildLocked(child, now)
	p := model.DefaultPolicy(child, now)
	s.policies[child] = &p
	return &p, true
}

// GetPolicy returns the stored policy of child. A child seen for the first
// time gets a default policy, which is persisted.
func (s *Store) GetPolicy(ctx context.Context, child model.ChildID) (model.Policy, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	p, created := s.policyLocked(child, s.now())
	if created {
		if err := s.persistLocked(ctx); err != nil {
			return model.Policy{}, err
		}
	}
	return p.Clone(), nil
}

func validatePatch(patch model.PolicyPatch) error {
	if patch.Mode != nil && !patch.Mode.Valid() {
		return invalidf("unknown mode %q", *patch.Mode)
	}
	if patch.ScreenTime != nil {
		b := patch.ScreenTime.DailyBudgetMinutes
		if b < 0 || b > maxDailyBudgetMinutes {
			return invalidf("daily budget must be between 0 and %d minutes", maxDailyBudgetMinutes)
		}
	}
	for name, w := range map[string]*model.ScheduleWindow{
		"bedtime":  patch.Bedtime,
		"school":   patch.School,
		"homework": patch.Homework,
	} {
		if w == nil {
			continue
		}
		// Times left out are filled from the stored window; the merged
		// result is checked again in UpsertPolicy.
		supplied := *w
		supplied.Enabled = false
		if err := policy.ValidateWindow(supplied); err != nil {
			return invalidf("%s window: %v", name, err)
		}
	}
	for _, r := range patch.CategoryRules {
		if strings.TrimSpace(r.Category) == "" {
			return invalidf("category rule without category")
		}
		switch r.Action {
		case model.RuleAllow, model.RuleBlock, model.RuleAlert:
		default:
			return invalidf("unknown category action %q", r.Action)
		}
	}
	return nil
}

// normalizeList trims, optionally lowercases, drops empties and duplicates.
// The result is never nil.
func normalizeList(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = normalizeSite(v); v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// mergeWindow applies a window patch. Empty clock values keep the stored
// ones, so a window can be switched off or on without restating its times.
func mergeWindow(dst *model.ScheduleWindow, src *model.ScheduleWindow) {
	if src == nil {
		return
	}
	dst.Enabled = src.Enabled
	if src.Start != "" {
		dst.Start = src.Start
	}
	if src.End != "" {
		dst.End = src.End
	}
}

func applyPatch(p *model.Policy, patch model.PolicyPatch) {
	if patch.Mode != nil {
		p.Mode = *patch.Mode
	}
	switch {
	case patch.ClearGrant:
		p.GrantUntil = nil
	case patch.GrantUntil != nil:
		until := *patch.GrantUntil
		p.GrantUntil = &until
	}
	if patch.AlwaysAllowed != nil {
		p.AlwaysAllowed = *patch.AlwaysAllowed
	}
	if patch.BlockedApps != nil {
		p.BlockedApps = normalizeList(patch.BlockedApps, false)
	}
	if patch.AllowedApps != nil {
		p.AllowedApps = normalizeList(patch.AllowedApps, false)
	}
	if patch.BlockedDomains != nil {
		p.BlockedDomains = normalizeDomains(patch.BlockedDomains)
	}
	if patch.AllowedDomains != nil {
		p.AllowedDomains = normalizeDomains(patch.AllowedDomains)
	}
	if patch.CategoryRules != nil {
		rules := make([]model.CategoryRule, 0, len(patch.CategoryRules))
		for _, r := range patch.CategoryRules {
			r.Category = strings.ToLower(strings.TrimSpace(r.Category))
			// Later rules for the same category win.
			rules = slices.DeleteFunc(rules, func(x model.CategoryRule) bool { return x.Category == r.Category })
			rules = append(rules, r)
		}
		p.CategoryRules = rules
	}
	if patch.ScreenTime != nil {
		p.ScreenTime = *patch.ScreenTime
	}
	mergeWindow(&p.Bedtime, patch.Bedtime)
	mergeWindow(&p.School, patch.School)
	mergeWindow(&p.Homework, patch.Homework)
	if patch.Integrity != nil {
		p.Integrity = *patch.Integrity
	}
}

// UpsertPolicy applies patch to the policy of child. Every accepted upsert
// moves the version forward, even when nothing in the content changed, so
// agents always see a new version after a parent saves.
func (s *Store) UpsertPolicy(ctx context.Context, child model.ChildID, patch model.PolicyPatch, actor string) (model.Policy, error) {
	if err := validatePatch(patch); err != nil {
		return model.Policy{}, err
	}
	if actor == "" {
		actor = "parent"
	}

	s.mu.Lock()
	defer s.unlock(ctx)

	now := s.now()
	if c, ok := s.children[child]; ok && c.Archived {
		return model.Policy{}, ErrChildArchived
	}
	current, _ := s.policyLocked(child, now)

	next := current.Clone()
	applyPatch(&next, patch)
	for name, w := range map[string]model.ScheduleWindow{
		"bedtime":  next.Bedtime,
		"school":   next.School,
		"homework": next.Homework,
	} {
		if err := policy.ValidateWindow(w); err != nil {
			return model.Policy{}, invalidf("%s window: %v", name, err)
		}
	}
	next.ChildID = child
	next.Version = current.Version + 1
	next.UpdatedAt = now
	next.UpdatedBy = actor
	s.policies[child] = &next

	s.auditLocked(child, actor, "policy.update", "policy", map[string]any{
		"version":     next.Version,
		"fingerprint": policy.Fingerprint(next),
		"patch":       patch,
	}, now)
	s.emitLocked(events.TopicPolicyUpdated, events.PolicyUpdated{ChildID: child, Version: next.Version, Actor: actor})
	s.logger.Info("Policy updated", "child", child, "version", next.Version, "actor", actor)

	return next.Clone(), s.persistLocked(ctx)
}

// evaluateLocked resolves the effective decision of child at now using the
// stored usage and active grants.
func (s *Store) evaluateLocked(child model.ChildID, now time.Time) policy.Decision {
	p, _ := s.policyLocked(child, now)
	used := 0
	if a, ok := s.activity[child]; ok {
		used = a.UsedMinutesOn(policy.UsageDate(now, s.opts.Location))
	}
	return policy.Evaluate(policy.Input{
		Policy:      p.Clone(),
		Now:         now,
		Location:    s.opts.Location,
		UsedMinutes: used,
		Grants:      s.activeGrantsLocked(child, now),
	})
}

// EffectivePolicy returns what a device of child should enforce right now.
func (s *Store) EffectivePolicy(ctx context.Context, child model.ChildID) (policy.Decision, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	now := s.now()
	_, created := s.policyLocked(child, now)
	d := s.evaluateLocked(child, now)
	if created {
		if err := s.persistLocked(ctx); err != nil {
			return policy.Decision{}, err
		}
	}
	return d, nil
}
