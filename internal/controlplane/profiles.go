package controlplane

import (
	"context"
	"time"

	"family-safety-control/internal/events"
	"family-safety-control/internal/model"
	"family-safety-control/internal/profile"
)

// GetProfile returns the profile of child merged over the current defaults.
// A child without a stored profile gets the defaults alone.
func (s *Store) GetProfile(ctx context.Context, child model.ChildID) *profile.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.profiles[child]; ok {
		return profile.MergeDefaults(doc.Clone())
	}
	return profile.Defaults()
}

// UpsertProfile replaces the profile of child. The policy version moves
// only when the policy sub-document actually changed; the replaced content
// is then kept as the last known good copy.
func (s *Store) UpsertProfile(ctx context.Context, child model.ChildID, doc *profile.Document, actor string) (*profile.Document, error) {
	if doc == nil {
		return nil, invalidf("profile document is required")
	}
	if actor == "" {
		actor = "parent"
	}

	s.mu.Lock()
	defer s.unlock(ctx)

	now := s.now()
	if c, ok := s.children[child]; ok && c.Archived {
		return nil, ErrChildArchived
	}
	s.ensureChildLocked(child, now)

	next := profile.MergeDefaults(doc.Clone())
	// Rollback state is owned by the store.
	next.LastKnownGood = nil
	next.RolledBackBy = ""
	next.RolledBackAt = nil

	saved := s.writeProfileLocked(child, next, actor, now)
	s.auditLocked(child, actor, "profile.update", "profile", map[string]any{"policyVersion": saved.PolicyVersion}, now)
	s.emitLocked(events.TopicProfileUpdated, events.ProfileUpdated{ChildID: child, PolicyVersion: saved.PolicyVersion, Actor: actor})

	return saved.Clone(), s.persistLocked(ctx)
}

// writeProfileLocked stores next as the profile of child, versioning it
// against the stored one.
func (s *Store) writeProfileLocked(child model.ChildID, next *profile.Document, actor string, now time.Time) *profile.Document {
	prev, hadPrev := s.profiles[child]
	if !hadPrev {
		prev = profile.Defaults()
	}

	stamp := now
	next.UpdatedAt = &stamp
	next.UpdatedBy = actor

	if !hadPrev || !profile.SamePolicy(prev, next) {
		next.PolicyVersion = prev.PolicyVersion + 1
		next.EffectiveAt = &stamp

		lkg := prev.Clone()
		// One level of history; nesting copies would grow without bound.
		lkg.LastKnownGood = nil
		captured := now
		next.LastKnownGood = &profile.LastKnownGood{
			Profile:       lkg,
			Policy:        lkg.Policy,
			PolicyVersion: prev.PolicyVersion,
			CapturedAt:    &captured,
		}
	} else {
		next.PolicyVersion = max(next.PolicyVersion, prev.PolicyVersion)
		next.EffectiveAt = prev.EffectiveAt
		next.LastKnownGood = prev.LastKnownGood
	}

	s.profiles[child] = next
	return next
}

// RollbackProfile restores the last known good policy content of child's
// profile.
// The restore is itself a new version, and the content it replaced becomes
// the next rollback target.
func (s *Store) RollbackProfile(ctx context.Context, child model.ChildID, actor string) (*profile.Document, error) {
	if actor == "" {
		actor = "parent"
	}

	s.mu.Lock()
	defer s.unlock(ctx)

	current, ok := s.profiles[child]
	if !ok || current.LastKnownGood == nil {
		return nil, ErrNoSnapshot
	}
	lkg := current.LastKnownGood

	// Only the policy content goes back; settings edited since stay.
	restored := lkg.Policy
	if lkg.Profile != nil && lkg.Profile.Policy != nil {
		restored = lkg.Profile.Policy
	}
	if restored == nil {
		return nil, ErrNoSnapshot
	}
	next := current.Clone()
	next.Policy = clonePolicySettings(restored)
	next = profile.MergeDefaults(next)
	next.LastKnownGood = nil

	now := s.now()
	saved := s.writeProfileLocked(child, next, actor, now)
	saved.RolledBackBy = actor
	rolledAt := now
	saved.RolledBackAt = &rolledAt

	s.auditLocked(child, actor, "profile.rollback", "profile", map[string]any{
		"policyVersion":       saved.PolicyVersion,
		"restoredFromVersion": lkg.PolicyVersion,
	}, now)
	s.emitLocked(events.TopicProfileRollback, events.ProfileUpdated{ChildID: child, PolicyVersion: saved.PolicyVersion, Actor: actor})
	s.logger.Info("Profile rolled back", "child", child, "policy_version", saved.PolicyVersion, "actor", actor)

	return saved.Clone(), s.persistLocked(ctx)
}

func clonePolicySettings(p *profile.PolicySettings) *profile.PolicySettings {
	if p == nil {
		return nil
	}
	doc := (&profile.Document{Policy: p}).Clone()
	return doc.Policy
}
