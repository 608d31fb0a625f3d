package controlplane

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"family-safety-control/internal/model"
)

const maxChildNameRunes = 64

func defaultChildName(id model.ChildID) string {
	return "Child " + id.String()[:8]
}

// ensureChildLocked returns the child record for id, creating it on first
// reference. Reports whether it was created.
func (s *Store) ensureChildLocked(id model.ChildID, now time.Time) (*model.Child, bool) {
	if c, ok := s.children[id]; ok {
		return c, false
	}
	c := &model.Child{ID: id, Name: defaultChildName(id), CreatedAt: now}
	s.children[id] = c
	return c, true
}

func (s *Store) childNameLocked(id model.ChildID) string {
	if c, ok := s.children[id]; ok {
		return c.Name
	}
	return defaultChildName(id)
}

// CreateChild adds a new child with a random id and a default policy.
func (s *Store) CreateChild(ctx context.Context, name, actor string) (model.Child, error) {
	name = normalizeLabel(name, maxChildNameRunes)
	if name == "" {
		return model.Child{}, invalidf("child name is required")
	}

	s.mu.Lock()
	defer s.unlock(ctx)

	now := s.now()
	id := uuid.New()
	c := &model.Child{ID: id, Name: name, CreatedAt: now}
	s.children[id] = c
	p := model.DefaultPolicy(id, now)
	s.policies[id] = &p

	s.auditLocked(id, actor, "child.create", "child", map[string]any{"name": name}, now)
	return *c, s.persistLocked(ctx)
}

// RenameChild changes the display name. Reports false for unknown ids.
func (s *Store) RenameChild(ctx context.Context, id model.ChildID, name, actor string) (model.Child, bool, error) {
	name = normalizeLabel(name, maxChildNameRunes)
	if name == "" {
		return model.Child{}, false, invalidf("child name is required")
	}

	s.mu.Lock()
	defer s.unlock(ctx)

	c, ok := s.children[id]
	if !ok {
		return model.Child{}, false, nil
	}
	if c.Name == name {
		return *c, true, nil
	}
	old := c.Name
	c.Name = name
	s.auditLocked(id, actor, "child.rename", "child", map[string]any{"from": old, "to": name}, s.now())
	return *c, true, s.persistLocked(ctx)
}

// ArchiveChild soft-deletes a child. Archiving twice is a no-op.
func (s *Store) ArchiveChild(ctx context.Context, id model.ChildID, actor string) (model.Child, bool, error) {
	return s.setArchived(ctx, id, actor, true)
}

// RestoreChild clears the archived flag.
func (s *Store) RestoreChild(ctx context.Context, id model.ChildID, actor string) (model.Child, bool, error) {
	return s.setArchived(ctx, id, actor, false)
}

func (s *Store) setArchived(ctx context.Context, id model.ChildID, actor string, archived bool) (model.Child, bool, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	c, ok := s.children[id]
	if !ok {
		return model.Child{}, false, nil
	}
	if c.Archived == archived {
		return *c, true, nil
	}

	now := s.now()
	c.Archived = archived
	action := "child.restore"
	if archived {
		c.ArchivedAt = &now
		action = "child.archive"
		// An archived child cannot pair new devices.
		delete(s.pending, id)
	} else {
		c.ArchivedAt = nil
	}
	s.auditLocked(id, actor, action, "child", nil, now)
	return *c, true, s.persistLocked(ctx)
}

func (s *Store) GetChild(ctx context.Context, id model.ChildID) (model.Child, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.children[id]
	if !ok {
		return model.Child{}, false
	}
	return *c, true
}

// ListChildren returns children oldest first.
func (s *Store) ListChildren(ctx context.Context, includeArchived bool) []model.Child {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Child, 0, len(s.children))
	for _, c := range s.children {
		if c.Archived && !includeArchived {
			continue
		}
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b model.Child) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Name, b.Name))
	})
	return out
}
