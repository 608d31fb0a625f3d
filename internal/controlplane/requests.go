package controlplane

import (
	"cmp"
	"context"
	"net/url"
	"slices"
	"strings"
	"time"

	"family-safety-control/internal/events"
	"family-safety-control/internal/metrics"
	"family-safety-control/internal/model"
	"family-safety-control/internal/policy"
	"family-safety-control/internal/utils"
)

const (
	DefaultGrantMinutes = 60
	MaxGrantMinutes     = 24 * 60
	maxTargetRunes      = 253
)

// NewRequest is what a child device submits.
type NewRequest struct {
	ChildID         model.ChildID     `json:"childId"`
	DeviceID        string            `json:"deviceId,omitempty"`
	Type            model.RequestType `json:"type"`
	Target          string            `json:"target,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	ExtraMinutes    int               `json:"extraMinutes,omitempty"`
	DurationMinutes int               `json:"durationMinutes,omitempty"`
}

// RequestDecision is a parent's answer. Minutes override what the child
// asked for when set.
type RequestDecision struct {
	Approve         bool   `json:"approve"`
	Actor           string `json:"-"`
	Note            string `json:"note,omitempty"`
	ExtraMinutes    int    `json:"extraMinutes,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
}

// normalizeSite reduces a URL or host to a bare lowercase host name.
func normalizeSite(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Host
		} else {
			s = s[strings.Index(s, "://")+3:]
		}
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if at := strings.LastIndexByte(s, '@'); at >= 0 {
		s = s[at+1:]
	}
	if host, _, ok := strings.Cut(s, ":"); ok {
		s = host
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimSuffix(s, ".")
}

func normalizeTarget(t model.RequestType, target string) string {
	switch t {
	case model.RequestUnblockSite:
		return normalizeSite(target)
	case model.RequestUnblockApp:
		return strings.ToLower(normalizeLabel(target, maxTargetRunes))
	}
	return ""
}

func dedupeKey(child model.ChildID, t model.RequestType, target string) string {
	return child.String() + "|" + string(t) + "|" + target
}

// intakeMinutes validates a child-supplied duration. Zero means the default.
func intakeMinutes(v int, field string) (int, error) {
	switch {
	case v == 0:
		return DefaultGrantMinutes, nil
	case v < 0 || v > MaxGrantMinutes:
		return 0, invalidf("%s must be between 1 and %d", field, MaxGrantMinutes)
	}
	return v, nil
}

func clampMinutes(v int) int {
	return min(max(v, 1), MaxGrantMinutes)
}

// CreateRequest stores a new access request, or returns the pending one it
// duplicates. created is false for a duplicate.
func (s *Store) CreateRequest(ctx context.Context, in NewRequest) (model.AccessRequest, bool, error) {
	if !in.Type.Valid() {
		return model.AccessRequest{}, false, invalidf("unknown request type %q", in.Type)
	}
	target := normalizeTarget(in.Type, in.Target)
	if in.Type != model.RequestMoreTime && target == "" {
		return model.AccessRequest{}, false, invalidf("target is required for %s", in.Type)
	}

	req := model.AccessRequest{
		ChildID:  in.ChildID,
		DeviceID: in.DeviceID,
		Type:     in.Type,
		Target:   target,
		Reason:   normalizeLabel(in.Reason, maxReasonRunes),
		Status:   model.RequestPending,
	}
	var err error
	switch in.Type {
	case model.RequestMoreTime:
		if req.ExtraMinutes, err = intakeMinutes(in.ExtraMinutes, "extraMinutes"); err != nil {
			return model.AccessRequest{}, false, err
		}
	default:
		if req.DurationMinutes, err = intakeMinutes(in.DurationMinutes, "durationMinutes"); err != nil {
			return model.AccessRequest{}, false, err
		}
	}
	req.DedupeKey = dedupeKey(in.ChildID, in.Type, target)

	s.mu.Lock()
	defer s.unlock(ctx)

	now := s.now()
	if existing := s.pendingDuplicateLocked(req.DedupeKey, now); existing != nil {
		metrics.Requests.WithLabelValues(string(in.Type), "deduplicated").Inc()
		return *existing, false, nil
	}

	c, _ := s.ensureChildLocked(in.ChildID, now)
	if c.Archived {
		return model.AccessRequest{}, false, ErrChildArchived
	}

	id, err := s.newRequestIDLocked()
	if err != nil {
		return model.AccessRequest{}, false, err
	}
	req.ID = id
	req.CreatedAt = now
	s.requests[id] = &req

	actor := "child"
	if req.DeviceID != "" {
		actor = "device:" + req.DeviceID
	}
	s.auditLocked(req.ChildID, actor, "request.create", "request", map[string]any{
		"requestId": req.ID,
		"type":      req.Type,
		"target":    req.Target,
	}, now)
	s.emitLocked(events.TopicRequestCreated, events.RequestCreated{Request: req})
	childName := c.Name
	s.afterUnlock(func(ctx context.Context) {
		s.opts.Notifier.RequestCreated(ctx, childName, req)
	})
	metrics.Requests.WithLabelValues(string(req.Type), "created").Inc()

	if err := s.persistLocked(ctx); err != nil {
		return model.AccessRequest{}, false, err
	}
	return req, true, nil
}

func (s *Store) pendingDuplicateLocked(key string, now time.Time) *model.AccessRequest {
	var found *model.AccessRequest
	for _, r := range s.requests {
		if r.DedupeKey != key || r.Status != model.RequestPending {
			continue
		}
		if now.Sub(r.CreatedAt) > s.opts.RequestDedupeWindow {
			continue
		}
		if found == nil || r.CreatedAt.After(found.CreatedAt) {
			found = r
		}
	}
	return found
}

func (s *Store) newRequestIDLocked() (string, error) {
	for {
		id, err := utils.NewID(utils.PrefixRequest)
		if err != nil {
			return "", err
		}
		if _, taken := s.requests[id]; !taken {
			return id, nil
		}
	}
}

// DecideRequest approves or denies a pending request. A request that was
// already decided is returned unchanged together with its grant, if any.
func (s *Store) DecideRequest(ctx context.Context, id string, d RequestDecision) (model.AccessRequest, *model.Grant, bool, error) {
	if d.Actor == "" {
		d.Actor = "parent"
	}

	s.mu.Lock()
	defer s.unlock(ctx)

	req, ok := s.requests[id]
	if !ok {
		return model.AccessRequest{}, nil, false, nil
	}
	if req.Status != model.RequestPending {
		return *req, s.grantLocked(req.GrantID), true, nil
	}

	now := s.now()
	decided := now
	req.DecidedAt = &decided
	req.DecidedBy = d.Actor
	req.DecisionNote = normalizeLabel(d.Note, maxReasonRunes)

	var grant *model.Grant
	if d.Approve {
		req.Status = model.RequestApproved
		g, err := s.grantForLocked(req, d, now)
		if err != nil {
			return model.AccessRequest{}, nil, true, err
		}
		s.grants = append(s.grants, g)
		req.GrantID = g.ID
		grant = &g
	} else {
		req.Status = model.RequestDenied
	}

	payload := map[string]any{"requestId": req.ID, "status": req.Status}
	if grant != nil {
		payload["grantId"] = grant.ID
		payload["expiresAt"] = grant.ExpiresAt
	}
	s.auditLocked(req.ChildID, d.Actor, "request.decide", "request", payload, now)
	s.emitLocked(events.TopicRequestDecided, events.RequestDecided{Request: *req, Grant: grant})
	metrics.Requests.WithLabelValues(string(req.Type), string(req.Status)).Inc()
	s.logger.Info("Access request decided", "request", req.ID, "child", req.ChildID, "status", req.Status, "actor", d.Actor)

	if err := s.persistLocked(ctx); err != nil {
		return model.AccessRequest{}, nil, true, err
	}
	return *req, grant, true, nil
}

// grantForLocked builds the grant an approval of req produces.
func (s *Store) grantForLocked(req *model.AccessRequest, d RequestDecision, now time.Time) (model.Grant, error) {
	id, err := utils.NewID(utils.PrefixGrant)
	if err != nil {
		return model.Grant{}, err
	}
	g := model.Grant{
		ID:        id,
		ChildID:   req.ChildID,
		RequestID: req.ID,
		Type:      req.Type,
		Target:    req.Target,
		CreatedAt: now,
	}
	switch req.Type {
	case model.RequestMoreTime:
		g.ExtraMinutes = clampMinutes(cmp.Or(d.ExtraMinutes, req.ExtraMinutes, DefaultGrantMinutes))
		g.ExpiresAt = policy.NextMidnight(now, s.opts.Location)
	default:
		minutes := clampMinutes(cmp.Or(d.DurationMinutes, req.DurationMinutes, DefaultGrantMinutes))
		g.ExpiresAt = now.Add(time.Duration(minutes) * time.Minute)
	}
	return g, nil
}

func (s *Store) grantLocked(id string) *model.Grant {
	if id == "" {
		return nil
	}
	for i := range s.grants {
		if s.grants[i].ID == id {
			g := s.grants[i]
			return &g
		}
	}
	return nil
}

// GetRequest looks up one request.
func (s *Store) GetRequest(ctx context.Context, id string) (model.AccessRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return model.AccessRequest{}, false
	}
	return *r, true
}

// ListRequests returns requests newest first. A zero child or an empty
// status matches everything.
func (s *Store) ListRequests(ctx context.Context, child model.ChildID, status model.RequestStatus) []model.AccessRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.AccessRequest{}
	for _, r := range s.requests {
		if child != (model.ChildID{}) && r.ChildID != child {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, *r)
	}
	slices.SortFunc(out, func(a, b model.AccessRequest) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return out
}

func (s *Store) activeGrantsLocked(child model.ChildID, now time.Time) []model.Grant {
	out := []model.Grant{}
	for _, g := range s.grants {
		if g.ChildID == child && g.Active(now) {
			out = append(out, g)
		}
	}
	return out
}

// ActiveGrants returns the grants of child that have not expired yet.
func (s *Store) ActiveGrants(ctx context.Context, child model.ChildID) []model.Grant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeGrantsLocked(child, s.now())
}

// pruneGrantsLocked drops expired grants. Only run at load, so a grant that
// expires while the service is up stays visible in the snapshot until the
// next start.
func (s *Store) pruneGrantsLocked(now time.Time) int {
	before := len(s.grants)
	s.grants = slices.DeleteFunc(s.grants, func(g model.Grant) bool { return !g.Active(now) })
	return before - len(s.grants)
}
