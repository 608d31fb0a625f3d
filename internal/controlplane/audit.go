package controlplane

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"family-safety-control/internal/metrics"
	"family-safety-control/internal/model"
	"family-safety-control/internal/tokens"
	"family-safety-control/internal/utils"
)

const (
	DefaultAuditQueryLimit = 100
	MaxAuditQueryLimit     = 500
)

// AuditVerification is the result of recomputing a child's chain.
type AuditVerification struct {
	Entries int  `json:"entries"`
	Valid   bool `json:"valid"`
	// BrokenAt is the index of the first entry that fails, -1 when valid.
	BrokenAt int    `json:"brokenAt"`
	Problem  string `json:"problem,omitempty"`
}

// chainHash links an entry to its predecessor.
func chainHash(e model.AuditEntry) string {
	sep := []byte{0}
	return tokens.Digest(
		[]byte(e.BeforeHash), sep,
		[]byte(e.PayloadHash), sep,
		[]byte(e.Actor), sep,
		[]byte(e.Action), sep,
		[]byte(e.Scope), sep,
		[]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)),
	)
}

// compactJSON strips insignificant whitespace. Payloads are hashed in compact
// form; the indented snapshot encoding re-flows them on disk.
func compactJSON(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// appendAuditLocked adds one entry to the chain of child and trims the chain
// to the configured size.
func (s *Store) appendAuditLocked(child model.ChildID, actor, action, scope string, payload any, now time.Time) (model.AuditEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("%w: audit payload: %v", ErrInvalidInput, err)
	}
	id, err := utils.NewID(utils.PrefixAudit)
	if err != nil {
		return model.AuditEntry{}, err
	}
	if actor == "" {
		actor = "system"
	}

	chain := s.audit[child]
	e := model.AuditEntry{
		ID:          id,
		ChildID:     child,
		Timestamp:   now,
		Actor:       actor,
		Action:      action,
		Scope:       scope,
		Payload:     raw,
		PayloadHash: tokens.Digest(raw),
	}
	if len(chain) > 0 {
		e.BeforeHash = chain[len(chain)-1].AfterHash
	}
	e.AfterHash = chainHash(e)

	chain = append(chain, e)
	if over := len(chain) - s.opts.AuditMaxEntries; over > 0 {
		chain = slices.Clone(chain[over:])
	}
	s.audit[child] = chain
	metrics.AuditEntries.Set(float64(s.auditCountLocked()))
	return e, nil
}

// auditLocked appends an entry on behalf of another operation. A failure
// here never fails that operation.
func (s *Store) auditLocked(child model.ChildID, actor, action, scope string, payload any, now time.Time) {
	if _, err := s.appendAuditLocked(child, actor, action, scope, payload, now); err != nil {
		s.logger.Warn("Failed to append audit entry", "action", action, "child", child, "error", err)
	}
}

func (s *Store) auditCountLocked() int {
	n := 0
	for _, chain := range s.audit {
		n += len(chain)
	}
	return n
}

// AppendAudit records an action against a child's chain.
func (s *Store) AppendAudit(ctx context.Context, child model.ChildID, actor, action, scope string, payload any) (model.AuditEntry, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return model.AuditEntry{}, invalidf("audit action is required")
	}

	s.mu.Lock()
	defer s.unlock(ctx)

	now := s.now()
	s.ensureChildLocked(child, now)
	e, err := s.appendAuditLocked(child, actor, action, scope, payload, now)
	if err != nil {
		return model.AuditEntry{}, err
	}
	return e, s.persistLocked(ctx)
}

// QueryAudit returns matching entries newest first. A nil ChildID searches
// every chain.
func (s *Store) QueryAudit(ctx context.Context, q model.AuditQuery) []model.AuditEntry {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultAuditQueryLimit
	}
	limit = min(limit, MaxAuditQueryLimit)

	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(q.Contains))

	s.mu.Lock()
	defer s.mu.Unlock()

	var chains [][]model.AuditEntry
	if q.ChildID == (model.ChildID{}) {
		for _, chain := range s.audit {
			chains = append(chains, chain)
		}
	} else {
		chains = append(chains, s.audit[q.ChildID])
	}

	var out []model.AuditEntry
	for _, chain := range chains {
		for _, e := range chain {
			if q.From != nil && e.Timestamp.Before(*q.From) {
				continue
			}
			if q.To != nil && e.Timestamp.After(*q.To) {
				continue
			}
			if needle != "" && !auditMatches(fold, e, needle) {
				continue
			}
			out = append(out, e)
		}
	}

	slices.SortStableFunc(out, func(a, b model.AuditEntry) int {
		return cmp.Or(b.Timestamp.Compare(a.Timestamp), cmp.Compare(b.ID, a.ID))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func auditMatches(fold cases.Caser, e model.AuditEntry, needle string) bool {
	for _, field := range []string{e.Actor, e.Action, e.Scope, e.PayloadHash, e.BeforeHash, e.AfterHash} {
		if strings.Contains(fold.String(field), needle) {
			return true
		}
	}
	return false
}

// PurgeAudit removes entries of child strictly older than olderThan and
// reports how many were removed. The purge itself is recorded.
func (s *Store) PurgeAudit(ctx context.Context, child model.ChildID, olderThan time.Time, actor string) (int, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	chain := s.audit[child]
	kept := slices.DeleteFunc(slices.Clone(chain), func(e model.AuditEntry) bool {
		return e.Timestamp.Before(olderThan)
	})
	removed := len(chain) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	s.audit[child] = kept
	s.auditLocked(child, actor, "audit.purge", "audit", map[string]any{
		"removed":   removed,
		"olderThan": olderThan.UTC(),
	}, s.now())
	return removed, s.persistLocked(ctx)
}

// VerifyAudit recomputes the chain of child.
func (s *Store) VerifyAudit(ctx context.Context, child model.ChildID) AuditVerification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return verifyChain(s.audit[child])
}

func verifyChain(chain []model.AuditEntry) AuditVerification {
	res := AuditVerification{Entries: len(chain), Valid: true, BrokenAt: -1}
	fail := func(i int, problem string) AuditVerification {
		res.Valid = false
		res.BrokenAt = i
		res.Problem = problem
		return res
	}
	for i, e := range chain {
		if tokens.Digest(compactJSON(e.Payload)) != e.PayloadHash {
			return fail(i, "payload hash mismatch")
		}
		if i > 0 && e.BeforeHash != chain[i-1].AfterHash {
			return fail(i, "chain link broken")
		}
		if chainHash(e) != e.AfterHash {
			return fail(i, "entry hash mismatch")
		}
	}
	return res
}

// pruneAuditLocked drops entries past the retention age and trims chains to
// the entry cap. Run at load.
func (s *Store) pruneAuditLocked(now time.Time) int {
	cutoff := now.Add(-s.opts.AuditMaxAge)
	removed := 0
	for child, chain := range s.audit {
		kept := slices.DeleteFunc(slices.Clone(chain), func(e model.AuditEntry) bool {
			return e.Timestamp.Before(cutoff)
		})
		if over := len(kept) - s.opts.AuditMaxEntries; over > 0 {
			kept = kept[over:]
		}
		removed += len(chain) - len(kept)
		s.audit[child] = kept
	}
	metrics.AuditEntries.Set(float64(s.auditCountLocked()))
	return removed
}
