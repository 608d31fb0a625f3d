// Package controlplane is the state engine of the family-safety service.
//
// A Store owns every collection (children, policies, profiles, devices,
// pending pairings, requests, grants, audit chains, activity, diagnostics
// index) behind a single mutex. Every public method runs to completion under
// that mutex, and every mutating method finishes by encoding and saving the
// full snapshot before it returns, so what a caller saw succeed is what is on
// disk. Method groups live in separate files by domain; they all share the
// one lock.
//
// Side channels (events, email, secondary audit entries) are collected while
// the lock is held and delivered after it is released. Their failures are
// logged and never fail the operation that triggered them.
package controlplane

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"family-safety-control/internal/config"
	"family-safety-control/internal/email"
	"family-safety-control/internal/events"
	"family-safety-control/internal/metrics"
	"family-safety-control/internal/model"
	"family-safety-control/internal/profile"
	"family-safety-control/internal/snapshot"
	"family-safety-control/internal/storage"
	"family-safety-control/internal/tokens"
	"family-safety-control/internal/utils"
)

// SeedChildName names the child created when no usable snapshot exists.
const SeedChildName = "Child"

// Options configures a Store. Zero durations and limits take the defaults
// listed in config/defaults.go.
type Options struct {
	Adapter   storage.Adapter
	Secret    string
	Publisher events.Publisher
	Notifier  *email.Notifier

	// Now is the clock. Tests inject a fixed one.
	Now      func() time.Time
	Location *time.Location
	DataDir  string

	DeviceTokenTTL      time.Duration
	PairingTTL          time.Duration
	PolicySyncOverdue   time.Duration
	RequestDedupeWindow time.Duration

	AuditMaxEntries int
	AuditMaxAge     time.Duration

	DiagnosticsMaxBytes  int64
	DiagnosticsListLimit int
}

// OptionsFromConfig maps the service configuration onto store options.
func OptionsFromConfig(cfg *config.Config, adapter storage.Adapter) Options {
	return Options{
		Adapter:              adapter,
		Secret:               cfg.Secret,
		Location:             cfg.Location(),
		DataDir:              cfg.DataDir,
		DeviceTokenTTL:       cfg.DeviceTokenTTL,
		PairingTTL:           cfg.PairingTTL,
		PolicySyncOverdue:    cfg.PolicySyncOverdue,
		RequestDedupeWindow:  cfg.RequestDedupeWindow,
		AuditMaxEntries:      cfg.AuditMaxEntries,
		AuditMaxAge:          cfg.AuditMaxAge,
		DiagnosticsMaxBytes:  cfg.DiagnosticsMaxBytes,
		DiagnosticsListLimit: cfg.DiagnosticsListLimit,
	}
}

func (o *Options) setDefaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Publisher == nil {
		o.Publisher = &events.NoopPublisher{}
	}
	if o.DeviceTokenTTL <= 0 {
		o.DeviceTokenTTL = 30 * 24 * time.Hour
	}
	if o.PairingTTL <= 0 {
		o.PairingTTL = 10 * time.Minute
	}
	if o.PolicySyncOverdue <= 0 {
		o.PolicySyncOverdue = 10 * time.Minute
	}
	if o.RequestDedupeWindow <= 0 {
		o.RequestDedupeWindow = 2 * time.Minute
	}
	if o.AuditMaxEntries <= 0 {
		o.AuditMaxEntries = 5000
	}
	if o.AuditMaxAge <= 0 {
		o.AuditMaxAge = 180 * 24 * time.Hour
	}
	if o.DiagnosticsMaxBytes <= 0 {
		o.DiagnosticsMaxBytes = 50 << 20
	}
	if o.DiagnosticsListLimit <= 0 {
		o.DiagnosticsListLimit = 10
	}
}

type Store struct {
	mu sync.Mutex

	opts    Options
	adapter storage.Adapter
	hasher  *tokens.Hasher
	logger  *slog.Logger

	children    map[model.ChildID]*model.Child
	policies    map[model.ChildID]*model.Policy
	profiles    map[model.ChildID]*profile.Document
	devices     map[string]*model.Device
	pending     map[model.ChildID]*model.PendingPairing
	requests    map[string]*model.AccessRequest
	grants      []model.Grant
	audit       map[model.ChildID][]model.AuditEntry
	activity    map[model.ChildID]*model.ChildActivity
	diagnostics map[model.ChildID]model.DiagnosticsBundle

	// outbox holds side effects to run once the lock is released.
	outbox []func(ctx context.Context)
}

// Open builds a Store and hydrates it from the adapter. An unreadable
// snapshot is set aside and replaced by the seed state; only a failure to
// read from the adapter at all is returned.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("controlplane: storage adapter is required")
	}
	opts.setDefaults()

	s := &Store{
		opts:    opts,
		adapter: opts.Adapter,
		hasher:  tokens.NewHasher(opts.Secret),
		logger:  slog.With("component", "controlplane"),
	}
	s.reset()

	s.mu.Lock()
	defer s.unlock(ctx)
	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) reset() {
	s.children = make(map[model.ChildID]*model.Child)
	s.policies = make(map[model.ChildID]*model.Policy)
	s.profiles = make(map[model.ChildID]*profile.Document)
	s.devices = make(map[string]*model.Device)
	s.pending = make(map[model.ChildID]*model.PendingPairing)
	s.requests = make(map[string]*model.AccessRequest)
	s.grants = nil
	s.audit = make(map[model.ChildID][]model.AuditEntry)
	s.activity = make(map[model.ChildID]*model.ChildActivity)
	s.diagnostics = make(map[model.ChildID]model.DiagnosticsBundle)
}

// Close releases the adapter.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter.Close()
}

// Health probes the storage backend.
func (s *Store) Health(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter.Health(ctx)
}

// AdapterName reports which backend holds the snapshot.
func (s *Store) AdapterName() string {
	return s.adapter.Name()
}

func (s *Store) now() time.Time {
	return s.opts.Now()
}

// unlock releases the lock and then runs the side effects queued while it
// was held.
func (s *Store) unlock(ctx context.Context) {
	effects := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for _, fn := range effects {
		fn(ctx)
	}
}

// emitLocked queues an event for publication after unlock.
func (s *Store) emitLocked(topic string, event any) {
	s.outbox = append(s.outbox, func(ctx context.Context) {
		if err := s.opts.Publisher.Publish(ctx, topic, event); err != nil {
			s.logger.Warn("Failed to publish event", "topic", topic, "error", err)
		}
	})
}

// afterUnlock queues an arbitrary side effect.
func (s *Store) afterUnlock(fn func(ctx context.Context)) {
	s.outbox = append(s.outbox, fn)
}

// loadLocked hydrates the store from the adapter.
func (s *Store) loadLocked(ctx context.Context) error {
	now := s.now()

	data, err := s.adapter.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot from %s: %w", s.adapter.Name(), err)
	}
	if data == nil {
		s.logger.Info("No snapshot found, starting from seed state")
		s.seedLocked(now)
		s.persistAtStartup(ctx)
		return nil
	}

	snap, up, err := snapshot.Decode(data)
	if err != nil {
		s.logger.Error("Snapshot is unreadable, starting from seed state", "error", err, "bytes", len(data))
		if q, ok := s.adapter.(storage.Quarantiner); ok {
			if _, qerr := q.Quarantine(ctx, now); qerr != nil {
				s.logger.Error("Failed to set unreadable snapshot aside", "error", qerr)
			}
		}
		s.seedLocked(now)
		s.persistAtStartup(ctx)
		return nil
	}

	deduped := s.hydrateLocked(snap)
	repaired := s.normalizeDevicesLocked(now) || deduped
	pruned := s.pruneGrantsLocked(now) + s.pruneAuditLocked(now)

	s.logger.Info("Snapshot loaded",
		"schema_version", up.FromVersion,
		"children", len(s.children),
		"devices", len(s.devices),
		"repaired", repaired,
		"pruned", pruned,
	)

	switch {
	case up.Newer:
		// Rewriting now would drop fields this version does not know.
		s.logger.Warn("Snapshot written by a newer schema, loaded without rewrite",
			"schema_version", up.FromVersion, "current", snapshot.CurrentSchemaVersion)
	case up.Needed || repaired || pruned > 0:
		s.persistAtStartup(ctx)
	}
	return nil
}

// persistAtStartup saves without failing Open. The next mutation retries.
func (s *Store) persistAtStartup(ctx context.Context) {
	if err := s.persistLocked(ctx); err != nil {
		s.logger.Error("Failed to persist snapshot at startup", "error", err)
	}
}

// seedLocked installs the deterministic initial state: one child with a
// name-derived id and a version 1 default policy.
func (s *Store) seedLocked(now time.Time) {
	s.reset()
	id := utils.StableChildID(SeedChildName)
	s.children[id] = &model.Child{ID: id, Name: SeedChildName, CreatedAt: now}
	p := model.DefaultPolicy(id, now)
	s.policies[id] = &p
}

// hydrateLocked replaces the collections with the contents of snap. Reports
// whether duplicate device records were dropped.
func (s *Store) hydrateLocked(snap *snapshot.Snapshot) bool {
	s.reset()
	for i := range snap.Children {
		c := snap.Children[i]
		s.children[c.ID] = &c
	}
	for i := range snap.Policies {
		p := snap.Policies[i]
		s.ensureChildLocked(p.ChildID, p.UpdatedAt)
		s.policies[p.ChildID] = &p
	}
	for _, rec := range snap.Profiles {
		if rec.Document == nil {
			continue
		}
		s.ensureChildLocked(rec.ChildID, time.Time{})
		s.profiles[rec.ChildID] = profile.MergeDefaults(rec.Document)
	}
	s.devices = dedupeDevices(snap.Devices)
	for i := range snap.PendingPairings {
		p := snap.PendingPairings[i]
		s.pending[p.ChildID] = &p
	}
	for i := range snap.Requests {
		r := snap.Requests[i]
		s.requests[r.ID] = &r
	}
	s.grants = append(s.grants, snap.Grants...)
	for _, e := range snap.Audit {
		s.audit[e.ChildID] = append(s.audit[e.ChildID], e)
	}
	for i := range snap.Activity {
		a := snap.Activity[i]
		s.activity[a.ChildID] = &a
	}
	for _, d := range snap.Diagnostics {
		s.diagnostics[d.ChildID] = d
	}
	return len(s.devices) < len(snap.Devices)
}

// snapshotLocked flattens the collections in a stable order.
func (s *Store) snapshotLocked() *snapshot.Snapshot {
	snap := &snapshot.Snapshot{}

	for _, c := range s.children {
		snap.Children = append(snap.Children, *c)
	}
	slices.SortFunc(snap.Children, func(a, b model.Child) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})

	for _, id := range s.childOrderLocked() {
		if p, ok := s.policies[id]; ok {
			snap.Policies = append(snap.Policies, p.Clone())
		}
		if doc, ok := s.profiles[id]; ok {
			snap.Profiles = append(snap.Profiles, snapshot.ProfileRecord{ChildID: id, Document: doc.Clone()})
		}
		if p, ok := s.pending[id]; ok {
			snap.PendingPairings = append(snap.PendingPairings, *p)
		}
		snap.Audit = append(snap.Audit, s.audit[id]...)
		if a, ok := s.activity[id]; ok {
			snap.Activity = append(snap.Activity, cloneActivity(a))
		}
		if d, ok := s.diagnostics[id]; ok {
			snap.Diagnostics = append(snap.Diagnostics, d)
		}
	}

	for _, d := range s.devices {
		snap.Devices = append(snap.Devices, *d)
	}
	slices.SortFunc(snap.Devices, func(a, b model.Device) int {
		return cmp.Or(a.PairedAt.Compare(b.PairedAt), cmp.Compare(a.ID, b.ID))
	})

	for _, r := range s.requests {
		snap.Requests = append(snap.Requests, *r)
	}
	slices.SortFunc(snap.Requests, func(a, b model.AccessRequest) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})

	snap.Grants = append(snap.Grants, s.grants...)
	return snap
}

// childOrderLocked lists every child id referenced by any collection,
// sorted so encoding is deterministic.
func (s *Store) childOrderLocked() []model.ChildID {
	seen := make(map[model.ChildID]struct{}, len(s.children))
	var ids []model.ChildID
	add := func(id model.ChildID) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for id := range s.children {
		add(id)
	}
	for id := range s.audit {
		add(id)
	}
	slices.SortFunc(ids, func(a, b model.ChildID) int { return cmp.Compare(a.String(), b.String()) })
	return ids
}

// persistLocked encodes the full state and saves it. Failures wrap
// ErrPersist; the in-memory state is kept as is.
func (s *Store) persistLocked(ctx context.Context) error {
	snap := s.snapshotLocked()
	snap.SavedAt = s.now()

	data, err := snapshot.Encode(snap)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}

	started := time.Now()
	err = s.adapter.Save(ctx, data)
	metrics.ObservePersist(s.adapter.Name(), started, len(data), err)
	if err != nil {
		s.logger.Error("Failed to persist snapshot", "adapter", s.adapter.Name(), "error", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// Snapshot returns the current state as a snapshot document.
func (s *Store) Snapshot(ctx context.Context) *snapshot.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	snap.SchemaVersion = snapshot.CurrentSchemaVersion
	snap.SavedAt = s.now()
	return snap
}

// Flush re-persists the current state, e.g. to rewrite a snapshot that was
// loaded from a newer schema or to copy it to a freshly configured backend.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock(ctx)
	return s.persistLocked(ctx)
}

func cloneActivity(a *model.ChildActivity) model.ChildActivity {
	c := model.ChildActivity{
		ChildID: a.ChildID,
		Devices: make([]model.DeviceActivity, len(a.Devices)),
		Events:  append([]model.ActivityEvent{}, a.Events...),
	}
	for i, d := range a.Devices {
		d.TopApps = append([]model.AppUsage{}, d.TopApps...)
		d.Web.TopBlocked = append([]model.BlockedDomain{}, d.Web.TopBlocked...)
		c.Devices[i] = d
	}
	return c
}
