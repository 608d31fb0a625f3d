// Package snapshot serializes the complete control-plane state to a single
// JSON document tagged with a schema version.
//
// Older schema versions are accepted as they are: absent fields take their
// zero value and the migration steps in migrate.go fill in the rest. The
// caller is told an upgrade happened so it can re-persist straight away,
// which keeps the stored format self-healing without a migration tool.
// Unknown fields written by newer versions are ignored.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"family-safety-control/internal/model"
	"family-safety-control/internal/profile"
)

// CurrentSchemaVersion is the version Encode writes.
//
// 1 - children, policies, devices, pending pairings, requests, grants, audit
// 2 - device token issue/expiry/revocation metadata
// 3 - profiles, activity and diagnostics index
const CurrentSchemaVersion = 3

var (
	ErrEmptySnapshot   = errors.New("snapshot is empty")
	ErrInvalidSnapshot = errors.New("snapshot is not valid JSON")
)

// ProfileRecord ties a settings document to its child.
type ProfileRecord struct {
	ChildID  model.ChildID     `json:"childId"`
	Document *profile.Document `json:"document"`
}

type Snapshot struct {
	SchemaVersion int       `json:"schemaVersion"`
	SavedAt       time.Time `json:"savedAt"`

	Children        []model.Child             `json:"children"`
	Policies        []model.Policy            `json:"policies"`
	Profiles        []ProfileRecord           `json:"profiles"`
	Devices         []model.Device            `json:"devices"`
	PendingPairings []model.PendingPairing    `json:"pendingPairings"`
	Requests        []model.AccessRequest     `json:"requests"`
	Grants          []model.Grant             `json:"grants"`
	Audit           []model.AuditEntry        `json:"audit"`
	Activity        []model.ChildActivity     `json:"activity"`
	Diagnostics     []model.DiagnosticsBundle `json:"diagnostics"`
}

// Upgrade describes what Decode did to bring a snapshot up to date.
type Upgrade struct {
	FromVersion int
	// Needed is set when the snapshot was migrated and should be saved again.
	Needed bool
	// Newer is set when the snapshot was written by a newer schema.
	Newer bool
}

// Encode stamps the current schema version and serializes s.
func Encode(s *Snapshot) ([]byte, error) {
	s.SchemaVersion = CurrentSchemaVersion
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses data and migrates it to the current schema in memory.
func Decode(data []byte) (*Snapshot, Upgrade, error) {
	if len(data) == 0 {
		return nil, Upgrade{}, ErrEmptySnapshot
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, Upgrade{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	up := Upgrade{FromVersion: s.SchemaVersion}
	switch {
	case s.SchemaVersion > CurrentSchemaVersion:
		up.Newer = true
	case s.SchemaVersion < CurrentSchemaVersion:
		migrate(&s)
		up.Needed = true
	}
	ensureCollections(&s)
	return &s, up, nil
}

// ensureCollections replaces nil collections with empty ones so the encoded
// document always lists every collection.
func ensureCollections(s *Snapshot) {
	if s.Children == nil {
		s.Children = []model.Child{}
	}
	if s.Policies == nil {
		s.Policies = []model.Policy{}
	}
	if s.Profiles == nil {
		s.Profiles = []ProfileRecord{}
	}
	if s.Devices == nil {
		s.Devices = []model.Device{}
	}
	if s.PendingPairings == nil {
		s.PendingPairings = []model.PendingPairing{}
	}
	if s.Requests == nil {
		s.Requests = []model.AccessRequest{}
	}
	if s.Grants == nil {
		s.Grants = []model.Grant{}
	}
	if s.Audit == nil {
		s.Audit = []model.AuditEntry{}
	}
	if s.Activity == nil {
		s.Activity = []model.ChildActivity{}
	}
	if s.Diagnostics == nil {
		s.Diagnostics = []model.DiagnosticsBundle{}
	}
}
