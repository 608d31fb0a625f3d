package snapshot

import (
	"log/slog"

	"family-safety-control/internal/model"
)

// step upgrades a snapshot from version N to N+1.
type step func(s *Snapshot)

var steps = map[int]step{
	0: func(s *Snapshot) {}, // untagged documents are version 1
	1: migrateV1toV2,
	2: migrateV2toV3,
}

func migrate(s *Snapshot) {
	logger := slog.With("component", "snapshot")
	for s.SchemaVersion < CurrentSchemaVersion {
		fn, ok := steps[s.SchemaVersion]
		if !ok {
			// Negative or otherwise unknown versions: defaults are all we have.
			logger.Warn("No migration step, relying on defaults", "version", s.SchemaVersion)
			s.SchemaVersion = CurrentSchemaVersion
			break
		}
		logger.Info("Migrating snapshot", "from_version", s.SchemaVersion, "to_version", s.SchemaVersion+1)
		fn(s)
		s.SchemaVersion++
	}
}

// Version 1 writers stored lower-case mode names and no token metadata.
// Issue time is backfilled from the pairing time here; expiry depends on
// the configured TTL and is backfilled by device normalization after load.
func migrateV1toV2(s *Snapshot) {
	for i := range s.Policies {
		if m, err := model.ParseSafetyMode(string(s.Policies[i].Mode)); err == nil {
			s.Policies[i].Mode = m
		} else {
			s.Policies[i].Mode = model.ModeOpen
		}
	}
	for i := range s.Devices {
		d := &s.Devices[i]
		if d.TokenIssuedAt == nil && !d.PairedAt.IsZero() {
			issued := d.PairedAt
			d.TokenIssuedAt = &issued
		}
	}
}

// Version 3 introduced profiles, activity and the diagnostics index. They
// start out empty, which ensureCollections takes care of.
func migrateV2toV3(s *Snapshot) {}
