package controlplane

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"family-safety-control/internal/model"
	"family-safety-control/internal/utils"
)

const (
	maxDeviceNameRunes   = 64
	maxAgentVersionRunes = 32
	maxReasonRunes       = 280
)

// normalizeLabel makes user-supplied text safe to store and display: NFC
// form, control characters dropped, whitespace runs collapsed, cut to max
// runes.
func normalizeLabel(s string, max int) string {
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || (unicode.IsControl(r) && !unicode.IsSpace(r)) {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > max {
		s = strings.TrimSpace(string([]rune(s)[:max]))
	}
	return s
}

// dedupeDevices indexes devices by id, keeping the most recently paired
// record when an id repeats.
func dedupeDevices(list []model.Device) map[string]*model.Device {
	out := make(map[string]*model.Device, len(list))
	for i := range list {
		d := list[i]
		if prev, ok := out[d.ID]; ok && !d.PairedAt.After(prev.PairedAt) {
			continue
		}
		out[d.ID] = &d
	}
	return out
}

// normalizeDevicesLocked repairs device records written by older or damaged
// snapshots. Reports whether anything changed.
//
//   - records without an id get a fresh one
//   - a missing hash is replaced by a placeholder no token matches
//   - issue time defaults to the pairing time, expiry to issue + TTL
//   - expiry never lies past revocation
func (s *Store) normalizeDevicesLocked(now time.Time) bool {
	changed := false

	if d, ok := s.devices[""]; ok {
		delete(s.devices, "")
		if id, err := s.newDeviceIDLocked(); err == nil {
			d.ID = id
			s.devices[id] = d
			s.logger.Warn("Assigned id to device record without one", "device", id, "child", d.ChildID)
		}
		changed = true
	}

	for _, d := range s.devices {
		if d.TokenHash == "" {
			placeholder, err := s.hasher.Unusable()
			if err != nil {
				s.logger.Error("Failed to create placeholder token hash", "device", d.ID, "error", err)
				continue
			}
			d.TokenHash = placeholder
			s.logger.Warn("Device had no token hash, installed placeholder", "device", d.ID)
			changed = true
		}
		if d.TokenIssuedAt == nil {
			issued := d.PairedAt
			if issued.IsZero() {
				issued = now
			}
			d.TokenIssuedAt = &issued
			changed = true
		}
		if d.TokenExpiresAt == nil {
			expires := d.TokenIssuedAt.Add(s.opts.DeviceTokenTTL)
			d.TokenExpiresAt = &expires
			changed = true
		}
		if d.TokenRevokedAt != nil && d.TokenExpiresAt.After(*d.TokenRevokedAt) {
			clamped := *d.TokenRevokedAt
			d.TokenExpiresAt = &clamped
			changed = true
		}
		if _, ok := s.children[d.ChildID]; !ok {
			s.ensureChildLocked(d.ChildID, d.PairedAt)
			changed = true
		}
	}
	return changed
}

// newDeviceIDLocked mints a device id not used by any stored device.
func (s *Store) newDeviceIDLocked() (string, error) {
	for {
		id, err := utils.NewID(utils.PrefixDevice)
		if err != nil {
			return "", err
		}
		if _, taken := s.devices[id]; !taken {
			return id, nil
		}
	}
}
