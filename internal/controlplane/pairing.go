package controlplane

import (
	"cmp"
	"context"
	"crypto/subtle"
	"slices"
	"strings"
	"time"

	"family-safety-control/internal/events"
	"family-safety-control/internal/metrics"
	"family-safety-control/internal/model"
	"family-safety-control/internal/tokens"
)

// Collisions tolerated at one code length before the code grows a digit.
const pairingCollisionsPerLength = 8

// PairResult is handed to the agent exactly once. Token is the only copy of
// the raw credential.
type PairResult struct {
	ChildID   model.ChildID `json:"childId"`
	DeviceID  string        `json:"deviceId"`
	Token     string        `json:"token"`
	IssuedAt  time.Time     `json:"issuedAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

// sweepPairingsLocked drops expired pending codes. Reports whether any were
// removed.
func (s *Store) sweepPairingsLocked(now time.Time) bool {
	swept := false
	for child, p := range s.pending {
		if p.Expired(now) {
			delete(s.pending, child)
			swept = true
		}
	}
	return swept
}

func (s *Store) codeInUseLocked(code string) bool {
	for _, p := range s.pending {
		if p.Code == code {
			return true
		}
	}
	return false
}

// uniqueCodeLocked draws codes until one is free, widening the code by a
// digit after repeated collisions.
func (s *Store) uniqueCodeLocked() (string, error) {
	digits := tokens.MinCodeDigits
	for attempt := 1; ; attempt++ {
		code, err := tokens.PairingCode(digits)
		if err != nil {
			return "", err
		}
		if !s.codeInUseLocked(code) {
			return code, nil
		}
		if attempt%pairingCollisionsPerLength == 0 {
			if digits == tokens.MaxCodeDigits {
				return "", ErrCodeSpaceExhausted
			}
			digits++
			s.logger.Warn("Pairing code collisions, widening code", "digits", digits)
		}
	}
}

// StartPairing issues a pairing code for child, replacing any code the child
// already had.
func (s *Store) StartPairing(ctx context.Context, child model.ChildID, actor string) (model.PendingPairing, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	now := s.now()
	s.sweepPairingsLocked(now)

	c, _ := s.ensureChildLocked(child, now)
	if c.Archived {
		return model.PendingPairing{}, ErrChildArchived
	}

	// The child's previous code is replaced, so it does not count as taken.
	delete(s.pending, child)
	code, err := s.uniqueCodeLocked()
	if err != nil {
		return model.PendingPairing{}, err
	}

	p := model.PendingPairing{
		ChildID:   child,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.PairingTTL),
	}
	s.pending[child] = &p
	s.auditLocked(child, actor, "pairing.start", "device", map[string]any{"expiresAt": p.ExpiresAt}, now)
	metrics.Pairings.WithLabelValues("started").Inc()

	return p, s.persistLocked(ctx)
}

// PendingPairing returns the unexpired code of child, if any.
func (s *Store) PendingPairing(ctx context.Context, child model.ChildID) (model.PendingPairing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[child]
	if !ok || p.Expired(s.now()) {
		return model.PendingPairing{}, false
	}
	return *p, true
}

// validPairingCode reports whether code has the shape of an issued code.
func validPairingCode(code string) bool {
	if len(code) < tokens.MinCodeDigits || len(code) > tokens.MaxCodeDigits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CompletePairing binds a new device to the child owning code. The code is
// consumed on success. Unknown and expired codes both report
// ErrPairingNotFound.
func (s *Store) CompletePairing(ctx context.Context, code, deviceName, agentVersion string) (PairResult, error) {
	code = strings.TrimSpace(code)
	if !validPairingCode(code) {
		return PairResult{}, invalidf("pairing code must be %d-%d digits", tokens.MinCodeDigits, tokens.MaxCodeDigits)
	}

	s.mu.Lock()
	defer s.unlock(ctx)

	now := s.now()

	var match *model.PendingPairing
	for _, p := range s.pending {
		if subtle.ConstantTimeCompare([]byte(p.Code), []byte(code)) == 1 {
			match = p
		}
	}
	if match == nil || match.Expired(now) {
		metrics.Pairings.WithLabelValues("not_found").Inc()
		if s.sweepPairingsLocked(now) {
			if err := s.persistLocked(ctx); err != nil {
				return PairResult{}, err
			}
		}
		return PairResult{}, ErrPairingNotFound
	}

	child := match.ChildID
	name := normalizeLabel(deviceName, maxDeviceNameRunes)
	if name == "" {
		name = "Device"
	}
	agent := normalizeLabel(agentVersion, maxAgentVersionRunes)

	id, err := s.newDeviceIDLocked()
	if err != nil {
		return PairResult{}, err
	}
	token, err := tokens.NewToken()
	if err != nil {
		return PairResult{}, err
	}
	expires := now.Add(s.opts.DeviceTokenTTL)
	issued := now

	s.devices[id] = &model.Device{
		ID:             id,
		ChildID:        child,
		Name:           name,
		AgentVersion:   agent,
		PairedAt:       now,
		TokenHash:      s.hasher.Hash(token),
		TokenIssuedAt:  &issued,
		TokenExpiresAt: &expires,
	}
	delete(s.pending, child)
	s.sweepPairingsLocked(now)

	s.auditLocked(child, "device:"+id, "device.pair", "device", map[string]any{
		"deviceId":     id,
		"name":         name,
		"agentVersion": agent,
	}, now)
	s.emitLocked(events.TopicDevicePaired, events.DevicePaired{ChildID: child, DeviceID: id, Name: name})
	metrics.Pairings.WithLabelValues("paired").Inc()
	s.logger.Info("Device paired", "child", child, "device", id, "agent_version", agent)

	res := PairResult{ChildID: child, DeviceID: id, Token: token, IssuedAt: issued, ExpiresAt: expires}
	if err := s.persistLocked(ctx); err != nil {
		return PairResult{}, err
	}
	return res, nil
}

// deviceByTokenLocked finds the device of child whose stored hash matches
// token. Revoked and expired devices never match.
func (s *Store) deviceByTokenLocked(child model.ChildID, token string, now time.Time) *model.Device {
	if token == "" {
		return nil
	}
	var found *model.Device
	for _, d := range s.devices {
		if d.ChildID == child && s.hasher.Matches(d.TokenHash, token) {
			found = d
		}
	}
	if found == nil || !found.TokenActive(now) {
		return nil
	}
	return found
}

// ValidateToken reports which device of child the token belongs to. It fails
// closed for revoked or expired devices even when the hash matches.
func (s *Store) ValidateToken(ctx context.Context, child model.ChildID, token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.deviceByTokenLocked(child, token, s.now())
	if d == nil {
		return "", false
	}
	return d.ID, true
}

// RevokeToken invalidates the credential of a device while keeping its
// record. Returns the owning child; found is false for unknown devices.
// Revoking twice is a no-op.
func (s *Store) RevokeToken(ctx context.Context, deviceID, actor string) (model.ChildID, bool, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	d, ok := s.devices[deviceID]
	if !ok {
		return model.ChildID{}, false, nil
	}
	if d.Revoked() {
		return d.ChildID, true, nil
	}

	unusable, err := s.hasher.Unusable()
	if err != nil {
		return d.ChildID, true, err
	}
	now := s.now()
	revoked := now
	d.TokenHash = unusable
	d.TokenRevokedAt = &revoked
	if d.TokenExpiresAt == nil || d.TokenExpiresAt.After(now) {
		expires := now
		d.TokenExpiresAt = &expires
	}

	s.auditLocked(d.ChildID, actor, "device.revoke", "device", map[string]any{"deviceId": d.ID}, now)
	s.emitLocked(events.TopicDeviceRevoked, events.DeviceRevoked{ChildID: d.ChildID, DeviceID: d.ID, Actor: actor})
	s.logger.Info("Device token revoked", "child", d.ChildID, "device", d.ID, "actor", actor)

	return d.ChildID, true, s.persistLocked(ctx)
}

// RotateToken replaces the credential of a device that is still in good
// standing. The new raw token is returned once.
func (s *Store) RotateToken(ctx context.Context, deviceID, actor string) (PairResult, bool, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	d, ok := s.devices[deviceID]
	if !ok {
		return PairResult{}, false, nil
	}
	if d.Revoked() {
		return PairResult{}, true, ErrTokenRevoked
	}

	token, err := tokens.NewToken()
	if err != nil {
		return PairResult{}, true, err
	}
	now := s.now()
	issued, expires := now, now.Add(s.opts.DeviceTokenTTL)
	d.TokenHash = s.hasher.Hash(token)
	d.TokenIssuedAt = &issued
	d.TokenExpiresAt = &expires

	s.auditLocked(d.ChildID, actor, "device.rotate", "device", map[string]any{"deviceId": d.ID}, now)

	res := PairResult{ChildID: d.ChildID, DeviceID: d.ID, Token: token, IssuedAt: issued, ExpiresAt: expires}
	if err := s.persistLocked(ctx); err != nil {
		return PairResult{}, true, err
	}
	return res, true, nil
}

// GetDevices lists the devices of child, revoked ones included, oldest
// pairing first. Token hashes are stripped.
func (s *Store) GetDevices(ctx context.Context, child model.ChildID) []model.Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.Device{}
	for _, d := range s.devices {
		if d.ChildID == child {
			out = append(out, d.Public())
		}
	}
	slices.SortFunc(out, func(a, b model.Device) int {
		return cmp.Or(a.PairedAt.Compare(b.PairedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// GetDevice returns one device without its token hash.
func (s *Store) GetDevice(ctx context.Context, deviceID string) (model.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[deviceID]
	if !ok {
		return model.Device{}, false
	}
	return d.Public(), true
}
