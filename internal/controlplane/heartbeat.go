package controlplane

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"family-safety-control/internal/events"
	"family-safety-control/internal/metrics"
	"family-safety-control/internal/model"
	"family-safety-control/internal/policy"
)

const (
	MaxActivityEvents = 500
	maxTopEntries     = 10
)

// Activity event kinds.
const (
	ActivityIntegrity      = "integrity"
	ActivityPolicyOverdue  = "policy_overdue"
	ActivityPolicyApplied  = "policy_applied"
	ActivityBudgetDepleted = "budget_depleted"
)

// HeartbeatResult tells the agent what to enforce and whether it is behind.
type HeartbeatResult struct {
	DeviceID      string          `json:"deviceId"`
	Decision      policy.Decision `json:"decision"`
	PolicyVersion int64           `json:"policyVersion"`
	Fingerprint   string          `json:"fingerprint"`
	// PolicyApplyOverdue is set when the device has not applied the current
	// policy within the configured grace period.
	PolicyApplyOverdue bool      `json:"policyApplyOverdue"`
	ServerTime         time.Time `json:"serverTime"`
}

// Heartbeat records an agent report and returns the effective policy. The
// token must belong to a device of child that is neither revoked nor
// expired.
func (s *Store) Heartbeat(ctx context.Context, child model.ChildID, token string, report model.HeartbeatReport) (HeartbeatResult, error) {
	s.mu.Lock()
	defer s.unlock(ctx)

	now := s.now()
	d := s.deviceByTokenLocked(child, token, now)
	if d == nil || (report.DeviceID != "" && report.DeviceID != d.ID) {
		metrics.Heartbeats.WithLabelValues("unauthorized").Inc()
		return HeartbeatResult{}, ErrUnauthorized
	}

	seen := now
	d.LastSeenAt = &seen
	if v := normalizeLabel(report.AgentVersion, maxAgentVersionRunes); v != "" {
		d.AgentVersion = v
	}
	prevApplied := d.AppliedPolicyVersion
	d.AppliedPolicyVersion = report.AppliedPolicyVersion
	d.AppliedPolicyFingerprint = strings.TrimSpace(report.AppliedPolicyFingerprint)

	p, _ := s.policyLocked(child, now)
	fingerprint := policy.Fingerprint(*p)

	act := s.activityLocked(child)
	prev, _ := deviceActivity(act, d.ID)
	s.recordActivityLocked(act, d, report, now)

	if report.AppliedPolicyVersion == p.Version && prevApplied != p.Version {
		s.addActivityEventLocked(act, model.ActivityEvent{
			At: now, DeviceID: d.ID, Kind: ActivityPolicyApplied,
			Detail: fmt.Sprintf("policy version %d applied", p.Version),
		})
	}

	s.checkSignalsLocked(act, d, prev.Signals, report.Signals, now)

	overdue := report.AppliedPolicyVersion < p.Version &&
		d.AppliedPolicyFingerprint != fingerprint &&
		now.Sub(p.UpdatedAt) >= s.opts.PolicySyncOverdue
	if overdue && !d.PolicyApplyOverdue {
		s.addActivityEventLocked(act, model.ActivityEvent{
			At: now, DeviceID: d.ID, Kind: ActivityPolicyOverdue,
			Detail: fmt.Sprintf("applied version %d, current %d", report.AppliedPolicyVersion, p.Version),
		})
		s.emitLocked(events.TopicPolicyOverdue, events.PolicyOverdue{
			ChildID:        child,
			DeviceID:       d.ID,
			AppliedVersion: report.AppliedPolicyVersion,
			CurrentVersion: p.Version,
		})
		s.logger.Warn("Device has not applied current policy",
			"child", child, "device", d.ID, "applied", report.AppliedPolicyVersion, "current", p.Version)
	}
	d.PolicyApplyOverdue = overdue

	decision := s.evaluateLocked(child, now)
	if decision.BudgetDepleted && !s.depletedTodayLocked(act, d.ID, now) {
		s.addActivityEventLocked(act, model.ActivityEvent{At: now, DeviceID: d.ID, Kind: ActivityBudgetDepleted})
	}

	result := "ok"
	if overdue {
		result = "overdue"
	}
	metrics.Heartbeats.WithLabelValues(result).Inc()

	if err := s.persistLocked(ctx); err != nil {
		return HeartbeatResult{}, err
	}
	return HeartbeatResult{
		DeviceID:           d.ID,
		Decision:           decision,
		PolicyVersion:      p.Version,
		Fingerprint:        fingerprint,
		PolicyApplyOverdue: overdue,
		ServerTime:         now,
	}, nil
}

// depletedTodayLocked reports whether a budget_depleted event was already
// recorded for the device today.
func (s *Store) depletedTodayLocked(act *model.ChildActivity, deviceID string, now time.Time) bool {
	today := policy.UsageDate(now, s.opts.Location)
	for _, e := range act.Events {
		if e.Kind == ActivityBudgetDepleted && e.DeviceID == deviceID && policy.UsageDate(e.At, s.opts.Location) == today {
			return true
		}
	}
	return false
}

func (s *Store) activityLocked(child model.ChildID) *model.ChildActivity {
	a, ok := s.activity[child]
	if !ok {
		a = &model.ChildActivity{ChildID: child, Devices: []model.DeviceActivity{}, Events: []model.ActivityEvent{}}
		s.activity[child] = a
	}
	return a
}

func deviceActivity(a *model.ChildActivity, deviceID string) (model.DeviceActivity, int) {
	for i, d := range a.Devices {
		if d.DeviceID == deviceID {
			return d, i
		}
	}
	return model.DeviceActivity{}, -1
}

// recordActivityLocked replaces the latest report of the device.
func (s *Store) recordActivityLocked(a *model.ChildActivity, d *model.Device, r model.HeartbeatReport, now time.Time) {
	apps := make([]model.AppUsage, 0, len(r.TopApps))
	for _, u := range r.TopApps {
		name := normalizeLabel(u.App, maxDeviceNameRunes)
		if name == "" || u.Minutes < 0 {
			continue
		}
		apps = append(apps, model.AppUsage{App: name, Minutes: min(u.Minutes, MaxGrantMinutes)})
	}
	slices.SortStableFunc(apps, func(x, y model.AppUsage) int { return y.Minutes - x.Minutes })
	if len(apps) > maxTopEntries {
		apps = apps[:maxTopEntries]
	}

	web := r.Web
	web.TopBlocked = slices.Clone(web.TopBlocked)
	if web.TopBlocked == nil {
		web.TopBlocked = []model.BlockedDomain{}
	}
	if len(web.TopBlocked) > maxTopEntries {
		web.TopBlocked = web.TopBlocked[:maxTopEntries]
	}

	entry := model.DeviceActivity{
		DeviceID:    d.ID,
		ReportedAt:  now,
		UsageDate:   policy.UsageDate(now, s.opts.Location),
		UsedMinutes: min(max(r.ScreenTimeUsedMinutes, 0), MaxGrantMinutes),
		TopApps:     apps,
		Web:         web,
		Signals:     r.Signals,
	}
	if _, i := deviceActivity(a, d.ID); i >= 0 {
		a.Devices[i] = entry
	} else {
		a.Devices = append(a.Devices, entry)
	}
}

// checkSignalsLocked raises events for circumvention signals that were not
// set on the previous report of the device.
func (s *Store) checkSignalsLocked(a *model.ChildActivity, d *model.Device, prev, cur model.CircumventionSignals, now time.Time) {
	raised := model.CircumventionSignals{
		VPNSuspected:       cur.VPNSuspected && !prev.VPNSuspected,
		ProxySuspected:     cur.ProxySuspected && !prev.ProxySuspected,
		PublicDNSSuspected: cur.PublicDNSSuspected && !prev.PublicDNSSuspected,
		HostsWriteFailed:   cur.HostsWriteFailed && !prev.HostsWriteFailed,
	}
	if !raised.Any() {
		return
	}

	for _, sig := range []struct {
		on   bool
		name string
	}{
		{raised.VPNSuspected, "vpn"},
		{raised.ProxySuspected, "proxy"},
		{raised.PublicDNSSuspected, "public_dns"},
		{raised.HostsWriteFailed, "hosts_write_failed"},
	} {
		if !sig.on {
			continue
		}
		metrics.IntegritySignals.WithLabelValues(sig.name).Inc()
		s.addActivityEventLocked(a, model.ActivityEvent{At: now, DeviceID: d.ID, Kind: ActivityIntegrity, Detail: sig.name})
	}

	s.emitLocked(events.TopicIntegritySignal, events.IntegritySignal{
		ChildID:  d.ChildID,
		DeviceID: d.ID,
		Signals:  cur,
		At:       now,
	})
	s.logger.Warn("Circumvention signal reported", "child", d.ChildID, "device", d.ID, "signals", cur)

	childName, deviceName := s.childNameLocked(d.ChildID), d.Name
	s.afterUnlock(func(ctx context.Context) {
		s.opts.Notifier.IntegrityAlert(ctx, childName, deviceName, raised)
	})
}

// addActivityEventLocked appends to the bounded event stream, dropping the
// oldest events first.
func (s *Store) addActivityEventLocked(a *model.ChildActivity, e model.ActivityEvent) {
	a.Events = append(a.Events, e)
	if over := len(a.Events) - MaxActivityEvents; over > 0 {
		a.Events = slices.Clone(a.Events[over:])
	}
}

// GetActivity returns the latest report of every device of child and the
// recent event stream, oldest event first.
func (s *Store) GetActivity(ctx context.Context, child model.ChildID) model.ChildActivity {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.activity[child]
	if !ok {
		return model.ChildActivity{ChildID: child, Devices: []model.DeviceActivity{}, Events: []model.ActivityEvent{}}
	}
	return cloneActivity(a)
}
