package model

import "time"

// CircumventionSignals are produced by the web-filter collaborator on the
// agent. The control plane only stores them.
type CircumventionSignals struct {
	VPNSuspected       bool `json:"vpnSuspected"`
	ProxySuspected     bool `json:"proxySuspected"`
	PublicDNSSuspected bool `json:"publicDnsSuspected"`
	HostsWriteFailed   bool `json:"hostsWriteFailed"`
}

// Any reports whether at least one signal is raised.
func (s CircumventionSignals) Any() bool {
	return s.VPNSuspected || s.ProxySuspected || s.PublicDNSSuspected || s.HostsWriteFailed
}

type BlockedDomain struct {
	Domain string `json:"domain"`
	Hits   int    `json:"hits"`
	Reason string `json:"reason,omitempty"`
}

type WebAggregates struct {
	ConfiguredBlocks int             `json:"configuredBlocks"`
	TopBlocked       []BlockedDomain `json:"topBlocked"`
	AlertCount       int             `json:"alertCount"`
}

type AppUsage struct {
	App     string `json:"app"`
	Minutes int    `json:"minutes"`
}

// HeartbeatReport is what an agent sends on every heartbeat.
type HeartbeatReport struct {
	DeviceID                 string               `json:"deviceId"`
	AgentVersion             string               `json:"agentVersion,omitempty"`
	AppliedPolicyVersion     int64                `json:"appliedPolicyVersion"`
	AppliedPolicyFingerprint string               `json:"appliedPolicyFingerprint,omitempty"`
	ScreenTimeUsedMinutes    int                  `json:"screenTimeUsedMinutes"`
	TopApps                  []AppUsage           `json:"topApps,omitempty"`
	Web                      WebAggregates        `json:"web"`
	Signals                  CircumventionSignals `json:"signals"`
}

// DeviceActivity is the latest report of one device.
type DeviceActivity struct {
	DeviceID    string               `json:"deviceId"`
	ReportedAt  time.Time            `json:"reportedAt"`
	UsageDate   string               `json:"usageDate"` // YYYY-MM-DD, local
	UsedMinutes int                  `json:"usedMinutes"`
	TopApps     []AppUsage           `json:"topApps"`
	Web         WebAggregates        `json:"web"`
	Signals     CircumventionSignals `json:"signals"`
}

type ActivityEvent struct {
	At       time.Time `json:"at"`
	DeviceID string    `json:"deviceId,omitempty"`
	Kind     string    `json:"kind"`
	Detail   string    `json:"detail,omitempty"`
}

// ChildActivity is the derived activity stream of one child.
type ChildActivity struct {
	ChildID ChildID          `json:"childId"`
	Devices []DeviceActivity `json:"devices"`
	Events  []ActivityEvent  `json:"events"`
}

// UsedMinutesOn returns the highest usage any device reported for date.
func (a *ChildActivity) UsedMinutesOn(date string) int {
	used := 0
	for _, d := range a.Devices {
		if d.UsageDate == date && d.UsedMinutes > used {
			used = d.UsedMinutes
		}
	}
	return used
}
