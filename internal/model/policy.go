package model

import (
	"fmt"
	"strings"
	"time"
)

// SafetyMode is the behaviour state a child device enforces.
type SafetyMode string

const (
	ModeOpen     SafetyMode = "Open"
	ModeHomework SafetyMode = "Homework"
	ModeBedtime  SafetyMode = "Bedtime"
	ModeLockdown SafetyMode = "Lockdown"
)

// Restrictiveness orders modes from least to most restrictive.
func (m SafetyMode) Restrictiveness() int {
	switch m {
	case ModeOpen:
		return 0
	case ModeHomework:
		return 1
	case ModeBedtime:
		return 2
	case ModeLockdown:
		return 3
	}
	return -1
}

func (m SafetyMode) Valid() bool {
	return m.Restrictiveness() >= 0
}

// ParseSafetyMode accepts mode names case-insensitively.
func ParseSafetyMode(s string) (SafetyMode, error) {
	for _, m := range []SafetyMode{ModeOpen, ModeHomework, ModeBedtime, ModeLockdown} {
		if strings.EqualFold(string(m), strings.TrimSpace(s)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown safety mode %q", s)
}

type RuleAction string

const (
	RuleAllow RuleAction = "allow"
	RuleBlock RuleAction = "block"
	// RuleAlert is enforced as a block until the network hook for
	// allow-but-alert exists.
	RuleAlert RuleAction = "alert"
)

type CategoryRule struct {
	Category string     `json:"category"`
	Action   RuleAction `json:"action"`
}

// ScheduleWindow is a daily local-time window. End before Start wraps past
// midnight.
type ScheduleWindow struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"` // HH:MM
	End     string `json:"end"`   // HH:MM
}

type ScreenTime struct {
	DailyBudgetMinutes int `json:"dailyBudgetMinutes"` // 0 = unlimited
}

// IntegrityGates decide which circumvention signals force a restrictive
// response on the agent.
type IntegrityGates struct {
	BlockOnVPN               bool `json:"blockOnVpn"`
	BlockOnProxy             bool `json:"blockOnProxy"`
	BlockOnPublicDNS         bool `json:"blockOnPublicDns"`
	AlertOnHostsWriteFailure bool `json:"alertOnHostsWriteFailure"`
}

type Policy struct {
	ChildID ChildID `json:"childId"`
	Version int64   `json:"version"`

	Mode          SafetyMode `json:"mode"`
	GrantUntil    *time.Time `json:"grantUntil,omitempty"`
	AlwaysAllowed bool       `json:"alwaysAllowed"`

	BlockedApps    []string       `json:"blockedApps"`
	AllowedApps    []string       `json:"allowedApps"`
	BlockedDomains []string       `json:"blockedDomains"`
	AllowedDomains []string       `json:"allowedDomains"`
	CategoryRules  []CategoryRule `json:"categoryRules"`

	ScreenTime ScreenTime     `json:"screenTime"`
	Bedtime    ScheduleWindow `json:"bedtime"`
	School     ScheduleWindow `json:"school"`
	Homework   ScheduleWindow `json:"homework"`

	Integrity IntegrityGates `json:"integrity"`

	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
}

// PolicyPatch carries apply-if-provided fields for a policy upsert.
type PolicyPatch struct {
	Mode          *SafetyMode `json:"mode,omitempty"`
	GrantUntil    *time.Time  `json:"grantUntil,omitempty"`
	ClearGrant    bool        `json:"clearGrant,omitempty"`
	AlwaysAllowed *bool       `json:"alwaysAllowed,omitempty"`

	BlockedApps    []string       `json:"blockedApps,omitempty"`
	AllowedApps    []string       `json:"allowedApps,omitempty"`
	BlockedDomains []string       `json:"blockedDomains,omitempty"`
	AllowedDomains []string       `json:"allowedDomains,omitempty"`
	CategoryRules  []CategoryRule `json:"categoryRules,omitempty"`

	ScreenTime *ScreenTime     `json:"screenTime,omitempty"`
	Bedtime    *ScheduleWindow `json:"bedtime,omitempty"`
	School     *ScheduleWindow `json:"school,omitempty"`
	Homework   *ScheduleWindow `json:"homework,omitempty"`

	Integrity *IntegrityGates `json:"integrity,omitempty"`
}

// DefaultPolicy is the version 1 policy a child gets on first reference.
func DefaultPolicy(child ChildID, now time.Time) Policy {
	return Policy{
		ChildID:        child,
		Version:        1,
		Mode:           ModeOpen,
		BlockedApps:    []string{},
		AllowedApps:    []string{},
		BlockedDomains: []string{},
		AllowedDomains: []string{},
		CategoryRules:  []CategoryRule{},
		Bedtime:        ScheduleWindow{Start: "21:00", End: "07:00"},
		School:         ScheduleWindow{Start: "08:00", End: "15:00"},
		Homework:       ScheduleWindow{Start: "16:00", End: "18:00"},
		UpdatedAt:      now,
		UpdatedBy:      "system",
	}
}

// Clone returns a copy that shares no slices or pointers with p.
func (p Policy) Clone() Policy {
	c := p
	c.BlockedApps = cloneStrings(p.BlockedApps)
	c.AllowedApps = cloneStrings(p.AllowedApps)
	c.BlockedDomains = cloneStrings(p.BlockedDomains)
	c.AllowedDomains = cloneStrings(p.AllowedDomains)
	c.CategoryRules = append([]CategoryRule(nil), p.CategoryRules...)
	if p.GrantUntil != nil {
		t := *p.GrantUntil
		c.GrantUntil = &t
	}
	return c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append(make([]string, 0, len(in)), in...)
}
