// Package profile holds the per-child local settings document shown by the
// dashboard. Stored documents may have been written by older versions, so
// every read goes through MergeDefaults, which fills fields the stored copy
// does not know about without touching the ones it has.
package profile

import (
	"bytes"
	"encoding/json"
	"time"
)

// Document is the local settings profile of a child. Pointer fields are
// optional: nil means "absent in the stored document".
type Document struct {
	PolicyVersion int64      `json:"policyVersion"`
	EffectiveAt   *time.Time `json:"effectiveAt,omitempty"`
	UpdatedAt     *time.Time `json:"updatedAt,omitempty"`
	UpdatedBy     string     `json:"updatedBy,omitempty"`

	DisplayName   *string               `json:"displayName,omitempty"`
	Policy        *PolicySettings       `json:"policy,omitempty"`
	UI            *UISettings           `json:"ui,omitempty"`
	Notifications *NotificationSettings `json:"notifications,omitempty"`

	LastKnownGood *LastKnownGood `json:"lastKnownGood,omitempty"`
	RolledBackBy  string         `json:"rolledBackBy,omitempty"`
	RolledBackAt  *time.Time     `json:"rolledBackAt,omitempty"`
}

// PolicySettings is the nested "policy" sub-document. Its serialized form
// decides whether policyVersion moves.
type PolicySettings struct {
	Mode               *string            `json:"mode,omitempty"`
	AlwaysAllowed      *bool              `json:"alwaysAllowed,omitempty"`
	DailyBudgetMinutes *int               `json:"dailyBudgetMinutes,omitempty"`
	BlockedApps        []string           `json:"blockedApps"`
	BlockedDomains     []string           `json:"blockedDomains"`
	AllowedDomains     []string           `json:"allowedDomains"`
	BlockedCategories  []string           `json:"blockedCategories"`
	SafeSearch         *bool              `json:"safeSearch,omitempty"`
	Bedtime            *WindowSettings    `json:"bedtime,omitempty"`
	School             *WindowSettings    `json:"school,omitempty"`
	Homework           *WindowSettings    `json:"homework,omitempty"`
	Integrity          *IntegritySettings `json:"integrity,omitempty"`
}

type WindowSettings struct {
	Enabled *bool   `json:"enabled,omitempty"`
	Start   *string `json:"start,omitempty"`
	End     *string `json:"end,omitempty"`
}

type IntegritySettings struct {
	BlockOnVPN               *bool `json:"blockOnVpn,omitempty"`
	BlockOnProxy             *bool `json:"blockOnProxy,omitempty"`
	BlockOnPublicDNS         *bool `json:"blockOnPublicDns,omitempty"`
	AlertOnHostsWriteFailure *bool `json:"alertOnHostsWriteFailure,omitempty"`
}

type UISettings struct {
	Theme        *string `json:"theme,omitempty"`
	Language     *string `json:"language,omitempty"`
	ShowActivity *bool   `json:"showActivity,omitempty"`
	WeekStartsOn *string `json:"weekStartsOn,omitempty"`
}

type NotificationSettings struct {
	AccessRequests  *bool    `json:"accessRequests,omitempty"`
	IntegrityAlerts *bool    `json:"integrityAlerts,omitempty"`
	DailySummary    *bool    `json:"dailySummary,omitempty"`
	Emails          []string `json:"emails"`
}

// LastKnownGood is an embedded copy of earlier policy content used by
// rollback. Profile takes precedence over Policy when both are set.
type LastKnownGood struct {
	Profile       *Document       `json:"profile,omitempty"`
	Policy        *PolicySettings `json:"policy,omitempty"`
	PolicyVersion int64           `json:"policyVersion,omitempty"`
	CapturedAt    *time.Time      `json:"capturedAt,omitempty"`
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		panic("profile: marshal document: " + err.Error())
	}
	var c Document
	if err := json.Unmarshal(data, &c); err != nil {
		panic("profile: unmarshal document: " + err.Error())
	}
	return &c
}

// PolicyJSON is the canonical serialized form of the policy sub-document.
func (d *Document) PolicyJSON() []byte {
	data, err := json.Marshal(d.Policy)
	if err != nil {
		panic("profile: marshal policy: " + err.Error())
	}
	return data
}

// SamePolicy reports whether a and b carry byte-identical policy content.
func SamePolicy(a, b *Document) bool {
	return bytes.Equal(a.PolicyJSON(), b.PolicyJSON())
}
