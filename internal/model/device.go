package model

import "time"

// Device is a paired child-side agent. TokenHash never holds the raw token.
type Device struct {
	ID           string    `json:"id"`
	ChildID      ChildID   `json:"childId"`
	Name         string    `json:"name"`
	AgentVersion string    `json:"agentVersion"`
	PairedAt     time.Time `json:"pairedAt"`
	TokenHash    string    `json:"tokenHash"`

	TokenIssuedAt  *time.Time `json:"tokenIssuedAt,omitempty"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
	TokenRevokedAt *time.Time `json:"tokenRevokedAt,omitempty"`

	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`

	// Policy sync watchdog state, updated on heartbeat.
	AppliedPolicyVersion     int64  `json:"appliedPolicyVersion"`
	AppliedPolicyFingerprint string `json:"appliedPolicyFingerprint,omitempty"`
	PolicyApplyOverdue       bool   `json:"policyApplyOverdue"`
}

// Revoked reports whether the token of d was revoked.
func (d *Device) Revoked() bool {
	return d.TokenRevokedAt != nil
}

// TokenActive reports whether the stored token may still authenticate at now.
func (d *Device) TokenActive(now time.Time) bool {
	if d.Revoked() {
		return false
	}
	if d.TokenExpiresAt != nil && !now.Before(*d.TokenExpiresAt) {
		return false
	}
	return d.TokenHash != ""
}

// Public strips the token hash before handing a device to callers.
func (d Device) Public() Device {
	d.TokenHash = ""
	return d
}

// PendingPairing is a single-use code binding a new device to a child.
type PendingPairing struct {
	ChildID   ChildID   `json:"childId"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (p PendingPairing) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
