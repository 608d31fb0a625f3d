// Package events publishes control-plane activity to subscribers such as
// dashboards and alerting. Publishing is best effort: callers log failures
// and carry on.
package events

import (
	"context"
	"time"

	"family-safety-control/internal/model"
)

// Event topic suffixes. The configured subject prefix is prepended.
const (
	TopicDevicePaired     = "device.paired"
	TopicDeviceRevoked    = "device.revoked"
	TopicPolicyUpdated    = "policy.updated"
	TopicProfileUpdated   = "profile.updated"
	TopicProfileRollback  = "profile.rolled_back"
	TopicRequestCreated   = "request.created"
	TopicRequestDecided   = "request.decided"
	TopicIntegritySignal  = "integrity.signal"
	TopicPolicyOverdue    = "policy.overdue"
	TopicDiagnosticsSaved = "diagnostics.saved"
)

type DevicePaired struct {
	ChildID  model.ChildID `json:"child_id"`
	DeviceID string        `json:"device_id"`
	Name     string        `json:"name"`
}

type DeviceRevoked struct {
	ChildID  model.ChildID `json:"child_id"`
	DeviceID string        `json:"device_id"`
	Actor    string        `json:"actor"`
}

type PolicyUpdated struct {
	ChildID model.ChildID `json:"child_id"`
	Version int64         `json:"version"`
	Actor   string        `json:"actor"`
}

type ProfileUpdated struct {
	ChildID       model.ChildID `json:"child_id"`
	PolicyVersion int64         `json:"policy_version"`
	Actor         string        `json:"actor"`
}

type RequestCreated struct {
	Request model.AccessRequest `json:"request"`
}

type RequestDecided struct {
	Request model.AccessRequest `json:"request"`
	Grant   *model.Grant        `json:"grant,omitempty"`
}

type IntegritySignal struct {
	ChildID  model.ChildID              `json:"child_id"`
	DeviceID string                     `json:"device_id"`
	Signals  model.CircumventionSignals `json:"signals"`
	At       time.Time                  `json:"at"`
}

type PolicyOverdue struct {
	ChildID        model.ChildID `json:"child_id"`
	DeviceID       string        `json:"device_id"`
	AppliedVersion int64         `json:"applied_version"`
	CurrentVersion int64         `json:"current_version"`
}

type DiagnosticsSaved struct {
	Bundle model.DiagnosticsBundle `json:"bundle"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
