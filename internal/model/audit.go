package model

import (
	"encoding/json"
	"time"
)

// AuditEntry is one link of a child's hash chain. BeforeHash equals the
// AfterHash of the previous entry, empty for the first one.
type AuditEntry struct {
	ID          string          `json:"id"`
	ChildID     ChildID         `json:"childId"`
	Timestamp   time.Time       `json:"timestamp"`
	Actor       string          `json:"actor"`
	Action      string          `json:"action"`
	Scope       string          `json:"scope"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	PayloadHash string          `json:"payloadHash"`
	BeforeHash  string          `json:"beforeHash,omitempty"`
	AfterHash   string          `json:"afterHash"`
}

// AuditQuery filters a child's audit trail. Zero values mean "no filter".
type AuditQuery struct {
	ChildID  ChildID
	From     *time.Time
	To       *time.Time
	Contains string
	Limit    int
}
