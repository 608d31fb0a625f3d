package model

import "time"

type RequestType string

const (
	RequestMoreTime    RequestType = "more_time"
	RequestUnblockApp  RequestType = "unblock_app"
	RequestUnblockSite RequestType = "unblock_site"
)

func (t RequestType) Valid() bool {
	switch t {
	case RequestMoreTime, RequestUnblockApp, RequestUnblockSite:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestDenied   RequestStatus = "denied"
)

// AccessRequest is a child's ask for an exception to the policy.
type AccessRequest struct {
	ID       string        `json:"id"`
	ChildID  ChildID       `json:"childId"`
	DeviceID string        `json:"deviceId,omitempty"`
	Type     RequestType   `json:"type"`
	Target   string        `json:"target,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Status   RequestStatus `json:"status"`

	ExtraMinutes    int `json:"extraMinutes,omitempty"`
	DurationMinutes int `json:"durationMinutes,omitempty"`

	DedupeKey string    `json:"dedupeKey"`
	CreatedAt time.Time `json:"createdAt"`

	DecidedAt    *time.Time `json:"decidedAt,omitempty"`
	DecidedBy    string     `json:"decidedBy,omitempty"`
	DecisionNote string     `json:"decisionNote,omitempty"`
	GrantID      string     `json:"grantId,omitempty"`
}

// Grant is a time-boxed exception derived from an approved request.
type Grant struct {
	ID           string      `json:"id"`
	ChildID      ChildID     `json:"childId"`
	RequestID    string      `json:"requestId"`
	Type         RequestType `json:"type"`
	Target       string      `json:"target,omitempty"`
	ExtraMinutes int         `json:"extraMinutes,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	ExpiresAt    time.Time   `json:"expiresAt"`
}

// Active reports whether g still applies at now.
func (g Grant) Active(now time.Time) bool {
	return g.ExpiresAt.After(now)
}
