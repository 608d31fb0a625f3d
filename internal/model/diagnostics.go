package model

import "time"

// DiagnosticsBundle points at a bundle file stored outside the snapshot.
type DiagnosticsBundle struct {
	ChildID   ChildID   `json:"childId"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}
