package model

import (
	"time"

	"github.com/google/uuid"
)

type ChildID = uuid.UUID

// Child is never hard-deleted, archiving only sets the flag.
type Child struct {
	ID         ChildID    `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"createdAt"`
	Archived   bool       `json:"archived"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
}

// ParseChildID parses the canonical textual form of a child id.
func ParseChildID(s string) (ChildID, error) {
	return uuid.Parse(s)
}
