package utils

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet defines the character set used for the random portion of an ID.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// IDLength is the number of random characters generated (excluding the prefix).
const IDLength = 12

// ID prefixes per record kind.
const (
	PrefixDevice  = "dev-"
	PrefixRequest = "req-"
	PrefixGrant   = "grt-"
	PrefixAudit   = "aud-"
)

// NewID returns a short URL-safe identifier with the given prefix.
func NewID(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, IDLength)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return prefix + id, nil
}

// seedNamespace scopes name-based child ids to this application.
var seedNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://family-safety.local/children"))

// StableChildID derives the same child id for the same name on every
// install. Used for the seed child so a restart from a corrupt snapshot
// lands on a predictable record.
func StableChildID(name string) uuid.UUID {
	return uuid.NewSHA1(seedNamespace, []byte(name))
}
