package datum

import (
	"github.com/google/uuid"
)

// IDGenerator assigns identities to new datums.
// Tests substitute testutil.SequentialIDs.
type IDGenerator interface {
	Generate() string
}

// UUIDGenerator produces random (version 4) UUIDs in hyphenated form.
//
// Stateless and safe for concurrent use.
type UUIDGenerator struct{}

// Generate returns a new UUID string.
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}
