package crypto

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewULID generates a lexically sortable, monotonic ULID.
func NewULID() string {
	return ulid.Make().String()
}

// ValidULID reports whether s is a canonical ULID string.
func ValidULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
