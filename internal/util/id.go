package util

import "github.com/google/uuid"

// NewID returns a random UUID, optionally prefixed for opaque identifiers
// such as token ids.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// ValidID reports whether value parses as a UUID.
func ValidID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}
