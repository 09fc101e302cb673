package util

import "github.com/google/uuid"

// NewID returns a random UUID, optionally prefixed ("req_<uuid>").
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// IsUUID reports whether s parses as a UUID. Entity ids are UUID columns, so
// malformed path segments are rejected before they reach the database.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
