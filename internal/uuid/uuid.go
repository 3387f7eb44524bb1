// Package uuid mints record identifiers. Records created offline carry a
// "local-" prefix until the server assigns their permanent id.
package uuid

import (
	"strings"

	"github.com/google/uuid"
)

// LocalPrefix marks identifiers minted on this device that the server has
// never acknowledged.
const LocalPrefix = "local-"

// canonicalLen is the length of the hyphenated text form.
const canonicalLen = 36

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewLocal generates a device-local identifier ("local-<uuid v4>").
func NewLocal() string {
	return LocalPrefix + New()
}

// IsLocal reports whether id was minted locally.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, LocalPrefix)
}

// IsValid reports whether s is a hyphenated RFC 4122 version 4 UUID.
func IsValid(s string) bool {
	if len(s) != canonicalLen {
		return false
	}
	id, err := uuid.Parse(s)
	return err == nil && id.Version() == 4 && id.Variant() == uuid.RFC4122
}

// IsValidLocal checks if a string is a well-formed local identifier.
func IsValidLocal(s string) bool {
	return IsLocal(s) && IsValid(strings.TrimPrefix(s, LocalPrefix))
}
