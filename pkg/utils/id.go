package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns "<prefix>_<uuid>", or a bare uuid when prefix is empty.
func GenerateID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// IDPrefix returns the prefix part of an id built by GenerateID.
func IDPrefix(id string) string {
	i := strings.LastIndex(id, "_")
	if i < 0 {
		return ""
	}
	return id[:i]
}
