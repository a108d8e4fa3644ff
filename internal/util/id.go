package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewLocalID mints a device-local identifier. Collision-resistant but not
// authoritative; the sync engine promotes these to server-issued ids on
// first successful save.
func NewLocalID() string {
	return NewID("loc")
}

// IsLocalID reports whether id was minted on-device and still awaits promotion.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, "loc_")
}
