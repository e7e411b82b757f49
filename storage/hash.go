// Package storage provides the shared storage primitives for the LDN
// inbox module: identifier hashing, the DynamoDB client interface, and
// attribute/index naming shared by both collections.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash maps a caller-facing identifier to its indexed storage key. It is
// applied identically for index construction and for every lookup, so a
// record written under Hash(id) is always found by querying Hash(id).
func Hash(id string) string {
	sum := sha256.Sum256([]byte(id))
	return "urn:sha256:" + hex.EncodeToString(sum[:])
}
