package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for derived keys. The version suffix allows a future
// algorithm change without colliding with old markers.
const (
	DomainGrant    = "shelfshare/grant/v1"
	DomainDesired  = "shelfshare/desired/v1"
	DomainSnapshot = "shelfshare/snapshot/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data). The null separator
// keeps domain and data from running into each other.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// GrantKey is the marker id for the hall-membership ticket grant of handle
// in location. Locations are free text, so the pair is hashed rather than
// concatenated.
func GrantKey(location, handle string) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"location": location,
		"handle":   handle,
	})
	if err != nil {
		return "", fmt.Errorf("GrantKey: %w", err)
	}
	return hashWithDomain(DomainGrant, canonical), nil
}

// MustGrantKey is like GrantKey but panics on error.
func MustGrantKey(location, handle string) string {
	k, err := GrantKey(location, handle)
	if err != nil {
		panic(err)
	}
	return k
}

// DesiredKey is the id of handle's wishlist entry for bookID. One entry per
// pair, so a repeated add collides on create.
func DesiredKey(handle, bookID string) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"handle": handle,
		"bookId": bookID,
	})
	if err != nil {
		return "", fmt.Errorf("DesiredKey: %w", err)
	}
	return hashWithDomain(DomainDesired, canonical), nil
}

// SnapshotDigest hashes the canonical form of v. Two store states with equal
// digests are byte-identical once canonicalized.
func SnapshotDigest(v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("SnapshotDigest: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}
