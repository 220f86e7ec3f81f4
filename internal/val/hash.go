package val

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows a future
// algorithm change without colliding with stored hashes.
const (
	DomainPayload = "evsync/payload/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadHash fingerprints the intended state carried by a mutation. Two
// deliveries under one transaction id must carry the same fingerprint. The
// event id is left out so a temporary-to-canonical rewrite keeps the hash.
func PayloadHash(action string, declaration, annotation Object) (string, error) {
	obj := Object{
		"action": String(action),
	}
	if declaration != nil {
		obj["declaration"] = declaration
	}
	if annotation != nil {
		obj["annotation"] = annotation
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("payload hash: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}
