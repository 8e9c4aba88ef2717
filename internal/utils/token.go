package utils // package utils provides helper functions for token creation and hashing

import (
    "crypto/rand"   // secure random number generation
    "crypto/sha256" // SHA-256 hashing for guest tokens
    "encoding/hex"  // hex encoding functions
)

// NewGuestTokenRaw returns a cryptographically secure random token string.
// 32 bytes of entropy encoded as 64 hex characters, unguessable, and
// delivered to the guest out of band.  Only its hash is ever persisted.
func NewGuestTokenRaw() (string, error) {
    return randomHex(32)
}

// HashTokenRaw returns the SHA-256 hash of a raw guest token as a hex
// string.  Storing only the hash in the database prevents attackers from
// using stolen rows to exercise guest actions.
func HashTokenRaw(raw string) string {
    sum := sha256.Sum256([]byte(raw))
    return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.  If the random number generator
// fails, an error is returned.
func randomHex(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return hex.EncodeToString(buf), nil
}
