// Package ids provides request-id synthesis and user-id hashing for logs
// and artifact keys.
package ids

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewRequestID generates a fresh request id of the form "req_<32 hex chars>"
// from 128 bits of crypto/rand entropy.
func NewRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken;
		// fall back to a fixed value of the same shape rather than panic.
		return "req_" + hex.EncodeToString([]byte(fmt.Sprintf("%016x", uintptr(0))))
	}
	return "req_" + hex.EncodeToString(b[:])
}

// HashUserID derives a stable, non-reversible identifier for a userId,
// suitable for log lines and artifact storage paths where the raw userId
// should not appear verbatim.
func HashUserID(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}

// RandomKeySuffix returns hex-encoded random bytes for use as the
// unpredictable segment of an artifact storage key.
func RandomKeySuffix(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random suffix: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// SignHMAC computes the hex-encoded HMAC-SHA256 of msg under key. Used for
// signing and verifying artifact download URLs.
func SignHMAC(key []byte, msg string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC reports whether sig is the correct hex-encoded HMAC-SHA256 of
// msg under key, using a constant-time comparison.
func VerifyHMAC(key []byte, msg, sig string) bool {
	want := SignHMAC(key, msg)
	return hmac.Equal([]byte(want), []byte(sig))
}
