package export

import (
	"fmt"
	"time"

	"github.com/nebula-assistant/agent-core/pkg/ids"
)

// DefaultTTL is the validity window for a freshly signed artifact URL.
const DefaultTTL = 900 * time.Second

// signingMessage builds the message signed for a given key and expiry, per
// spec §4.7: key || "|" || exp.
func signingMessage(key string, exp int64) string {
	return fmt.Sprintf("%s|%d", key, exp)
}

// SignArtifactKey returns the hex-encoded HMAC-SHA256 signature and the
// expiry (unix seconds) for key, valid for ttl from now.
func SignArtifactKey(secret []byte, key string, now time.Time, ttl time.Duration) (sig string, exp int64) {
	exp = now.Add(ttl).Unix()
	return ids.SignHMAC(secret, signingMessage(key, exp)), exp
}

// VerifyArtifactSignature reports whether sig is a valid, unexpired
// signature for key under secret. It is the single source of truth for
// both URL generation's self-check and retrieval's verification; a
// single-bit change in key, exp, sig, or secret must flip the result to
// false.
func VerifyArtifactSignature(secret []byte, key string, exp int64, sig string, now time.Time) bool {
	if exp <= now.Unix() {
		return false
	}
	return ids.VerifyHMAC(secret, signingMessage(key, exp), sig)
}
