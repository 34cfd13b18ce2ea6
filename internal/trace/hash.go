package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeTraceHash hashes an already canonical encoding.
func ComputeTraceHash(canonical []byte) string {
	if len(canonical) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
