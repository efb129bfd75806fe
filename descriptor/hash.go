package descriptor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// HashText returns the hex-encoded SHA-256 digest of the text after newline
// normalization (CRLF -> LF). Normalizing first keeps the hash stable across
// platforms that rewrite line endings.
func HashText(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// FallbackHash is a non-cryptographic rolling hash used only when the
// cryptographic primitive is unavailable: hash = (hash*31 - hash + charCode)
// as a signed 32-bit accumulator, rendered as the hex of its absolute value.
// It is a determinism guarantee, not a security property; collisions are
// plausible and it must never be used for integrity checks.
func FallbackHash(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	var hash int32
	for _, r := range normalized {
		hash = hash*31 - hash + int32(r)
	}
	if hash < 0 {
		// Negate via int64 so math.MinInt32 does not overflow.
		return fmt.Sprintf("%x", -int64(hash))
	}
	return fmt.Sprintf("%x", int64(hash))
}

// toolsetDigest is the canonical serialization hashed for the toolset hash.
// Tool names are sorted lexicographically so the hash is independent of
// registration order yet sensitive to membership; metadata keys serialize in
// sorted order by encoding/json.
type toolsetDigest struct {
	Tools    []string          `json:"tools"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// HashToolset returns the hex-encoded SHA-256 digest of the canonical JSON
// serialization of the sorted tool-name list plus metadata.
func HashToolset(toolNames []string, metadata map[string]string) (string, error) {
	sorted := make([]string, len(toolNames))
	copy(sorted, toolNames)
	sort.Strings(sorted)

	payload, err := json.Marshal(toolsetDigest{Tools: sorted, Metadata: metadata})
	if err != nil {
		return "", fmt.Errorf("serialize toolset: %w", err)
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
