package filestore

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// NewSessionID generates a random 128-bit session identifier formatted as a
// UUID. It prefers the secure random source behind uuid.NewRandom; if that
// source is unavailable it falls back to a pseudo-random generator that still
// produces syntactically valid UUIDv4-shaped output (version nibble 4,
// variant nibble in the 8-b range). The fallback is a determinism/format
// guarantee only, not a security property.
func NewSessionID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return pseudoRandomUUID()
}

func pseudoRandomUUID() string {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var b [16]byte
	for i := range b {
		b[i] = byte(rng.Intn(256))
	}
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // variant 10xx

	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
