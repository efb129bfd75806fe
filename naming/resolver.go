// Package naming implements deterministic, reversible sanitization of tool
// identifiers. Tool names arriving from external providers may contain
// characters (colons, dots, slashes) that model-facing function declarations
// do not accept; Sanitize maps them into a safe alphabet while a Resolver
// keeps the lookup tables needed to translate a sanitized name back to the
// identifier it came from.
//
// Sanitization is a pure structural function and therefore collision-agnostic:
// two distinct originals can sanitize to the same string. Reversal is
// table-driven, never derived from the string, so the Resolver keeps a
// multi-valued reverse entry when that happens. Callers that need a unique
// externally addressable name on top of this (the tool registry) assign
// public names with numeric suffixes; the Resolver only guarantees that every
// registered original stays individually resolvable.
package naming

import (
	"strings"
	"sync"
)

// Sanitize replaces every character outside [A-Za-z0-9_-] with an underscore.
// It is a pure function of its input and performs no collision handling.
func Sanitize(original string) string {
	var b strings.Builder
	b.Grow(len(original))
	for _, r := range original {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Resolver maintains the bidirectional original <-> sanitized mapping tables.
// All methods are safe for concurrent use; mutations are atomic so two
// concurrently starting sessions cannot observe a half-registered mapping.
type Resolver struct {
	mu      sync.RWMutex
	forward map[string]string   // original -> sanitized
	reverse map[string][]string // sanitized -> originals, in registration order
}

// NewResolver constructs an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{
		forward: make(map[string]string),
		reverse: make(map[string][]string),
	}
}

// AddMapping registers the original name and returns its sanitized form.
// Registering the same original twice is a no-op. When a distinct original
// sanitizes to an already-mapped string the reverse entry becomes
// multi-valued; ResolveOriginals exposes every candidate so the public-naming
// layer can disambiguate.
func (r *Resolver) AddMapping(original string) string {
	sanitized := Sanitize(original)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.forward[original]; ok {
		return existing
	}

	r.forward[original] = sanitized
	r.reverse[sanitized] = append(r.reverse[sanitized], original)

	return sanitized
}

// GetSanitized returns the sanitized form previously registered for original.
// The boolean reports whether the original has been mapped.
func (r *Resolver) GetSanitized(original string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.forward[original]
	return s, ok
}

// ResolveOriginal returns the original name registered for the sanitized
// form. When several originals collide on the same sanitized string the
// first-registered one is returned; use ResolveOriginals for the full set.
// An unmapped sanitized name yields ok=false, never an error: callers treat
// it as "tool not found".
func (r *Resolver) ResolveOriginal(sanitized string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	originals, ok := r.reverse[sanitized]
	if !ok || len(originals) == 0 {
		return "", false
	}
	return originals[0], true
}

// ResolveOriginals returns every original registered for the sanitized form,
// in registration order. The slice is a copy safe for caller mutation.
func (r *Resolver) ResolveOriginals(sanitized string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	originals := r.reverse[sanitized]
	out := make([]string, len(originals))
	copy(out, originals)
	return out
}

// HasCollision reports whether more than one original is registered for the
// sanitized form.
func (r *Resolver) HasCollision(sanitized string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.reverse[sanitized]) > 1
}

// Clear removes all mappings. Intended for test isolation and hot-reload of
// tool sources.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forward = make(map[string]string)
	r.reverse = make(map[string][]string)
}
