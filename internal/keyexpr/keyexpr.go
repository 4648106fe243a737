// Package keyexpr implements the Zenoh key expression algebra: chunk-wise
// canonicalization, inclusion and intersection over keys built from
// '/'-separated chunks that may contain the wildcards '*', '**' and '$*'.
//
// The algorithms here are grounded on the reference C implementation's
// pointer-walking backtracker (zenoh-pico src/protocol/keyexpr/intersect.c),
// reexpressed over Go string slices instead of pointer pairs.
package keyexpr

import (
	"strings"

	"github.com/zenoh-pico-go/zenohpico/internal/zerr"
)

const (
	singleWild = "*"
	doubleWild = "**"
	starDSL    = "$*"
)

// KE is a canonical key expression, stored as its textual form.
type KE string

// Canonize validates and normalizes a key expression string per spec.md
// §4.1: no "//", no leading/trailing '/', no empty string, no chunk that is
// exactly "$*" (must be written as "*"), and "$*$*" collapsed to "$*".
//
// It returns zerr.ErrParseKeyexpr-wrapping errors on rejection.
func Canonize(s string) (KE, error) {
	if s == "" {
		return "", errRejected(s, "empty key expression")
	}
	if strings.HasPrefix(s, "/") {
		return "", errRejected(s, "leading '/'")
	}
	if strings.HasSuffix(s, "/") {
		return "", errRejected(s, "trailing '/'")
	}

	chunks := strings.Split(s, "/")
	out := make([]string, 0, len(chunks))

	for _, c := range chunks {
		if c == "" {
			return "", errRejected(s, "empty chunk ('//')")
		}
		collapsed := collapseStarDSL(c)
		if collapsed == starDSL {
			return "", errRejected(s, `chunk is exactly "$*" (write "*" instead)`)
		}
		out = append(out, collapsed)
	}

	return KE(strings.Join(out, "/")), nil
}

// collapseStarDSL repeatedly collapses "$*$*" runs to a single "$*" within
// one chunk, leaving "**" (the whole-chunk double wildcard) untouched since
// it never contains a literal '$'.
func collapseStarDSL(chunk string) string {
	for strings.Contains(chunk, starDSL+starDSL) {
		chunk = strings.ReplaceAll(chunk, starDSL+starDSL, starDSL)
	}
	return chunk
}

// IsCanonical reports whether s is already in canonical form.
func IsCanonical(s string) bool {
	k, err := Canonize(s)
	return err == nil && string(k) == s
}

// chunksOf splits a canonical (or at least non-empty, slash-delimited) key
// expression into its chunks.
func chunksOf(ke string) []string {
	if ke == "" {
		return nil
	}
	return strings.Split(ke, "/")
}

func errRejected(s, reason string) error {
	return &CanonError{Input: s, Reason: reason}
}

// CanonError describes why a key expression failed canonicalization.
type CanonError struct {
	Input  string
	Reason string
}

func (e *CanonError) Error() string {
	return "parse_keyexpr: " + e.Reason + ": " + e.Input
}

func (e *CanonError) Unwrap() error { return zerr.ErrParseKeyexpr }
