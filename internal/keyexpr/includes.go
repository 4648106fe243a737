package keyexpr

// Includes reports whether every concrete key matched by b is also matched
// by a (spec.md §4.1, §8 property 4: includes is transitive and implies
// intersects). Both arguments are assumed canonical.
func Includes(a, b KE) bool {
	if a == b {
		return true
	}
	return includesChunks(chunksOf(string(a)), chunksOf(string(b)))
}

func includesChunks(a, b []string) bool {
	for {
		switch {
		case len(a) == 0 && len(b) == 0:
			return true
		case len(a) == 0:
			return false
		case len(b) == 0:
			return allDoubleWild(a)
		}

		if a[0] == doubleWild {
			// a's "**" must cover any prefix of b (including none/all of it);
			// try every split.
			for i := 0; i <= len(b); i++ {
				if includesChunks(a[1:], b[i:]) {
					return true
				}
			}
			return false
		}

		if b[0] == doubleWild {
			// b's "**" can expand to any number of chunks; a chunk of a that
			// is not itself "**" (handled above) cannot follow every such
			// expansion, so inclusion fails.
			return false
		}

		if a[0] != singleWild {
			if b[0] == singleWild {
				return false // a concrete/DSL chunk cannot include a bare '*'.
			}
			if !includesChunk(a[0], b[0]) {
				return false
			}
		}
		// a[0] == "*" includes any single concrete-or-DSL chunk in b.

		a, b = a[1:], b[1:]
	}
}

// includesChunk decides whether every string matched by chunk pattern b is
// also matched by chunk pattern a, where either may contain any number of
// "$*" wildcards (spec.md §4.1). This mirrors intersect.go's intersectChunk:
// a byte-level backtracker, here walking both patterns together instead of
// hunting for overlap.
func includesChunk(a, b string) bool {
	if a == b {
		return true
	}
	return includesStarDSL(a, b)
}

// includesStarDSL backtracks over a and b in lockstep. Mirrors
// intersectStarDSL's recursive structure, but since inclusion is directional
// a "$*" in a may swallow any prefix of b (including one that itself starts
// with a "$*" in b), while a "$*" in b that a cannot also absorb at the same
// position breaks inclusion: b's wildcard can expand to a string a has no
// matching freedom for.
func includesStarDSL(a, b string) bool {
	ai, bi := 0, 0
	for ai < len(a) && bi < len(b) {
		if isStarDSLAt(a, ai) {
			if ai+2 == len(a) {
				return true // trailing "$*" in a matches the remainder of b unconditionally.
			}
			restA := a[ai+2:]
			for i := bi; i <= len(b); {
				if includesStarDSL(restA, b[i:]) {
					return true
				}
				if isStarDSLAt(b, i) {
					i += 2
				} else {
					i++
				}
			}
			return false
		}
		if isStarDSLAt(b, bi) {
			// b's "$*" here can expand to text a (fixed at this point) cannot
			// follow for every expansion, so inclusion fails.
			return false
		}
		if a[ai] != b[bi] {
			return false
		}
		ai++
		bi++
	}

	switch {
	case ai == len(a) && bi == len(b):
		return true
	case ai == len(a):
		return false
	default:
		// b exhausted; only a trailing "$*" left in a can match the empty
		// remainder.
		return len(a)-ai == 2 && isStarDSLAt(a, ai)
	}
}

func isStarDSLAt(s string, i int) bool {
	return i+1 < len(s) && s[i] == '$' && s[i+1] == '*'
}
