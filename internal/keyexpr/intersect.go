package keyexpr

// Intersects reports whether there exists at least one concrete key matched
// by both a and b (spec.md §4.1, §8 property 4). Both arguments are assumed
// canonical; callers should Canonize untrusted input first.
//
// Grounded on zenoh-pico's _zp_ke_intersect family (src/protocol/keyexpr/
// intersect.c): fast-path byte equality, then a chunk-by-chunk walk where
// "**" expands over a variable run of chunks (tried both ways, recursively)
// and a non-wild chunk containing "$*" is checked by intersectChunk.
func Intersects(a, b KE) bool {
	if a == b {
		return true
	}
	return intersectChunks(chunksOf(string(a)), chunksOf(string(b)))
}

func intersectChunks(l, r []string) bool {
	for {
		switch {
		case len(l) == 0 && len(r) == 0:
			return true
		case len(l) == 0:
			return allDoubleWild(r)
		case len(r) == 0:
			return allDoubleWild(l)
		}

		lw, rw := l[0] == doubleWild, r[0] == doubleWild

		switch {
		case lw && rw:
			// "**" on both sides: either side may consume zero or more
			// chunks of the other; try every split via recursion on the
			// shorter remaining tail, the standard "**" backtracking walk.
			return intersectChunks(l[1:], r) || intersectChunks(l, r[1:])
		case lw:
			// l's "**" may consume any prefix of r (including the rest of r).
			for i := 0; i <= len(r); i++ {
				if intersectChunks(l[1:], r[i:]) {
					return true
				}
			}
			return false
		case rw:
			for i := 0; i <= len(l); i++ {
				if intersectChunks(l[i:], r[1:]) {
					return true
				}
			}
			return false
		}

		if l[0] != singleWild && r[0] != singleWild {
			if !intersectChunk(l[0], r[0]) {
				return false
			}
		}
		// a lone "*" on either side matches any single chunk unconditionally.

		l, r = l[1:], r[1:]
	}
}

// allDoubleWild reports whether every remaining chunk is "**", which makes
// an otherwise-exhausted side still able to match zero further chunks.
func allDoubleWild(chunks []string) bool {
	for _, c := range chunks {
		if c != doubleWild {
			return false
		}
	}
	return true
}

// intersectChunk decides whether two non-wild (but possibly "$*"-bearing)
// chunks can match the same concrete text. Delegates to a byte-level
// backtracker when either side contains "$*".
func intersectChunk(l, r string) bool {
	if l == r {
		return true
	}
	if !containsStarDSL(l) && !containsStarDSL(r) {
		return false
	}
	return intersectStarDSL(l, r)
}

func containsStarDSL(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '$' && s[i+1] == '*' {
			return true
		}
	}
	return false
}

// intersectStarDSL is the byte-level backtracker for "$*" (matches any
// substring, possibly empty) within a single chunk. Mirrors
// _zp_ke_intersect_stardsl_chunk.
func intersectStarDSL(l, r string) bool {
	li, ri := 0, 0
	for li < len(l) && ri < len(r) {
		lc, rc := l[li], r[ri]
		switch {
		case lc == '$' && li+1 < len(l) && l[li+1] == '*':
			if li+2 == len(l) {
				return true // trailing "$*" matches the remainder of r unconditionally.
			}
			return intersectStarDSL(l[li+2:], r[ri:]) || intersectStarDSL(l[li:], r[ri+1:])
		case rc == '$' && ri+1 < len(r) && r[ri+1] == '*':
			if ri+2 == len(r) {
				return true
			}
			return intersectStarDSL(l[li:], r[ri+2:]) || intersectStarDSL(l[li+1:], r[ri:])
		case lc != rc:
			return false
		default:
			li++
			ri++
		}
	}
	return (li == len(l) && ri == len(r)) ||
		(len(l)-li == 2 && l[li] == '$' && l[li+1] == '*') ||
		(len(r)-ri == 2 && r[ri] == '$' && r[ri+1] == '*')
}
