package keyexpr_test

import (
	"testing"

	"github.com/zenoh-pico-go/zenohpico/internal/keyexpr"
)

// TestCanonizeRejects verifies the canonical-key rejection boundary cases of
// spec.md §8.
func TestCanonizeRejects(t *testing.T) {
	t.Parallel()

	cases := []string{"", "/", "/a", "a/", "a//b", "$*", "a/$*$*/b"}

	for _, in := range cases {
		in := in
		t.Run(in, func(t *testing.T) {
			t.Parallel()

			if _, err := keyexpr.Canonize(in); err == nil {
				t.Errorf("Canonize(%q): expected parse_keyexpr error, got none", in)
			}
		})
	}
}

// TestCanonizeCollapsesStarDSL verifies that "$*$*" collapses to "$*"
// (spec.md §4.1).
func TestCanonizeCollapsesStarDSL(t *testing.T) {
	t.Parallel()

	got, err := keyexpr.Canonize("a/$*$*b/c")
	if err != nil {
		t.Fatalf("Canonize: unexpected error: %v", err)
	}
	if want := keyexpr.KE("a/$*b/c"); got != want {
		t.Errorf("Canonize collapsed wrong: got %q, want %q", got, want)
	}
}

// TestCanonizeAccepts verifies a handful of valid key expressions pass
// through unchanged.
func TestCanonizeAccepts(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"a", "a/b", "a/*/b", "a/**", "**", "a/$*b", "demo/example/x"} {
		in := in
		t.Run(in, func(t *testing.T) {
			t.Parallel()

			got, err := keyexpr.Canonize(in)
			if err != nil {
				t.Fatalf("Canonize(%q): unexpected error: %v", in, err)
			}
			if string(got) != in {
				t.Errorf("Canonize(%q) = %q, want unchanged", in, got)
			}
		})
	}
}

// TestIntersectsBoundaryCases verifies the intersection boundary cases of
// spec.md §8.
func TestIntersectsBoundaryCases(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want bool
	}{
		{"**", "a/b", true},
		{"a/*", "a/b/c", false},
		{"a/**/b", "a/b", true},
		{"a/b$*", "a/bc", true},
		{"a/$*b", "a/cbc", false},
	}

	for _, c := range cases {
		c := c
		t.Run(c.a+"×"+c.b, func(t *testing.T) {
			t.Parallel()

			if got := keyexpr.Intersects(keyexpr.KE(c.a), keyexpr.KE(c.b)); got != c.want {
				t.Errorf("Intersects(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
			}
			// Intersects is symmetric (spec.md §8 property 4).
			if got := keyexpr.Intersects(keyexpr.KE(c.b), keyexpr.KE(c.a)); got != c.want {
				t.Errorf("Intersects(%q, %q) = %v, want %v", c.b, c.a, got, c.want)
			}
		})
	}
}

// TestIncludesImpliesIntersects verifies spec.md §8 property 4:
// includes(A,B) ⇒ intersects(A,B).
func TestIncludesImpliesIntersects(t *testing.T) {
	t.Parallel()

	cases := []struct{ a, b string }{
		{"a/**", "a/b/c"},
		{"a/*", "a/b"},
		{"**", "x/y/z"},
		{"a/b", "a/b"},
	}

	for _, c := range cases {
		if !keyexpr.Includes(keyexpr.KE(c.a), keyexpr.KE(c.b)) {
			t.Fatalf("Includes(%q, %q) = false, want true (test setup)", c.a, c.b)
		}
		if !keyexpr.Intersects(keyexpr.KE(c.a), keyexpr.KE(c.b)) {
			t.Errorf("Includes(%q, %q) held but Intersects did not", c.a, c.b)
		}
	}
}

// TestIncludesTransitive verifies spec.md §8 property 4:
// includes(A,B) ∧ includes(B,C) ⇒ includes(A,C).
func TestIncludesTransitive(t *testing.T) {
	t.Parallel()

	a, b, c := keyexpr.KE("**"), keyexpr.KE("a/**"), keyexpr.KE("a/b/c")

	if !keyexpr.Includes(a, b) || !keyexpr.Includes(b, c) {
		t.Fatal("test setup: expected includes(a,b) and includes(b,c)")
	}
	if !keyexpr.Includes(a, c) {
		t.Error("Includes(a,b) ∧ Includes(b,c) held but Includes(a,c) did not")
	}
}

// TestIncludesRejectsNarrowerWildcard verifies that a concrete key does not
// include a pattern containing "*".
func TestIncludesRejectsNarrowerWildcard(t *testing.T) {
	t.Parallel()

	if keyexpr.Includes(keyexpr.KE("a/b"), keyexpr.KE("a/*")) {
		t.Error("Includes(a/b, a/*) = true, want false")
	}
}

// TestIncludesMultiStarDSL verifies the two-level backtracker for chunks
// with more than one "$*" wildcard (spec.md §4.1).
func TestIncludesMultiStarDSL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want bool
	}{
		{"$*x$*", "yxz", true},
		{"$*x$*", "yzy", false},
		{"a$*b$*c", "axxbyyc", true},
		{"a$*b$*c", "axxbyyd", false},
	}

	for _, c := range cases {
		c := c
		t.Run(c.a+"⊇"+c.b, func(t *testing.T) {
			t.Parallel()

			if got := keyexpr.Includes(keyexpr.KE(c.a), keyexpr.KE(c.b)); got != c.want {
				t.Errorf("Includes(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}
