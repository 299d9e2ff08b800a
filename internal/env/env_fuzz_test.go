package env

import (
	"sort"
	"strings"
	"testing"
)

// FuzzLayerMerge checks that layered config entries and per-launch overrides
// compose into a sorted, duplicate-free KEY=VALUE list where the last writer
// wins.
func FuzzLayerMerge(f *testing.F) {
	f.Add("VITE_PORT=3000\nBROWSER=none", "VITE_PORT=5173")
	f.Add("A=1\nB=${A}-x", "C=${B}-y")
	f.Add("=novalue\nNODE_ENV=development", "NODE_ENV=test\nNODE_ENV=production")
	f.Add("X=${Y}", "Y=${X}")

	f.Fuzz(func(t *testing.T, layered, overrides string) {
		cfg := lines(layered, 16)
		per := lines(overrides, 16)

		out := Isolated().Layer(cfg).Merge(per)
		if !sort.StringsAreSorted(out) {
			t.Fatalf("output not sorted: %q", out)
		}

		want := map[string]string{}
		for _, kv := range append(append([]string{}, cfg...), per...) {
			if k, v, ok := split(kv); ok {
				want[k] = v
			}
		}
		seen := map[string]bool{}
		for _, kv := range out {
			k, v, ok := split(kv)
			if !ok {
				t.Fatalf("malformed pair %q", kv)
			}
			if seen[k] {
				t.Fatalf("duplicate key %q in %q", k, out)
			}
			seen[k] = true
			exp, known := want[k]
			if !known {
				t.Fatalf("unexpected key %q", k)
			}
			if !strings.Contains(exp, "${") && v != exp {
				t.Fatalf("%s=%q, last writer had %q", k, v, exp)
			}
		}
		if len(seen) != len(want) {
			t.Fatalf("got %d keys, want %d", len(seen), len(want))
		}
	})
}

// lines splits s on newlines, dropping blanks, and keeps at most max entries.
func lines(s string, max int) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
		if len(out) == max {
			break
		}
	}
	return out
}
