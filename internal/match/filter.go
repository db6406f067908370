// Package match decides which nearby users are relevant to each other
// (shared-interest filtering) and whether a fresh match is allowed to fire a
// notification (per-pair cooldown ledger).
package match

// SharedInterests returns the tags present in both sets, preserving the
// order of the first set. Comparison is exact string equality, case included,
// because the taxonomy service owns normalization.
func SharedInterests(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}

	other := make(map[string]bool, len(b))
	for _, tag := range b {
		other[tag] = true
	}

	var shared []string
	for _, tag := range a {
		if other[tag] {
			shared = append(shared, tag)
			delete(other, tag) // dedupe repeated tags in a
		}
	}
	return shared
}

// Matches reports whether two interest sets intersect. A user with an empty
// set never matches anyone.
func Matches(a, b []string) bool {
	return len(SharedInterests(a, b)) > 0
}
