package reconciler

import "github.com/tamsinhale/drivesync/internal/remote"

// ShouldIgnore reports whether info is an "ignorable" entity per the
// download policy: the root itself, or a non-folder with no reported size
// (native editor documents that have no downloadable content).
func ShouldIgnore(info remote.FileInfo, rootID string) bool {
	return info.ID == rootID || (!info.IsFolder() && !info.HasSize)
}

// NoChange implements the testable-property comparison exactly as specified:
// a.name == b.name, a.parents == b.parents (as sets), and a.modifiedTime is
// not after b.modifiedTime. This is intentionally one-sided — it does not,
// by itself, correctly reject a timestamp regression (b older than a also
// satisfies "not after" in the false branch) — the asymmetry is preserved
// rather than corrected; apply-remote-change's own no-op check compares all
// three fields for exact equality and does not depend on this helper.
func NoChange(a, b remote.FileInfo) bool {
	return a.Name == b.Name && sameParentSet(a.Parents, b.Parents) && !a.ModifiedTime.After(b.ModifiedTime)
}

func sameParentSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	seen := make(map[string]int, len(a))
	for _, p := range a {
		seen[p]++
	}

	for _, p := range b {
		seen[p]--
		if seen[p] < 0 {
			return false
		}
	}

	return true
}

// setDiff returns the elements of a not present in b, preserving a's order.
func setDiff(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, p := range b {
		in[p] = struct{}{}
	}

	var out []string

	for _, p := range a {
		if _, ok := in[p]; !ok {
			out = append(out, p)
		}
	}

	return out
}
