package updates

import (
	"strconv"
	"strings"
)

// normalizeVersion removes a 'v' prefix and surrounding whitespace.
func normalizeVersion(version string) string {
	return strings.TrimPrefix(strings.TrimSpace(version), "v")
}

// parseVersion parses a dotted numeric version. Pre-release and build
// suffixes are dropped and non-numeric segments count as zero.
func parseVersion(version string) []int {
	version = normalizeVersion(version)
	if idx := strings.IndexAny(version, "-+ "); idx != -1 {
		version = version[:idx]
	}
	if version == "" {
		return nil
	}

	segments := strings.Split(version, ".")
	parts := make([]int, len(segments))
	for i, s := range segments {
		end := 0
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		parts[i], _ = strconv.Atoi(s[:end])
	}
	return parts
}

// CompareVersions returns -1, 0 or 1 as a is older than, equal to or newer
// than b. Missing segments count as zero, so "1.2" equals "1.2.0".
func CompareVersions(a, b string) int {
	pa, pb := parseVersion(a), parseVersion(b)
	n := max(len(pa), len(pb))
	for i := range n {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x > y:
			return 1
		case x < y:
			return -1
		}
	}
	return 0
}

// isNewerVersion reports whether latest is newer than current. An empty
// current version always gets the latest release.
func isNewerVersion(latest, current string) bool {
	if normalizeVersion(latest) == "" {
		return false
	}
	if normalizeVersion(current) == "" {
		return true
	}
	return CompareVersions(latest, current) > 0
}

// meetsMinimum reports whether have satisfies the minimum want. Unknown
// caller versions and releases without a minimum always pass.
func meetsMinimum(have, want string) bool {
	if normalizeVersion(want) == "" || normalizeVersion(have) == "" {
		return true
	}
	return CompareVersions(have, want) >= 0
}

// IsVersion reports whether version starts with a dotted numeric core such
// as "1", "1.2" or "v1.2.3-beta".
func IsVersion(version string) bool {
	version = normalizeVersion(version)
	if idx := strings.IndexAny(version, "-+"); idx != -1 {
		version = version[:idx]
	}
	if version == "" {
		return false
	}
	for _, s := range strings.Split(version, ".") {
		if s == "" {
			return false
		}
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}
