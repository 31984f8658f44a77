package license

import "strings"

var schemePrefixes = []string{"https://", "http://"}

// NormalizeDomain canonicalizes a caller-supplied host into an activation key.
//
// It lowercases, strips a leading scheme, a leading "www." label and trailing
// slashes. Ports and paths are kept, so "example.com" and "example.com/blog"
// are distinct activation targets. Empty input yields "", which never matches a
// stored activation. NormalizeDomain(NormalizeDomain(x)) == NormalizeDomain(x).
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))

	for {
		before := d
		for _, scheme := range schemePrefixes {
			d = strings.TrimPrefix(d, scheme)
		}
		d = strings.TrimPrefix(d, "www.")
		d = strings.TrimRight(d, "/")
		if d == before {
			return d
		}
	}
}
