package pathutil

import "strings"

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// IsRelativeOutput reports whether p is safe to join under an output root:
// relative, forward slashes only, no dot segments and no empty segments.
// The empty string is the root itself and is allowed.
func IsRelativeOutput(p string) bool {
	if p == "" {
		return true
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, `\`) || HasDotSegments(p) {
		return false
	}
	return !strings.Contains(strings.TrimSuffix(p, "/"), "//")
}

// JoinKey joins object-store key parts with "/", skipping empty parts and
// trimming stray slashes at the joins.
func JoinKey(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}
