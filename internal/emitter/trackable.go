package emitter

import (
	"net/url"
	"strings"

	"linkhub/internal/businesses"
)

// ExcludedPrefixes are never tracked, even when they would otherwise match.
var ExcludedPrefixes = []string{"/dashboard", "/admin", "/auth", "/api"}

// IsTrackable reports whether a page path is instrumented: exclusions are
// checked first, then the path must be the root or a business page. A path is
// excluded when it equals an excluded prefix or continues it with a "/".
// tracker.js applies the same rule to the same prefixes.
func IsTrackable(path string) bool {
	path = normalizePath(path)
	for _, prefix := range ExcludedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return false
		}
	}
	return path == "/" || IsBusinessPage(path)
}

// IsBusinessPage requires a non-empty slug after the business prefix.
func IsBusinessPage(path string) bool {
	path = normalizePath(path)
	return strings.HasPrefix(path, businesses.PathPrefix) && len(path) > len(businesses.PathPrefix)
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return path
}

// pathOf returns the path of an absolute or relative page URL.
func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
