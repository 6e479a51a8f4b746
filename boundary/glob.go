package boundary

import (
	"path/filepath"
	"strings"
)

// Match matches a slash-separated path against a glob pattern.
// Patterns without "**" match the whole path first, then the base name,
// so "*.pem" catches keys anywhere in the tree. "**" spans directories.
func Match(pattern, path string) bool {
	if strings.Contains(pattern, "**") {
		return matchDoublestar(pattern, path)
	}

	if ok, err := filepath.Match(pattern, path); err == nil && ok {
		return true
	}
	ok, err := filepath.Match(pattern, filepath.Base(path))
	return err == nil && ok
}

// matchDoublestar handles patterns containing "**" by splitting on the
// first occurrence and matching prefix and suffix independently.
func matchDoublestar(pattern, path string) bool {
	parts := strings.SplitN(pattern, "**", 2)
	prefix := strings.TrimSuffix(parts[0], "/")
	suffix := strings.TrimPrefix(parts[1], "/")

	if prefix != "" {
		if !strings.HasPrefix(path, prefix+"/") && path != prefix {
			return false
		}
		path = strings.TrimPrefix(strings.TrimPrefix(path, prefix), "/")
	}

	if suffix == "" {
		return true
	}
	if strings.Contains(suffix, "**") {
		return matchRemainder(suffix, path)
	}
	return matchSuffix(suffix, path)
}

// matchRemainder applies a pattern that still holds "**" to every
// trailing sub-path.
func matchRemainder(pattern, path string) bool {
	segments := strings.Split(path, "/")
	for i := range segments {
		if matchDoublestar(pattern, strings.Join(segments[i:], "/")) {
			return true
		}
	}
	return false
}

// matchSuffix tries the pattern against each trailing sub-path, so
// "src/**/api.py" matches however deep api.py sits.
func matchSuffix(pattern, path string) bool {
	segments := strings.Split(path, "/")
	for i := range segments {
		candidate := strings.Join(segments[i:], "/")
		if ok, err := filepath.Match(pattern, candidate); err == nil && ok {
			return true
		}
	}
	return false
}
