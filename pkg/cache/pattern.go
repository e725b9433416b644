package cache

import "strings"

// compilePattern turns a glob pattern where '*' matches any run of
// characters into a predicate over cache keys, mirroring SQL LIKE '%'
// semantics. A pattern without '*' matches only the exact key.
func compilePattern(pattern string) func(string) bool {
	segments := strings.Split(pattern, "*")
	return func(key string) bool {
		return matchSegments(key, segments)
	}
}

func matchSegments(s string, segments []string) bool {
	if len(segments) == 1 {
		return s == segments[0]
	}

	if !strings.HasPrefix(s, segments[0]) {
		return false
	}
	s = s[len(segments[0]):]

	last := segments[len(segments)-1]
	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(s, seg)
		if idx < 0 {
			return false
		}
		s = s[idx+len(seg):]
	}

	return strings.HasSuffix(s, last)
}

// entryMatcher combines the glob pattern with an optional account filter.
// Cache keys are "<resourceType>:<accountID>[:<hash>]", so the account check
// reads the second segment.
func entryMatcher(pattern, accountID string) func(string) bool {
	match := compilePattern(pattern)
	return func(key string) bool {
		if !match(key) {
			return false
		}
		if accountID != "" {
			parts := strings.SplitN(key, ":", 3)
			if len(parts) < 2 || parts[1] != accountID {
				return false
			}
		}
		return true
	}
}
