// Package normalize canonicalizes user-supplied values before they are
// stored or compared.
package normalize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// Email trims and lowercases an email address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Name trims a display name and strips any markup from it. Case is kept.
func Name(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
}

// URL trims a tenant URL slug. Slugs are case-sensitive, so case is kept.
func URL(s string) string {
	return strings.TrimSpace(s)
}

// Role trims a role identifier. Roles are opaque, so case is kept and
// "Admin" and "admin" are distinct.
func Role(s string) string {
	return strings.TrimSpace(s)
}

// Roles normalizes each role, dropping blanks and duplicates while keeping
// first-seen order. The result is never nil.
func Roles(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		r = Role(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
