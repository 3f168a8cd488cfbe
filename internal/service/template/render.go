package template

import (
	"regexp"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render substitutes every {{placeholder}} token in content with the string
// value of the matching key in fields. Key matching is case-sensitive and
// exact; a placeholder with no matching field resolves to the empty string.
// Rendering is pure and never fails.
func Render(content string, fields map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(content, func(token string) string {
		key := placeholderPattern.FindStringSubmatch(token)[1]
		return fields[key]
	})
}

// Placeholders returns the distinct placeholder names in content, in order
// of first appearance.
func Placeholders(content string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}
