// internal/security/sanitizer.go
package security

import "strings"

const maxValueLen = 1024

// SanitizeValue cleans an event-supplied value before it is interpolated
// into a template: control characters other than tab and newline are
// dropped and the result is truncated to 1024 bytes.
func SanitizeValue(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 && r != '\t' && r != '\n' {
			continue
		}
		if r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	result := b.String()

	if len(result) > maxValueLen {
		result = result[:maxValueLen]
	}
	return result
}

// SanitizePathComponent makes an event-supplied value safe to use as one
// element of an output path: on top of SanitizeValue it replaces path
// separators, newlines and tabs with '_' and neutralizes "..".
func SanitizePathComponent(s string) string {
	s = SanitizeValue(s)
	s = strings.NewReplacer("/", "_", `\`, "_", "\n", "_", "\t", "_").Replace(s)
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", "_")
	}
	if s == "." {
		s = "_"
	}
	return s
}
