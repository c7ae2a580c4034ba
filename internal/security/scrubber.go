// internal/security/scrubber.go
package security

import (
	"regexp"

	"github.com/colebrumley/cardmask/internal/mask"
)

var (
	// key=value credentials in URLs, env dumps and command lines
	credentialPattern = regexp.MustCompile(`(?i)\b(token|api[_-]?key|secret|password|passwd)=[^\s&]+`)
	// Bearer token pattern
	bearerPattern = regexp.MustCompile(`Bearer\s+\S{20,}`)
	// Long hex strings (32+ chars), likely API keys
	hexKeyPattern = regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`)
)

// ScrubOutput redacts sensitive data from output before storage. Card
// numbers are masked in place so the surrounding text keeps its shape.
func ScrubOutput(output string) string {
	result := mask.String(output)
	result = credentialPattern.ReplaceAllString(result, "$1=[REDACTED]")
	result = bearerPattern.ReplaceAllString(result, "Bearer [REDACTED]")
	result = hexKeyPattern.ReplaceAllString(result, "[REDACTED]")
	return result
}
