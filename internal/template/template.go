// internal/template/template.go
package template

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var templateVar = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Expand replaces {{variable}} placeholders with values from data
func Expand(tmpl string, data map[string]any) string {
	return templateVar.ReplaceAllStringFunc(tmpl, func(match string) string {
		varName := match[2 : len(match)-2]

		if val, ok := data[varName]; ok {
			return fmt.Sprintf("%v", val)
		}
		return match // Keep original if not found
	})
}

// Unresolved returns the names of placeholders Expand would leave in tmpl.
func Unresolved(tmpl string, data map[string]any) []string {
	var missing []string
	for _, m := range templateVar.FindAllStringSubmatch(tmpl, -1) {
		if _, ok := data[m[1]]; !ok {
			missing = append(missing, m[1])
		}
	}
	return missing
}

// PathVars splits path into the variables an output template can use:
// path (as given), dir, name (base name with extension), base (without
// extension) and ext (with the leading dot).
func PathVars(path string) map[string]any {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	return map[string]any{
		"path": path,
		"dir":  filepath.Dir(path),
		"name": name,
		"base": strings.TrimSuffix(name, ext),
		"ext":  ext,
	}
}
