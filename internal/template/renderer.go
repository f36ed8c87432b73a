package template

import (
	"regexp"
	"strings"

	"github.com/foxzi/outreach/internal/models"
)

// placeholder pattern for field substitution: {{field_name}}
var placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// RenderResult contains personalized subject and body
type RenderResult struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Renderer substitutes {{field}} placeholders with per-lead values.
// It holds no state and is safe for concurrent use.
type Renderer struct{}

// NewRenderer creates a new renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render personalizes subject and body of tmpl with fields
func (r *Renderer) Render(tmpl *models.EmailTemplate, fields map[string]string) RenderResult {
	return RenderResult{
		Subject: Substitute(tmpl.Subject, fields),
		Body:    Substitute(tmpl.Body, fields),
	}
}

// Substitute replaces every {{name}} whose name is present in fields.
// Unknown placeholders and unmatched braces are kept verbatim; substituted
// values are never scanned again.
func Substitute(text string, fields map[string]string) string {
	if text == "" || !strings.Contains(text, "{{") {
		return text
	}

	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := fields[name]; ok {
			return value
		}
		return match
	})
}

// Placeholders returns the distinct placeholder names in text, in order of
// first appearance
func Placeholders(text string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Unresolved returns the placeholders of tmpl that fields does not cover
func Unresolved(tmpl *models.EmailTemplate, fields map[string]string) []string {
	var missing []string
	seen := make(map[string]bool)
	for _, text := range []string{tmpl.Subject, tmpl.Body} {
		for _, name := range Placeholders(text) {
			if _, ok := fields[name]; ok || seen[name] {
				continue
			}
			seen[name] = true
			missing = append(missing, name)
		}
	}
	return missing
}
