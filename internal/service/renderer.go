package service

import (
	"embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/mirsubmit/backend/internal/model"
)

//go:embed templates/*.txt
var builtinTemplates embed.FS

// BuiltinTemplatePrefix selects an embedded template, e.g. "builtin:submit_request".
const BuiltinTemplatePrefix = "builtin:"

// BodyRenderer produces a message body from submitted fields.
type BodyRenderer interface {
	Render(fields *model.FormFields) string
}

var placeholderPattern = regexp.MustCompile(`\{\{(.+?)\}\}`)

// TemplateRenderer replaces {{name}} placeholders with field values. Unknown
// names render as empty strings. Substituted values are never re-scanned.
type TemplateRenderer struct {
	template string
}

var _ BodyRenderer = (*TemplateRenderer)(nil)

func NewTemplateRenderer(template string) *TemplateRenderer {
	return &TemplateRenderer{template: template}
}

func (r *TemplateRenderer) Render(fields *model.FormFields) string {
	var sb strings.Builder
	sb.Grow(len(r.template))
	last := 0
	for _, m := range placeholderPattern.FindAllStringSubmatchIndex(r.template, -1) {
		sb.WriteString(r.template[last:m[0]])
		sb.WriteString(fields.Value(r.template[m[2]:m[3]]))
		last = m[1]
	}
	sb.WriteString(r.template[last:])
	return sb.String()
}

// LoadTemplate reads a template from a file path, or from the embedded set when
// source starts with BuiltinTemplatePrefix.
func LoadTemplate(source string) (string, error) {
	if name, ok := strings.CutPrefix(source, BuiltinTemplatePrefix); ok {
		b, err := builtinTemplates.ReadFile("templates/" + name + ".txt")
		if err != nil {
			return "", fmt.Errorf("builtin template %q not found", name)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return string(b), nil
}
