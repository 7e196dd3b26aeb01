package generator

import (
	"bytes"
	"embed"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"unicode"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Renderer turns a named template plus data into text. Implementations
// return an error wrapping ErrTemplateNotFound for unknown names.
type Renderer interface {
	Render(name string, data any) (string, error)
}

// TemplateSet is the default Renderer over the embedded platform templates.
type TemplateSet struct {
	root *template.Template
}

// FuncMap is the helper set every template can use.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"ipToInt":    IPToInt,
		"cidrMask":   CIDRMask,
		"upper":      strings.ToUpper,
		"lower":      strings.ToLower,
		"join":       strings.Join,
		"quote":      strconv.Quote,
		"shquote":    shellQuote,
		"psquote":    powershellQuote,
		"rosquote":   routerOSQuote,
		"xml":        xmlEscape,
		"comment":    commentText,
		"xmlcomment": xmlComment,
	}
}

// NewTemplateSet parses the embedded templates.
func NewTemplateSet() (*TemplateSet, error) {
	root, err := template.New("").Funcs(FuncMap()).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &TemplateSet{root: root}, nil
}

// ParseTemplates builds a TemplateSet from in-memory sources keyed by name.
// It backs custom template directories and tests.
func ParseTemplates(sources map[string]string) (*TemplateSet, error) {
	root := template.New("").Funcs(FuncMap())
	for name, src := range sources {
		if _, err := root.New(name).Parse(src); err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
	}
	return &TemplateSet{root: root}, nil
}

// Render executes the named template. Output is buffered so a failed
// execution never leaks partial text.
func (s *TemplateSet) Render(name string, data any) (string, error) {
	t := s.root.Lookup(name)
	if t == nil {
		return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Has reports whether a template is registered under name.
func (s *TemplateSet) Has(name string) bool {
	return s.root.Lookup(name) != nil
}

func xmlEscape(s string) (string, error) {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// commentText flattens s onto one line so it cannot end the comment it is
// written into.
func commentText(s string) string {
	return strings.Join(strings.FieldsFunc(s, isLineBreaking), " ")
}

func isLineBreaking(r rune) bool {
	return unicode.IsControl(r) || r == '\u2028' || r == '\u2029'
}

// xmlComment is commentText for an XML comment body, where "--" is not
// allowed.
func xmlComment(s string) (string, error) {
	s = commentText(s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "- -")
	}
	return xmlEscape(s)
}

// shellQuote single-quotes s for POSIX shells and UCI values.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// powershellQuote single-quotes s for PowerShell, doubling embedded quotes.
func powershellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// routerOSQuote double-quotes s for a RouterOS script.
func routerOSQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return `"` + r.Replace(s) + `"`
}
