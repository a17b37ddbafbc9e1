package template

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrMalformed indicates template text with a "${" that does not open a
// valid placeholder.
var ErrMalformed = errors.New("malformed placeholder")

// Template is a parsed prompt. Parsing checks placeholder syntax once so
// rendering only has to supply values.
type Template struct {
	name string
	text string
	vars []string
	exp  *Expander
}

// Parse validates text and records its placeholders. Options apply to every
// Execute.
func Parse(name, text string, opts ...Option) (*Template, error) {
	stripped := token.ReplaceAllString(text, "")
	if i := strings.Index(stripped, "${"); i >= 0 {
		end := min(i+20, len(stripped))
		return nil, fmt.Errorf("template %s: %w near %q", name, ErrMalformed, stripped[i:end])
	}

	var vars []string
	for _, m := range token.FindAllStringSubmatch(text, -1) {
		if m[1] != "" && !slices.Contains(vars, m[1]) {
			vars = append(vars, m[1])
		}
	}
	return &Template{name: name, text: text, vars: vars, exp: NewExpander(opts...)}, nil
}

// MustParse is like Parse but panics on error. Use for templates compiled
// into the binary.
func MustParse(name, text string, opts ...Option) *Template {
	t, err := Parse(name, text, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the template name.
func (t *Template) Name() string { return t.name }

// Text returns the unexpanded template text.
func (t *Template) Text() string { return t.text }

// Vars returns the placeholder names in order of first use.
func (t *Template) Vars() []string { return slices.Clone(t.vars) }

// Execute renders the template. Unless parsed with Lenient, every
// placeholder must have a value.
func (t *Template) Execute(vars map[string]any) (string, error) {
	out, err := t.exp.Expand(t.text, vars)
	if err != nil {
		return "", fmt.Errorf("template %s: %w", t.name, err)
	}
	return out, nil
}
