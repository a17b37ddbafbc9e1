package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// token matches an escaped "$${" or a ${name} placeholder.
var token = regexp.MustCompile(`\$\$\{|\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Truncated marks a value cut by WithValueLimit.
const Truncated = "...(truncated)"

// Expander fills ${var} placeholders.
//
// Only the brace form is recognised: prompt text is full of "$match"-style
// aggregation operators that must pass through untouched. "$${" produces a
// literal "${".
//
// By default a placeholder without a value is an error. Expander is safe
// for concurrent use.
type Expander struct {
	cfg config
}

// NewExpander creates an Expander.
func NewExpander(opts ...Option) *Expander {
	return &Expander{cfg: newConfig(opts)}
}

// Expand replaces placeholders in s with values from vars.
//
// Strings are inserted verbatim; maps, slices, and structs are inserted as
// indented JSON so schema descriptions and data samples read naturally in a
// prompt.
func (e *Expander) Expand(s string, vars map[string]any) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	result := token.ReplaceAllStringFunc(s, func(match string) string {
		if match == "$${" {
			return "${"
		}
		name := match[2 : len(match)-1]
		if val, ok := vars[name]; ok {
			return Truncate(format(val), e.cfg.maxValue)
		}
		if !e.cfg.lenient && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		return match
	})

	if len(missing) > 0 {
		return result, &UndefinedVariableError{Names: missing}
	}
	return result, nil
}

// Truncate cuts s to at most n bytes on a rune boundary and appends
// Truncated. Non-positive n leaves s unchanged.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + Truncated
}

// format renders a value for insertion into text.
func format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(val)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// UndefinedVariableError reports placeholders that had no value.
type UndefinedVariableError struct {
	// Names lists the undefined variables in order of first use.
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

var lenient = NewExpander(Lenient())

// Expand fills placeholders in s, leaving those without a value as-is.
func Expand(s string, vars map[string]any) string {
	result, _ := lenient.Expand(s, vars)
	return result
}
