package sanitize

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	fgerrors "github.com/randalmurphal/insightgraph/pkg/flowgraph/errors"
)

// Shape is the top-level form a sanitized plan must have.
type Shape int

const (
	// ShapeStages is a bare stage list run against a fixed collection.
	ShapeStages Shape = iota
	// ShapeCollection is {"base_collection": name, "pipeline": [stages]}.
	ShapeCollection
)

// Plan is a validated execution plan.
type Plan struct {
	Collection string
	Stages     []bson.D
}

var (
	// ErrUnbalanced reports mismatched brackets or quotes.
	ErrUnbalanced = errors.New("unbalanced delimiters")
	// ErrInvalidDate reports a date literal that is not ISO-8601.
	ErrInvalidDate = errors.New("invalid date literal")
	// ErrNotStructured reports text that neither parse strategy accepts.
	ErrNotStructured = errors.New("not structured data")
	// ErrShape reports a parsed value without the required top-level shape.
	ErrShape = errors.New("unexpected plan shape")
	// ErrForbiddenOperator reports a write stage or server-side code.
	ErrForbiddenOperator = errors.New("forbidden operator")
)

// Stages that write data and operators that run server-side JavaScript.
var (
	forbiddenStages    = []string{"$out", "$merge"}
	forbiddenOperators = []string{"$where", "$function", "$accumulator"}
)

// Sanitizer turns raw model output into a Plan.
//
// Sanitizer is safe for concurrent use.
type Sanitizer struct {
	shape       Shape
	collection  string
	collections []string
	logger      *slog.Logger
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithShape sets the required top-level shape. Default ShapeStages.
func WithShape(shape Shape) Option {
	return func(s *Sanitizer) { s.shape = shape }
}

// WithCollection sets the collection of ShapeStages plans.
func WithCollection(name string) Option {
	return func(s *Sanitizer) { s.collection = name }
}

// WithAllowedCollections restricts base_collection in ShapeCollection plans.
func WithAllowedCollections(names ...string) Option {
	return func(s *Sanitizer) { s.collections = slices.Clone(names) }
}

// WithLogger sets the logger for parse fallbacks.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sanitizer) { s.logger = l }
}

// New creates a Sanitizer.
func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{shape: ShapeStages}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Sanitize runs the full pipeline on raw model output:
//
//  1. strip code fences
//  2. rewrite ISODate(...) literals to a normalized UTC form
//  3. normalize None/True/False spellings to null/true/false
//  4. parse with the literal grammar, falling back to strict extended JSON
//  5. check the top-level shape and reject forbidden operators
//
// Every failure is a *errors.SanitizationError.
func (s *Sanitizer) Sanitize(raw string) (*Plan, error) {
	text := StripFences(raw)
	if text == "" {
		return nil, failure("empty output", raw, ErrNotStructured)
	}
	if err := checkBalanced(text); err != nil {
		return nil, failure("unbalanced delimiters", raw, err)
	}

	text, err := NormalizeDates(text)
	if err != nil {
		return nil, failure("invalid date literal", raw, err)
	}
	text = NormalizeLiterals(text)

	value, err := ParseLiteral(text)
	if err != nil {
		s.logger.Debug("literal parse failed, trying strict JSON", slog.String("error", err.Error()))
		var jsonErr error
		value, jsonErr = parseStrict(text)
		if jsonErr != nil {
			return nil, failure("not structured data", raw, fmt.Errorf("%w: %w", ErrNotStructured, errors.Join(err, jsonErr)))
		}
	}

	value, err = resolveDateStrings(value)
	if err != nil {
		return nil, failure("invalid date literal", raw, err)
	}

	plan, err := s.shapePlan(value)
	if err != nil {
		return nil, failure("invalid plan", raw, err)
	}
	for i, stage := range plan.Stages {
		if err := checkStage(stage); err != nil {
			return nil, failure(fmt.Sprintf("stage %d", i), raw, err)
		}
	}
	return plan, nil
}

// Sanitize runs a default ShapeStages sanitizer.
func Sanitize(raw string) (*Plan, error) {
	return New().Sanitize(raw)
}

func failure(reason, raw string, err error) error {
	const maxInput = 200
	if len(raw) > maxInput {
		raw = strings.ToValidUTF8(raw[:maxInput], "") + "..."
	}
	return &fgerrors.SanitizationError{Reason: reason, Input: raw, Err: err}
}

// StripFences removes markdown code fences anywhere in the text.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if tag, ok := strings.CutPrefix(trimmed, "```"); ok && !strings.ContainsAny(tag, "{[") {
			continue
		}
		kept = append(kept, line)
	}
	s = strings.Join(kept, "\n")
	return strings.TrimSpace(strings.ReplaceAll(s, "```", ""))
}

// checkBalanced verifies brackets outside string literals nest correctly.
func checkBalanced(s string) error {
	var stack []byte
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{', '[', '(':
			stack = append(stack, c)
		case '}', ']', ')':
			open := map[byte]byte{'}': '{', ']': '[', ')': '('}[c]
			if len(stack) == 0 || stack[len(stack)-1] != open {
				return fmt.Errorf("%w: unexpected %q at offset %d", ErrUnbalanced, c, i)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if quote != 0 {
		return fmt.Errorf("%w: unterminated string", ErrUnbalanced)
	}
	if len(stack) > 0 {
		return fmt.Errorf("%w: %d unclosed", ErrUnbalanced, len(stack))
	}
	return nil
}

var isoDatePattern = regexp.MustCompile(`ISODate\(\s*["']([^"']*)["']\s*\)`)

// NormalizeDates rewrites every ISODate("...") outside string literals to
// ISODate("<RFC 3339 UTC>"). It runs before parsing because the constructor
// is not JSON. Constructor text quoted inside a string is resolved after
// parsing instead.
func NormalizeDates(s string) (string, error) {
	var (
		b     strings.Builder
		errs  []error
		quote byte
	)
	b.Grow(len(s))
	for i := 0; i < len(s); {
		c := s[i]
		if quote == 0 && c == 'I' && strings.HasPrefix(s[i:], DateConstructor) {
			if loc := isoDatePattern.FindStringSubmatchIndex(s[i:]); loc != nil && loc[0] == 0 {
				arg := s[i+loc[2] : i+loc[3]]
				if t, err := ParseDate(arg); err != nil {
					errs = append(errs, err)
					b.WriteString(s[i : i+loc[1]])
				} else {
					b.WriteString(formatDate(t))
				}
				i += loc[1]
				continue
			}
		}
		switch {
		case quote != 0 && c == '\\' && i+1 < len(s):
			b.WriteString(s[i : i+2])
			i += 2
			continue
		case quote != 0 && c == quote:
			quote = 0
		case quote == 0 && (c == '"' || c == '\''):
			quote = c
		}
		b.WriteByte(c)
		i++
	}
	if len(errs) > 0 {
		return "", fmt.Errorf("%w: %w", ErrInvalidDate, errors.Join(errs...))
	}
	return b.String(), nil
}

func formatDate(t time.Time) string {
	return DateConstructor + `("` + t.UTC().Format(time.RFC3339Nano) + `")`
}

// literalSpellings maps non-JSON literal spellings to their JSON form.
var literalSpellings = map[string]string{
	"None":  "null",
	"NULL":  "null",
	"True":  "true",
	"TRUE":  "true",
	"False": "false",
	"FALSE": "false",
}

// NormalizeLiterals rewrites None/True/False (and upper-case variants)
// outside string literals.
func NormalizeLiterals(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	for i := 0; i < len(s); {
		c := s[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				b.WriteByte(s[i+1])
				i += 2
				continue
			}
			if c == quote {
				quote = 0
			}
			i++
			continue
		}
		if c == '"' || c == '\'' {
			quote = c
			b.WriteByte(c)
			i++
			continue
		}
		if isIdentStart(rune(c)) {
			j := i
			for j < len(s) && isIdentPart(rune(s[j])) {
				j++
			}
			word := s[i:j]
			if repl, ok := literalSpellings[word]; ok {
				word = repl
			}
			b.WriteString(word)
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

// parseStrict accepts MongoDB relaxed extended JSON, e.g. {"$date": ...}.
func parseStrict(text string) (any, error) {
	var wrapper bson.D
	if err := bson.UnmarshalExtJSON([]byte(`{"v":`+text+`}`), false, &wrapper); err != nil {
		return nil, err
	}
	if len(wrapper) != 1 {
		return nil, errors.New("unexpected wrapper")
	}
	return normalizeStrict(wrapper[0].Value), nil
}

// normalizeStrict converts driver-decoded values to the literal grammar's
// types.
func normalizeStrict(v any) any {
	switch val := v.(type) {
	case bson.D:
		out := make(bson.D, len(val))
		for i, e := range val {
			out[i] = bson.E{Key: e.Key, Value: normalizeStrict(e.Value)}
		}
		return out
	case bson.A:
		out := make(bson.A, len(val))
		for i, item := range val {
			out[i] = normalizeStrict(item)
		}
		return out
	case interface{ Time() time.Time }:
		return val.Time().UTC()
	default:
		return v
	}
}

// resolveDateStrings turns string values that are themselves an ISODate
// call, and {"$date": "..."} wrappers, into timestamps so no constructor
// text survives in the plan.
func resolveDateStrings(v any) (any, error) {
	switch val := v.(type) {
	case string:
		m := isoDatePattern.FindStringSubmatch(strings.TrimSpace(val))
		if m == nil || strings.TrimSpace(val) != m[0] {
			return val, nil
		}
		t, err := ParseDate(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDate, err)
		}
		return t, nil
	case bson.D:
		if len(val) == 1 && val[0].Key == "$date" {
			if iso, ok := val[0].Value.(string); ok {
				t, err := ParseDate(iso)
				if err != nil {
					return nil, fmt.Errorf("%w: %w", ErrInvalidDate, err)
				}
				return t, nil
			}
		}
		for i := range val {
			r, err := resolveDateStrings(val[i].Value)
			if err != nil {
				return nil, err
			}
			val[i].Value = r
		}
		return val, nil
	case bson.A:
		for i := range val {
			r, err := resolveDateStrings(val[i])
			if err != nil {
				return nil, err
			}
			val[i] = r
		}
		return val, nil
	default:
		return v, nil
	}
}

func (s *Sanitizer) shapePlan(v any) (*Plan, error) {
	switch s.shape {
	case ShapeCollection:
		doc, ok := v.(bson.D)
		if !ok {
			return nil, fmt.Errorf("%w: want object with base_collection and pipeline, got %s", ErrShape, kind(v))
		}
		m := doc.Map()
		name, _ := m["base_collection"].(string)
		if name == "" {
			return nil, fmt.Errorf("%w: base_collection missing", ErrShape)
		}
		if len(s.collections) > 0 && !slices.Contains(s.collections, name) {
			return nil, fmt.Errorf("%w: unknown collection %q", ErrShape, name)
		}
		pipeline, ok := m["pipeline"].(bson.A)
		if !ok {
			return nil, fmt.Errorf("%w: pipeline must be a list, got %s", ErrShape, kind(m["pipeline"]))
		}
		stages, err := toStages(pipeline)
		if err != nil {
			return nil, err
		}
		return &Plan{Collection: name, Stages: stages}, nil
	default:
		list, ok := v.(bson.A)
		if !ok {
			return nil, fmt.Errorf("%w: want stage list, got %s", ErrShape, kind(v))
		}
		stages, err := toStages(list)
		if err != nil {
			return nil, err
		}
		return &Plan{Collection: s.collection, Stages: stages}, nil
	}
}

func toStages(list bson.A) ([]bson.D, error) {
	stages := make([]bson.D, len(list))
	for i, item := range list {
		doc, ok := item.(bson.D)
		if !ok {
			return nil, fmt.Errorf("%w: stage %d is %s, not an object", ErrShape, i, kind(item))
		}
		stages[i] = doc
	}
	return stages, nil
}

// checkStage enforces one $operator per stage and the operator deny lists.
func checkStage(stage bson.D) error {
	if len(stage) != 1 {
		return fmt.Errorf("%w: stage must have exactly one operator, has %d keys", ErrShape, len(stage))
	}
	op := stage[0].Key
	if !strings.HasPrefix(op, "$") {
		return fmt.Errorf("%w: stage key %q is not an operator", ErrShape, op)
	}
	if slices.Contains(forbiddenStages, op) {
		return fmt.Errorf("%w: %s", ErrForbiddenOperator, op)
	}
	return walkKeys(stage[0].Value, func(key string) error {
		if slices.Contains(forbiddenOperators, key) {
			return fmt.Errorf("%w: %s", ErrForbiddenOperator, key)
		}
		return nil
	})
}

func walkKeys(v any, fn func(string) error) error {
	switch val := v.(type) {
	case bson.D:
		for _, e := range val {
			if err := fn(e.Key); err != nil {
				return err
			}
			if err := walkKeys(e.Value, fn); err != nil {
				return err
			}
		}
	case bson.A:
		for _, item := range val {
			if err := walkKeys(item, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bson.D:
		return "object"
	case bson.A:
		return "list"
	case string:
		return "string"
	case bool:
		return "bool"
	case time.Time:
		return "date"
	default:
		return "number"
	}
}
