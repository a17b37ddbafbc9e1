package sanitize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"
)

// DateConstructor is the one call the literal grammar accepts.
const DateConstructor = "ISODate"

// ParseLiteral parses text written in the restricted literal grammar:
//
//	value  = object | array | string | number | true | false | null | date
//	object = "{" [ key ":" value { "," key ":" value } [","] ] "}"
//	array  = "[" [ value { "," value } [","] ] "]"
//	key    = string | identifier
//	date   = "ISODate" "(" string ")"
//
// Strings may use single or double quotes. Objects decode to bson.D so key
// order is kept, arrays to bson.A, integers to int32 or int64, other numbers
// to float64 and dates to time.Time in UTC. Any identifier other than an
// object key, a literal or the date constructor is rejected.
func ParseLiteral(text string) (any, error) {
	p := &parser{src: text}
	p.skipSpace()
	v, err := p.value(0)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected %q after value", p.peekToken())
	}
	return v, nil
}

// maxDepth bounds nesting so hostile input cannot exhaust the stack.
const maxDepth = 64

type parser struct {
	src string
	pos int
}

// SyntaxError reports where the literal grammar was violated.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("offset %d: %s", e.Offset, e.Msg)
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peekToken() string {
	end := min(p.pos+12, len(p.src))
	return p.src[p.pos:end]
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != c {
		if p.pos >= len(p.src) {
			return p.errorf("expected %q, got end of input", c)
		}
		return p.errorf("expected %q, got %q", c, p.peekToken())
	}
	p.pos++
	return nil
}

func (p *parser) value(depth int) (any, error) {
	if depth > maxDepth {
		return nil, p.errorf("nesting deeper than %d", maxDepth)
	}
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, p.errorf("unexpected end of input")
	}

	switch c := p.src[p.pos]; {
	case c == '{':
		return p.object(depth)
	case c == '[':
		return p.array(depth)
	case c == '"' || c == '\'':
		return p.str()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	case isIdentStart(rune(c)):
		return p.keyword()
	default:
		return nil, p.errorf("unexpected %q", p.peekToken())
	}
}

func (p *parser) object(depth int) (bson.D, error) {
	p.pos++ // {
	doc := bson.D{}
	for {
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == '}' {
			p.pos++
			return doc, nil
		}

		key, err := p.key()
		if err != nil {
			return nil, err
		}
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		val, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: key, Value: val})

		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, p.errorf("unterminated object")
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return doc, nil
		default:
			return nil, p.errorf("expected ',' or '}' in object, got %q", p.peekToken())
		}
	}
}

func (p *parser) key() (string, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return "", p.errorf("unterminated object")
	}
	if c := p.src[p.pos]; c == '"' || c == '\'' {
		return p.str()
	}
	start := p.pos
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if !isIdentPart(r) && r != '.' {
			break
		}
		p.pos += size
	}
	if start == p.pos {
		return "", p.errorf("expected object key, got %q", p.peekToken())
	}
	return p.src[start:p.pos], nil
}

func (p *parser) array(depth int) (bson.A, error) {
	p.pos++ // [
	arr := bson.A{}
	for {
		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ']' {
			p.pos++
			return arr, nil
		}

		val, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)

		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, p.errorf("unterminated array")
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return arr, nil
		default:
			return nil, p.errorf("expected ',' or ']' in array, got %q", p.peekToken())
		}
	}
}

func (p *parser) str() (string, error) {
	quote := p.src[p.pos]
	start := p.pos
	p.pos++

	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			return b.String(), nil
		case c == '\\':
			if p.pos+1 >= len(p.src) {
				p.pos = start
				return "", p.errorf("unterminated string")
			}
			p.pos++
			if err := p.escape(&b); err != nil {
				return "", err
			}
		case c == '\n':
			return "", p.errorf("newline in string")
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	p.pos = start
	return "", p.errorf("unterminated string")
}

func (p *parser) escape(b *strings.Builder) error {
	c := p.src[p.pos]
	p.pos++
	switch c {
	case '"', '\'', '\\', '/':
		b.WriteByte(c)
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'n':
		b.WriteByte('\n')
	case 'r':
		b.WriteByte('\r')
	case 't':
		b.WriteByte('\t')
	case 'u':
		if p.pos+4 > len(p.src) {
			return p.errorf("short unicode escape")
		}
		n, err := strconv.ParseUint(p.src[p.pos:p.pos+4], 16, 32)
		if err != nil {
			return p.errorf("invalid unicode escape %q", p.src[p.pos:p.pos+4])
		}
		p.pos += 4
		b.WriteRune(rune(n))
	default:
		return p.errorf("invalid escape \\%c", c)
	}
	return nil
}

func (p *parser) number() (any, error) {
	start := p.pos
	if c := p.src[p.pos]; c == '-' || c == '+' {
		p.pos++
	}
	isFloat := false
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		exponentSign := (c == '-' || c == '+') && (p.src[p.pos-1] == 'e' || p.src[p.pos-1] == 'E')
		if c == '.' || c == 'e' || c == 'E' {
			isFloat = true
		} else if (c < '0' || c > '9') && !exponentSign {
			break
		}
		p.pos++
	}
	text := strings.TrimPrefix(p.src[start:p.pos], "+")
	if !isFloat {
		n, err := strconv.ParseInt(text, 10, 64)
		if err == nil {
			if n >= math.MinInt32 && n <= math.MaxInt32 {
				return int32(n), nil
			}
			return n, nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsInf(f, 0) {
		p.pos = start
		return nil, p.errorf("invalid number %q", text)
	}
	return f, nil
}

func (p *parser) keyword() (any, error) {
	start := p.pos
	for p.pos < len(p.src) {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if !isIdentPart(r) {
			break
		}
		p.pos += size
	}
	word := p.src[start:p.pos]

	switch word {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	case DateConstructor:
		return p.date()
	}
	p.pos = start
	return nil, p.errorf("identifier %q is not allowed", word)
}

func (p *parser) date() (time.Time, error) {
	if err := p.expect('('); err != nil {
		return time.Time{}, err
	}
	p.skipSpace()
	if p.pos >= len(p.src) || (p.src[p.pos] != '"' && p.src[p.pos] != '\'') {
		return time.Time{}, p.errorf("%s takes a single string argument", DateConstructor)
	}
	s, err := p.str()
	if err != nil {
		return time.Time{}, err
	}
	if err := p.expect(')'); err != nil {
		return time.Time{}, err
	}
	t, err := ParseDate(s)
	if err != nil {
		return time.Time{}, p.errorf("%v", err)
	}
	return t, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

// dateLayouts are tried in order by ParseDate. Layouts without a zone are
// read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses an ISO-8601 timestamp into UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 date %q", s)
}
