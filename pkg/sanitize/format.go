package sanitize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Format renders a plan in the text form Sanitize accepts, so
// Sanitize(Format(p)) reproduces p. Dates are written as ISODate calls.
func (s *Sanitizer) Format(p *Plan) string {
	stages := make(bson.A, len(p.Stages))
	for i, st := range p.Stages {
		stages[i] = st
	}
	if s.shape == ShapeCollection {
		return FormatValue(bson.D{
			{Key: "base_collection", Value: p.Collection},
			{Key: "pipeline", Value: stages},
		})
	}
	return FormatValue(stages)
}

// FormatValue renders a literal-grammar value on one line.
func FormatValue(v any) string {
	var b strings.Builder
	writeValue(&b, v)
	return b.String()
}

func writeValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case string:
		b.WriteString(quote(val))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int32:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case float64:
		b.WriteString(formatFloat(val))
	case float32:
		b.WriteString(formatFloat(float64(val)))
	case time.Time:
		b.WriteString(formatDate(val))
	case bson.D:
		b.WriteByte('{')
		for i, e := range val {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(quote(e.Key))
			b.WriteString(": ")
			writeValue(b, e.Value)
		}
		b.WriteByte('}')
	case bson.A:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteString(", ")
			}
			writeValue(b, item)
		}
		b.WriteByte(']')
	case []bson.D:
		arr := make(bson.A, len(val))
		for i, d := range val {
			arr[i] = d
		}
		writeValue(b, arr)
	default:
		b.WriteString(quote(fmt.Sprint(val)))
	}
}

// quote writes s as a JSON string. Control characters become \u00XX,
// which the literal grammar reads back.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// formatFloat keeps a decimal point so the value parses back as a float.
// NaN and infinities have no literal form and render as null.
func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
