package sanitize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{"int32", "42", int32(42)},
		{"negative", "-7", int32(-7)},
		{"int64", "9007199254740993", int64(9007199254740993)},
		{"float", "2.5", 2.5},
		{"exponent", "1e3", 1000.0},
		{"signed exponent", "1.5E-2", 0.015},
		{"string", `"Denver"`, "Denver"},
		{"single quoted", `'Denver'`, "Denver"},
		{"escapes", `"a\"b\\c\né"`, "a\"b\\c\né"},
		{"true", "true", true},
		{"null", "null", nil},
		{"empty object", "{}", bson.D{}},
		{"empty array", "[ ]", bson.A{}},
		{
			"ordered object",
			`{"b": 1, "a": 2}`,
			bson.D{{Key: "b", Value: int32(1)}, {Key: "a", Value: int32(2)}},
		},
		{
			"unquoted operator keys",
			`{$sort: {updatedTimeStamp: -1}}`,
			bson.D{{Key: "$sort", Value: bson.D{{Key: "updatedTimeStamp", Value: int32(-1)}}}},
		},
		{
			"dotted key",
			`{images.boundingBoxes.label: 1}`,
			bson.D{{Key: "images.boundingBoxes.label", Value: int32(1)}},
		},
		{
			"trailing commas",
			`[{"$limit": 1,},]`,
			bson.A{bson.D{{Key: "$limit", Value: int32(1)}}},
		},
		{
			"date constructor",
			`ISODate("2024-01-01T00:00:00Z")`,
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			"date with offset becomes UTC",
			`ISODate( '2024-06-30T20:00:00-04:00' )`,
			time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLiteral(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLiteral_RejectsCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"python call", `__import__("os").system("rm -rf /")`},
		{"datetime call", `datetime.fromisoformat("2024-01-01")`},
		{"identifier value", `{"$match": {"x": os}}`},
		{"function expression", `{"$where": function() { return true }}`},
		{"date without string", `ISODate(1700000000)`},
		{"date without args", `ISODate()`},
		{"bad date", `ISODate("yesterday")`},
		{"NaN", `NaN`},
		{"arithmetic", `1 + 2`},
		{"unterminated string", `"abc`},
		{"trailing backslash", `"abc\`},
		{"missing colon", `{"a" 1}`},
		{"missing comma", `[1 2]`},
		{"unclosed object", `{"a": 1`},
		{"bad escape", `"\q"`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLiteral(tt.in)
			var syntaxErr *SyntaxError
			assert.ErrorAs(t, err, &syntaxErr)
		})
	}
}

func TestParseLiteral_DepthLimit(t *testing.T) {
	deep := ""
	for range maxDepth + 2 {
		deep += "["
	}
	for range maxDepth + 2 {
		deep += "]"
	}
	_, err := ParseLiteral(deep)
	assert.ErrorContains(t, err, "nesting deeper")
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-01T00:00:00Z", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-01-01T10:30:00.123Z", time.Date(2024, 1, 1, 10, 30, 0, 123000000, time.UTC)},
		{"2024-01-01T10:30:00", time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)},
		{"2024-01-01T10:30", time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)},
		{"2024-01-01 10:30:00", time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)},
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	_, err := ParseDate("01/02/2024")
	assert.Error(t, err)
}
