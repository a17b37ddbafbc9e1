package dataaccess

import (
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Normalize converts a fetched document into plain Go values that encode
// to JSON:
//
//   - Decimal128 and decimal.Decimal become the nearest float64. This is
//     lossy: digits beyond float64 precision are dropped. NaN and
//     infinities become nil.
//   - DateTime and Timestamp become time.Time in UTC.
//   - ObjectID becomes its hex string.
//   - bson.D and bson.M become map[string]any; bson.A becomes []any.
//
// Other values are returned unchanged.
func Normalize(v any) any {
	switch val := v.(type) {
	case bson.M:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = Normalize(e.Value)
		}
		return out
	case bson.A:
		return normalizeSlice(val)
	case []any:
		return normalizeSlice(val)
	case primitive.Decimal128:
		return decimalToFloat(val)
	case decimal.Decimal:
		f, _ := val.Float64()
		return f
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case primitive.ObjectID:
		return val.Hex()
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = Normalize(v)
	}
	return out
}

func decimalToFloat(d primitive.Decimal128) any {
	s := d.String()
	if dec, err := decimal.NewFromString(s); err == nil {
		f, _ := dec.Float64()
		return f
	}
	// NaN and Infinity are valid Decimal128 values but not decimals.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
