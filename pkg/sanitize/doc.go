// Package sanitize turns untrusted model output into a validated MongoDB
// aggregation plan.
//
// Model output is never evaluated. It is parsed with a closed literal
// grammar (objects, arrays, strings, numbers, true/false/null and a single
// ISODate("...") constructor); any other identifier is a syntax error.
//
//	s := sanitize.New(sanitize.WithCollection("sales"))
//	plan, err := s.Sanitize("```json\n[{\"$match\": {\"saleDate\": {\"$gte\": ISODate(\"2024-01-01T00:00:00Z\")}}}]\n```")
//	// plan.Stages[0] == bson.D{{"$match", bson.D{{"saleDate", bson.D{{"$gte", time.Date(2024, 1, 1, ...)}}}}}}
//
// Plans must have exactly one $operator per stage. Write stages ($out,
// $merge) and server-side JavaScript ($where, $function, $accumulator) are
// rejected.
package sanitize
