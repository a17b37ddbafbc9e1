// Package dataaccess executes sanitized plans against the document store.
//
// Access appends a $project stage removing internal fields to every
// pipeline, then walks each fetched document converting BSON-specific
// values to plain Go values. Decimal128 to float64 conversion is lossy.
// MongoStore implements DocumentStore on the official MongoDB driver.
package dataaccess
