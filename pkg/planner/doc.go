// Package planner turns natural-language questions into sanitized
// MongoDB aggregation plans.
//
// Plan narrows the catalog with a preliminary collection-selection call
// and asks for a {"base_collection", "pipeline"} object. PlanFor targets a
// single named collection and asks for a bare stage list. Both embed the
// collection schemas and worked examples from the Catalog and pass the
// completion through package sanitize exactly once.
package planner
