package planner

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/insightgraph/pkg/flowgraph/template"
)

var selectPrompt = template.MustParse("select-collections", `You pick the MongoDB collections needed to answer a question.

Available collections:
${collections}

Question: ${question}

Return only a JSON array of collection names, for example ["missions"].
Return [] when you are not sure.`)

var analyticsPrompt = template.MustParse("analytics-plan", `You are an expert at turning questions about factory quality inspections into MongoDB aggregation pipelines.
Use only the collections and fields below.

Collections:
${schemas}

Examples:
${examples}

Today's date is ${today}.

Rules:
1. Write every date as ISODate("<ISO-8601>"). Never use $date.
2. Return only a JSON object {"base_collection": "<name>", "pipeline": [<stages>]} and nothing else.
3. Project away fields the question does not need.
4. Never use $out, $merge, $where, $function or $accumulator.`)

var stagesPrompt = template.MustParse("collection-plan", `You are an expert at turning questions into MongoDB aggregation pipelines for the ${collection} collection.
${description}

Fields:
${schema}

Examples:
${examples}

Today's date is ${today}.

Rules:
1. Write every date as ISODate("<ISO-8601>"). Never use $date.
2. Return only the JSON array of pipeline stages and nothing else.
3. Project away fields the question does not need.
4. Never use $out, $merge, $where, $function or $accumulator.`)

func listCollections(cols []Collection) string {
	var b strings.Builder
	for _, col := range cols {
		fmt.Fprintf(&b, "- %s: %s\n", col.Name, col.Description)
	}
	return b.String()
}

// formatExamples numbers the worked examples of cols. With wrap set, each
// plan is shown inside the base_collection envelope.
func formatExamples(cols []Collection, wrap bool) string {
	var b strings.Builder
	n := 0
	for _, col := range cols {
		for _, ex := range col.Examples {
			n++
			plan := strings.TrimSpace(ex.Plan)
			if wrap {
				plan = fmt.Sprintf(`{"base_collection": %q, "pipeline": %s}`, col.Name, plan)
			}
			fmt.Fprintf(&b, "Input%d: %s\nOutput%d: %s\n\n", n, ex.Question, n, plan)
		}
	}
	if n == 0 {
		return "(none)\n"
	}
	return b.String()
}
