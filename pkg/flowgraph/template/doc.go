/*
Package template expands ${var} placeholders in prompt text.

Only the brace form is supported. Prompts for the query planner contain
aggregation operators such as $match and $group, which must never be
treated as variables; write "$${" for a literal "${".

# Basic Usage

	result := template.Expand("Question: ${question}", map[string]any{"question": q})

Values that are not strings or scalars (schemas, sample records) are
rendered as indented JSON.

# Parsed templates

Prompts compiled into the binary are parsed once:

	var routerPrompt = template.MustParse("router", routerText)

	text, err := routerPrompt.Execute(map[string]any{"history": h})

Parse rejects a "${" that does not open a valid placeholder. Execute
requires a value for every placeholder and fails with an
UndefinedVariableError otherwise; Lenient relaxes that.

Values of unbounded size are capped per template:

	var analyzePrompt = template.MustParse("analyze-plot", text, template.WithValueLimit(12000))
*/
package template
