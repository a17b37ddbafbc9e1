package agent

import (
	"github.com/randalmurphal/insightgraph/pkg/flowgraph/template"
)

var routerPrompt = template.MustParse("router", `You are a router that classifies the user's latest message so the right team can answer it.
The labels are:
- Query_Data: questions about quality missions and inspections, defects, mission images, assets, the SPOT robots, their status and battery level, or mission statistics.
- Visualization: requests to visualize sales data as graphs, charts or tables. Not images.
- Record_Sale: the user wants to record a sale, usually by attaching a receipt or bill image.
- Analyze_Plot: questions about a chart that was already generated in this conversation.
- Help: questions about what you can do or how to use you.
- NoContext: anything else.
${attachments}
Reply with exactly one label and nothing else.`)

var rephrasePrompt = template.MustParse("rephrase", `You turn a user's request for a chart into a question that retrieves the data the chart needs.
Use the conversation history and the collection schema. Consider whether the user wants a time series or a trend.

The collection holds sales: sale date, customer information, items purchased, store location, purchase method and totals.
Schema:
${schema}

Examples:
- "Show me the total sales amount for each store location" becomes "Retrieve store locations and their total sales amounts to visualize sales distribution by location."
- "Generate a line chart showing monthly sales trends for the past year" becomes "Retrieve sales data grouped by month for the past year, including sale amounts and dates, to visualize monthly trends."
- "Create a bar chart showing the total quantity of each product sold" becomes "Retrieve item names and their total quantities sold to visualize sales distribution across products."
- "Generate a pie chart of purchase methods used by customers" becomes "Retrieve the count of sales for each purchase method to visualize their distribution."

Return only the rewritten question as plain text, not a database query.`)

var analyzePrompt = template.MustParse("analyze-plot", `You explain charts. Below is the Plotly figure JSON of the chart generated earlier in this conversation.
Answer the user's question about it in concise markdown. Only use what the figure shows.

Figure:
${figure}`, template.WithValueLimit(maxFigureChars))
