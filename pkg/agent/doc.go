// Package agent is the conversational workflow: the conversation state,
// the node handlers and the graph that connects them.
//
// Every turn enters at the router, which labels the question with one
// QuestionType. The label picks a linear chain:
//
//	Query_Data     query_data
//	Visualization  rephrase -> generate_query -> generate_chart
//	Record_Sale    record_sale -> (suspend) -> confirm_sale
//	Analyze_Plot   analyze_plot (only when enabled)
//	Help           help
//	anything else  no_context
//
// Record_Sale suspends before confirm_sale. The next turn of the thread
// starts at confirm_sale whatever it says: an affirmative reply saves the
// pending sale and anything else cancels it.
//
// Assistant wraps the compiled graph with per-turn defaults and thread
// inspection.
package agent
