package ai

import (
	"fmt"
	"strings"
)

func buildQueryPrompt(table string, columns []string, question string) string {
	var cols strings.Builder
	for _, c := range columns {
		fmt.Fprintf(&cols, "- %s\n", c)
	}

	return fmt.Sprintf(`OBJECTIVE:
You are an assistant that generates valid SQL queries for the table %q. Turn
the user's question into one correct SQL statement. Return ONLY the SQL, with
no explanations, comments, or extra formatting.

CONTEXT:
The table %q has the following columns:
%s
RULES:
1. Return only the final SQL statement, no markdown fences, no line breaks, no
   explanations.
2. The statement must start exactly with "SELECT" and must not end with a
   semicolon.
3. If no year/period/date is specified, use the most recent one.
4. Dates are stored as YYYY-MM-DD; convert any DD/MM/YYYY in the question.

USER QUESTION:
%s
`, table, table, cols.String(), question)
}

func buildHumanPrompt(question, data, query string) string {
	return fmt.Sprintf(`OBJECTIVE:
You are a "data humanizer". Convert the raw rows returned from the database
into a clear, direct, human answer. Do not explain the process or the
calculations.

RULES:
1. Answer the user's question directly.
2. Use a consistent structure for presenting the data.
3. Do not mention SQL, databases, or how the numbers were produced.

GENERATED SQL QUERY:
%s

USER QUESTION:
%s

RETURNED ROWS:
%s
`, query, question, data)
}

func buildChartPrompt(question, data string) string {
	return fmt.Sprintf(`Analyze the data below and choose the best chart for a
clear, static visualization. Use the user's request to pick the title and how
to organize the series.

Respond ONLY with a JSON object, no markdown fences, of the form:
{"title": "...", "kind": "bar" or "line", "labels": ["..."], "values": [1, 2]}

Rules:
- "labels" and "values" must have the same length.
- Use a dot as the decimal separator.
- Keep labels short enough to render on a desktop-width image.

USER REQUEST:
%s

DATA:
%s
`, question, data)
}
