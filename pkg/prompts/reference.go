package prompts

import "strings"

// ReferenceCheck is the JSON the reference check prompt asks for.
type ReferenceCheck struct {
	RefersToPrevious bool    `json:"refers_to_previous"`
	Operation        string  `json:"operation"`
	Entity           string  `json:"entity"`
	Confidence       float64 `json:"confidence"`
}

// BuildReferenceCheckPrompt asks whether query refers to the results
// summarized in frameSummary, and what it wants done with them. The answer
// only adjusts confidence; it never produces SQL.
func BuildReferenceCheckPrompt(query, frameSummary string) Prompt {
	var prompt strings.Builder

	prompt.WriteString("## PREVIOUS RESULTS\n\n")
	prompt.WriteString(frameSummary + "\n\n")
	prompt.WriteString("## NEW QUESTION\n\n")
	prompt.WriteString(query + "\n\n")
	prompt.WriteString("## TASK\n\n")
	prompt.WriteString("Does the new question refer to the previous results? If so, which operation does it ask for?\n")
	prompt.WriteString("Operations: filter, count, detail, aggregate, pick, none.\n\n")
	prompt.WriteString("Respond with JSON only:\n")
	prompt.WriteString(`{"refers_to_previous": true, "operation": "filter", "entity": "complaints", "confidence": 0.8}`)
	prompt.WriteString("\n")

	return Prompt{
		System:      "You classify follow-up questions in a data chat. You never write SQL.",
		User:        prompt.String(),
		Temperature: 0,
	}
}
