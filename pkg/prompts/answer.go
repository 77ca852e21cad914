package prompts

import (
	"fmt"
	"strings"
)

// AnswerInput is the data the answer prompt is built from.
type AnswerInput struct {
	Question string
	// RowsJSON is the normalized rows, encoded with a decimal-safe encoder.
	RowsJSON  string
	RowCount  int
	Truncated bool
}

// BuildAnswerPrompt creates the prompt that turns rows into a reply.
func BuildAnswerPrompt(in AnswerInput) Prompt {
	var prompt strings.Builder

	prompt.WriteString("## QUESTION\n\n")
	prompt.WriteString(in.Question + "\n\n")

	prompt.WriteString("## DATA\n\n")
	prompt.WriteString(fmt.Sprintf("%d row(s)", in.RowCount))
	if in.Truncated {
		prompt.WriteString(", only the first rows are shown")
	}
	prompt.WriteString(":\n```json\n")
	prompt.WriteString(in.RowsJSON)
	prompt.WriteString("\n```\n\n")

	prompt.WriteString("## RULES\n\n")
	prompt.WriteString("- Answer only from the data above; never invent values.\n")
	prompt.WriteString("- Never mention tables, columns, SQL or databases.\n")
	prompt.WriteString("- If there are no rows, say plainly that no information was found.\n")
	prompt.WriteString("- If the question asks for a table or list format, use a Markdown table.\n")
	prompt.WriteString("- Do not suggest follow-up questions or technical next steps.\n")
	prompt.WriteString("- Never show latitude/longitude coordinates; use place names.\n")
	prompt.WriteString("- Be concise: one or two sentences unless a table is needed.\n")

	return Prompt{
		System:      answerSystemMessage,
		User:        prompt.String(),
		Temperature: 0.2,
	}
}

const answerSystemMessage = `You are a fleet operations assistant. You answer questions about vehicles, plants, complaints and trips in plain language for operations staff.`
