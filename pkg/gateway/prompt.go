package gateway

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSystemPrompt instructs the assistant for the store back office.
const DefaultSystemPrompt = `You are the assistant of a retail store management application.
Answer in the user's language. Use the available tools to look up products, stock, sales, employees and clients instead of guessing.
Never invent figures. When a tool reports an error, say what could not be retrieved.
Keep answers short and use plain text lists for tabular data.`

// PromptBuilder renders the system prompt for an identity.
type PromptBuilder func(id Identity, now time.Time) string

// NewPromptBuilder personalizes base with the user's name, role and the
// current date.
func NewPromptBuilder(base string) PromptBuilder {
	if strings.TrimSpace(base) == "" {
		base = DefaultSystemPrompt
	}
	return func(id Identity, now time.Time) string {
		var b strings.Builder
		b.WriteString(base)
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "Today is %s.", now.Format("Monday, 2 January 2006"))
		if id.Name != "" {
			fmt.Fprintf(&b, "\nYou are talking to %s", id.Name)
			if id.Role != "" {
				fmt.Fprintf(&b, " (role: %s)", id.Role)
			}
			b.WriteString(".")
		}
		return b.String()
	}
}
