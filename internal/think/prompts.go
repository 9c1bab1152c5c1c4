package think

import (
	"fmt"
	"strings"

	"github.com/fentz26/cortex/internal/models"
)

const planInstructions = `Respond with a JSON object of the form:
{"plan": "<short description of the plan>", "actions": [{"type": "<action kind>", "payload": {...}}]}
Only use the action kinds listed above.`

const verifyInstructions = `Decide whether the task is complete. Respond with a JSON object of the form:
{"complete": true|false, "reason": "<why>", "shouldContinue": true|false, "newActions": [{"type": "<action kind>", "payload": {...}}]}
newActions is optional and is run before any remaining planned actions.`

func planPrompt(query string, recent []models.Step, state State, kinds []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", query)
	writeContext(&b, state, kinds)
	if len(recent) > 0 {
		b.WriteString("Recent steps:\n")
		writeSteps(&b, recent)
		b.WriteString("\n")
	}
	b.WriteString(planInstructions)
	return b.String()
}

func verifyPrompt(query string, steps []models.Step, lastResult string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", query)
	b.WriteString("Steps so far:\n")
	writeSteps(&b, steps)
	fmt.Fprintf(&b, "\nLast action result:\n%s\n\n", lastResult)
	b.WriteString(verifyInstructions)
	return b.String()
}

func writeContext(b *strings.Builder, state State, kinds []string) {
	if state.WorldState != "" {
		fmt.Fprintf(b, "World state:\n%s\n\n", state.WorldState)
	}
	if state.QueriesAvailable != "" {
		fmt.Fprintf(b, "Queries available:\n%s\n\n", state.QueriesAvailable)
	}
	fmt.Fprintf(b, "Action kinds: %s\n", strings.Join(kinds, ", "))
	if state.AvailableActions != "" {
		fmt.Fprintf(b, "%s\n", state.AvailableActions)
	}
	b.WriteString("\n")
	if n := len(state.ActionHistory); n > 0 {
		b.WriteString("Action history:\n")
		for _, h := range state.ActionHistory {
			fmt.Fprintf(b, "- %s %s -> %s", h.Action.Type, string(h.Action.Payload), truncate(h.Result, 200))
			if h.Error != "" {
				fmt.Fprintf(b, " (error: %s)", h.Error)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
}

func writeSteps(b *strings.Builder, steps []models.Step) {
	for _, s := range steps {
		fmt.Fprintf(b, "[%s] %s\n", s.Type, s.Content)
		if s.Action != nil && s.Action.Observations != "" {
			fmt.Fprintf(b, "  observations: %s\n", truncate(s.Action.Observations, 500))
		}
		if s.Action != nil && s.Action.Error != "" {
			fmt.Fprintf(b, "  error: %s\n", s.Action.Error)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
