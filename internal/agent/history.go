// internal/agent/history.go
package agent

import (
	"google.golang.org/genai"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

const screenshotMIMEType = "image/png"

// userGoalTurn builds the opening user turn for a goal: the instruction text
// plus the current observation.
func userGoalTurn(goal string, state *schemas.EnvironmentState) *genai.Content {
	parts := []*genai.Part{
		genai.NewPartFromText(goal),
	}
	parts = append(parts, observationParts(state)...)
	return &genai.Content{Role: genai.RoleUser, Parts: parts}
}

// functionResponseTurn builds the user turn acknowledging an executed command:
// a function response carrying the page address, plus the fresh screenshot.
func functionResponseTurn(name string, state *schemas.EnvironmentState) *genai.Content {
	parts := []*genai.Part{
		genai.NewPartFromFunctionResponse(name, map[string]any{"url": state.URL}),
	}
	parts = append(parts, observationParts(state)...)
	return &genai.Content{Role: genai.RoleUser, Parts: parts}
}

// errorResponseTurn reports a failed command back to the model so it can
// replan instead of the loop aborting.
func errorResponseTurn(name string, execErr error) *genai.Content {
	return &genai.Content{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			genai.NewPartFromFunctionResponse(name, map[string]any{
				"error": execErr.Error(),
			}),
			genai.NewPartFromText("The previous action failed. Review the error and try a different approach."),
		},
	}
}

func observationParts(state *schemas.EnvironmentState) []*genai.Part {
	if state == nil {
		return nil
	}
	parts := make([]*genai.Part, 0, 2)
	if len(state.Screenshot) > 0 {
		parts = append(parts, genai.NewPartFromBytes(state.Screenshot, screenshotMIMEType))
	}
	return parts
}

// pruneHistory caps the conversation's image payload by stripping screenshot
// parts from all but the maxImages most recent image-bearing turns. Text and
// function parts survive so the model keeps the full action record.
func pruneHistory(history []*genai.Content, maxImages int) {
	if maxImages < 1 {
		maxImages = 1
	}

	withImages := 0
	for i := len(history) - 1; i >= 0; i-- {
		if !hasImagePart(history[i]) {
			continue
		}
		withImages++
		if withImages <= maxImages {
			continue
		}

		kept := make([]*genai.Part, 0, len(history[i].Parts))
		for _, p := range history[i].Parts {
			if p != nil && p.InlineData != nil {
				continue
			}
			kept = append(kept, p)
		}
		history[i].Parts = kept
	}
}

func hasImagePart(c *genai.Content) bool {
	if c == nil {
		return false
	}
	for _, p := range c.Parts {
		if p != nil && p.InlineData != nil {
			return true
		}
	}
	return false
}

// countImageParts reports how many turns still carry a screenshot.
func countImageParts(history []*genai.Content) int {
	n := 0
	for _, c := range history {
		if hasImagePart(c) {
			n++
		}
	}
	return n
}
