// internal/agent/history_test.go
package agent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

func stateForTurn(i int) *schemas.EnvironmentState {
	return &schemas.EnvironmentState{
		URL:        fmt.Sprintf("https://example.com/%d", i),
		Screenshot: []byte{byte(i)},
	}
}

func TestPruneHistoryKeepsMostRecentImages(t *testing.T) {
	var history []*genai.Content
	history = append(history, userGoalTurn("goal", stateForTurn(0)))
	for i := 1; i <= 5; i++ {
		history = append(history, &genai.Content{
			Role:  genai.RoleModel,
			Parts: []*genai.Part{genai.NewPartFromText(fmt.Sprintf("step %d", i))},
		})
		history = append(history, functionResponseTurn("click_at", stateForTurn(i)))
	}
	require.Equal(t, 6, countImageParts(history))

	pruneHistory(history, 3)

	assert.Equal(t, 3, countImageParts(history))

	// The three most recent observations keep their screenshots.
	assert.True(t, hasImagePart(history[len(history)-1]))
	assert.True(t, hasImagePart(history[len(history)-3]))
	assert.True(t, hasImagePart(history[len(history)-5]))

	// Older turns lose the image but keep their structure.
	first := history[0]
	assert.False(t, hasImagePart(first))
	require.NotEmpty(t, first.Parts)
	assert.Equal(t, "goal", first.Parts[0].Text)

	stripped := history[2]
	assert.False(t, hasImagePart(stripped))
	require.NotEmpty(t, stripped.Parts)
	require.NotNil(t, stripped.Parts[0].FunctionResponse)
	assert.Equal(t, "https://example.com/1", stripped.Parts[0].FunctionResponse.Response["url"])
}

func TestPruneHistoryIsStableUnderRepeatedCalls(t *testing.T) {
	var history []*genai.Content
	for i := 0; i < 4; i++ {
		history = append(history, functionResponseTurn("wait_5_seconds", stateForTurn(i)))
	}

	pruneHistory(history, 2)
	require.Equal(t, 2, countImageParts(history))
	pruneHistory(history, 2)
	assert.Equal(t, 2, countImageParts(history))
}

func TestPruneHistoryFloorsAtOneImage(t *testing.T) {
	history := []*genai.Content{
		functionResponseTurn("go_back", stateForTurn(0)),
		functionResponseTurn("go_back", stateForTurn(1)),
	}

	pruneHistory(history, 0)
	assert.Equal(t, 1, countImageParts(history))
	assert.True(t, hasImagePart(history[1]))
}

func TestFunctionResponseTurnShape(t *testing.T) {
	turn := functionResponseTurn("navigate", stateForTurn(7))

	require.Equal(t, genai.RoleUser, turn.Role)
	require.Len(t, turn.Parts, 2)
	require.NotNil(t, turn.Parts[0].FunctionResponse)
	assert.Equal(t, "navigate", turn.Parts[0].FunctionResponse.Name)
	assert.Equal(t, "https://example.com/7", turn.Parts[0].FunctionResponse.Response["url"])
	require.NotNil(t, turn.Parts[1].InlineData)
	assert.Equal(t, screenshotMIMEType, turn.Parts[1].InlineData.MIMEType)
}
