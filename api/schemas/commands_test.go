// api/schemas/commands_test.go
package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandClick(t *testing.T) {
	cmd, err := ParseCommand("click_at", map[string]any{"x": 500.0, "y": 312.0})
	require.NoError(t, err)
	assert.Equal(t, CommandClickAt, cmd.Name)
	assert.Equal(t, 500, cmd.X)
	assert.Equal(t, 312, cmd.Y)
	assert.False(t, cmd.RequiresConfirmation)
}

func TestParseCommandTypeText(t *testing.T) {
	cmd, err := ParseCommand("type_text_at", map[string]any{
		"x": 10.0, "y": 20.0,
		"text":                "user@example.com",
		"press_enter":         true,
		"clear_before_typing": true,
	})
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", cmd.Text)
	assert.True(t, cmd.PressEnter)
	assert.True(t, cmd.ClearFirst)
}

func TestParseCommandScrollAt(t *testing.T) {
	cmd, err := ParseCommand("scroll_at", map[string]any{
		"x": 500.0, "y": 500.0,
		"direction": "down",
		"magnitude": 200.0,
	})
	require.NoError(t, err)
	assert.Equal(t, ScrollDown, cmd.Direction)
	assert.Equal(t, 200, cmd.Magnitude)
}

func TestParseCommandKeyCombination(t *testing.T) {
	cmd, err := ParseCommand("key_combination", map[string]any{"keys": "control+shift+t"})
	require.NoError(t, err)
	assert.Equal(t, []string{"control", "shift", "t"}, cmd.Keys)
}

func TestParseCommandDrag(t *testing.T) {
	cmd, err := ParseCommand("drag_and_drop", map[string]any{
		"x": 100.0, "y": 100.0,
		"destination_x": 900.0, "destination_y": 800.0,
	})
	require.NoError(t, err)
	assert.Equal(t, 900, cmd.DestX)
	assert.Equal(t, 800, cmd.DestY)
}

func TestParseCommandRejectsUnknownName(t *testing.T) {
	_, err := ParseCommand("teleport", nil)
	require.Error(t, err)

	var unsupported *UnsupportedCommandError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "teleport", unsupported.Name)
}

func TestParseCommandRejectsOutOfRangeCoordinates(t *testing.T) {
	_, err := ParseCommand("click_at", map[string]any{"x": 1001.0, "y": 10.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside normalized range")

	_, err = ParseCommand("click_at", map[string]any{"x": -1.0, "y": 10.0})
	require.Error(t, err)
}

func TestParseCommandSafetyDecision(t *testing.T) {
	cmd, err := ParseCommand("click_at", map[string]any{
		"x": 1.0, "y": 2.0,
		"safety_decision": map[string]any{
			"decision":    "require_confirmation",
			"explanation": "This click submits an order.",
		},
	})
	require.NoError(t, err)
	assert.True(t, cmd.RequiresConfirmation)
	assert.Equal(t, "This click submits an order.", cmd.ConfirmationDetail)
}

func TestParseCommandArgumentCoercion(t *testing.T) {
	// Integer-typed arguments appear when the caller is not JSON decoding.
	cmd, err := ParseCommand("hover_at", map[string]any{"x": 7, "y": int64(9)})
	require.NoError(t, err)
	assert.Equal(t, 7, cmd.X)
	assert.Equal(t, 9, cmd.Y)

	// Missing arguments coerce to zero values rather than failing.
	cmd, err = ParseCommand("type_text_at", map[string]any{"x": 1.0, "y": 2.0})
	require.NoError(t, err)
	assert.Empty(t, cmd.Text)
	assert.False(t, cmd.PressEnter)
}
