// api/schemas/commands.go
package schemas

import (
	"fmt"
	"strings"
)

// CommandName identifies one of the predefined browser-control actions the
// reasoning model may request. The set is closed: every name listed here has
// exactly one executor mapping, and anything else is rejected at parse time.
type CommandName string

const (
	CommandOpenBrowser    CommandName = "open_web_browser"
	CommandClickAt        CommandName = "click_at"
	CommandHoverAt        CommandName = "hover_at"
	CommandTypeTextAt     CommandName = "type_text_at"
	CommandScrollDocument CommandName = "scroll_document"
	CommandScrollAt       CommandName = "scroll_at"
	CommandWait           CommandName = "wait_5_seconds"
	CommandGoBack         CommandName = "go_back"
	CommandGoForward      CommandName = "go_forward"
	CommandSearch         CommandName = "search"
	CommandNavigate       CommandName = "navigate"
	CommandKeyCombination CommandName = "key_combination"
	CommandDragAndDrop    CommandName = "drag_and_drop"
)

// ScrollDirection constrains the direction argument of scroll commands.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// NormalizedRange is the coordinate space the model issues positions in. Both
// axes run 0..1000 regardless of the actual viewport size.
const NormalizedRange = 1000

// Command is a single model-issued action with its validated arguments.
// Coordinates are normalized (0..1000); the executor denormalizes them against
// the live viewport. Only the fields relevant to Name carry meaning.
type Command struct {
	Name CommandName `json:"name"`

	X int `json:"x,omitempty"`
	Y int `json:"y,omitempty"`

	// Drag destination.
	DestX int `json:"destination_x,omitempty"`
	DestY int `json:"destination_y,omitempty"`

	Text       string `json:"text,omitempty"`
	PressEnter bool   `json:"press_enter,omitempty"`
	ClearFirst bool   `json:"clear_before_typing,omitempty"`

	Direction ScrollDirection `json:"direction,omitempty"`
	Magnitude int             `json:"magnitude,omitempty"`

	Keys []string `json:"keys,omitempty"`
	URL  string   `json:"url,omitempty"`

	// RequiresConfirmation is set when the model attached an explicit safety
	// decision to this call and expects a confirm/deny before execution.
	RequiresConfirmation bool   `json:"requires_confirmation,omitempty"`
	ConfirmationDetail   string `json:"confirmation_detail,omitempty"`
}

// UnsupportedCommandError reports a command name outside the closed action set.
// It aborts the current iteration only, never the whole agent loop.
type UnsupportedCommandError struct {
	Name string
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("unsupported command %q", e.Name)
}

// ParseCommand validates a raw function call (name plus argument mapping, as
// decoded from the model response) into a Command. Numeric arguments arrive as
// float64 from JSON decoding.
func ParseCommand(name string, args map[string]any) (Command, error) {
	cmd := Command{Name: CommandName(name)}

	switch cmd.Name {
	case CommandOpenBrowser, CommandWait, CommandGoBack, CommandGoForward, CommandSearch:
		// No arguments.
	case CommandClickAt, CommandHoverAt:
		cmd.X, cmd.Y = argInt(args, "x"), argInt(args, "y")
	case CommandTypeTextAt:
		cmd.X, cmd.Y = argInt(args, "x"), argInt(args, "y")
		cmd.Text = argString(args, "text")
		cmd.PressEnter = argBool(args, "press_enter")
		cmd.ClearFirst = argBool(args, "clear_before_typing")
	case CommandScrollDocument:
		cmd.Direction = ScrollDirection(argString(args, "direction"))
	case CommandScrollAt:
		cmd.X, cmd.Y = argInt(args, "x"), argInt(args, "y")
		cmd.Direction = ScrollDirection(argString(args, "direction"))
		cmd.Magnitude = argInt(args, "magnitude")
	case CommandNavigate:
		cmd.URL = argString(args, "url")
	case CommandKeyCombination:
		cmd.Keys = splitKeys(argString(args, "keys"))
	case CommandDragAndDrop:
		cmd.X, cmd.Y = argInt(args, "x"), argInt(args, "y")
		cmd.DestX = argInt(args, "destination_x")
		cmd.DestY = argInt(args, "destination_y")
	default:
		return Command{}, &UnsupportedCommandError{Name: name}
	}

	if err := cmd.validateCoordinates(); err != nil {
		return Command{}, err
	}

	if sd, ok := args["safety_decision"]; ok && sd != nil {
		cmd.RequiresConfirmation = true
		if m, ok := sd.(map[string]any); ok {
			cmd.ConfirmationDetail = argString(m, "explanation")
		}
	}

	return cmd, nil
}

func (c Command) validateCoordinates() error {
	for _, v := range []int{c.X, c.Y, c.DestX, c.DestY} {
		if v < 0 || v > NormalizedRange {
			return fmt.Errorf("command %s: coordinate %d outside normalized range 0..%d", c.Name, v, NormalizedRange)
		}
	}
	return nil
}

// splitKeys turns a combination string like "control+shift+t" into its parts.
func splitKeys(combo string) []string {
	if combo == "" {
		return nil
	}
	parts := strings.Split(combo, "+")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func argString(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

func argBool(args map[string]any, key string) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return false
}
