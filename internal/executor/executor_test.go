// internal/executor/executor_test.go
package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// fakeBrowser records the last primitive call and its pixel arguments.
type fakeBrowser struct {
	width, height int

	lastCall  string
	lastX     int
	lastY     int
	lastDestX int
	lastDestY int
	lastText  string
	lastEnter bool
	lastClear bool
	lastDir   schemas.ScrollDirection
	lastMag   int
	lastKeys  []string
	lastURL   string

	state *schemas.EnvironmentState
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		width:  1440,
		height: 900,
		state:  &schemas.EnvironmentState{URL: "https://example.com", Screenshot: []byte{0x89, 0x50}},
	}
}

func (f *fakeBrowser) record(name string) (*schemas.EnvironmentState, error) {
	f.lastCall = name
	return f.state, nil
}

func (f *fakeBrowser) Open(context.Context) (*schemas.EnvironmentState, error) {
	return f.record("open")
}

func (f *fakeBrowser) ClickAt(_ context.Context, x, y int) (*schemas.EnvironmentState, error) {
	f.lastX, f.lastY = x, y
	return f.record("click")
}

func (f *fakeBrowser) HoverAt(_ context.Context, x, y int) (*schemas.EnvironmentState, error) {
	f.lastX, f.lastY = x, y
	return f.record("hover")
}

func (f *fakeBrowser) TypeTextAt(_ context.Context, x, y int, text string, pressEnter, clearFirst bool) (*schemas.EnvironmentState, error) {
	f.lastX, f.lastY = x, y
	f.lastText, f.lastEnter, f.lastClear = text, pressEnter, clearFirst
	return f.record("type")
}

func (f *fakeBrowser) ScrollDocument(_ context.Context, direction schemas.ScrollDirection) (*schemas.EnvironmentState, error) {
	f.lastDir = direction
	return f.record("scroll_document")
}

func (f *fakeBrowser) ScrollAt(_ context.Context, x, y int, direction schemas.ScrollDirection, magnitude int) (*schemas.EnvironmentState, error) {
	f.lastX, f.lastY = x, y
	f.lastDir, f.lastMag = direction, magnitude
	return f.record("scroll_at")
}

func (f *fakeBrowser) Wait(context.Context) (*schemas.EnvironmentState, error) {
	return f.record("wait")
}

func (f *fakeBrowser) GoBack(context.Context) (*schemas.EnvironmentState, error) {
	return f.record("back")
}

func (f *fakeBrowser) GoForward(context.Context) (*schemas.EnvironmentState, error) {
	return f.record("forward")
}

func (f *fakeBrowser) Search(context.Context) (*schemas.EnvironmentState, error) {
	return f.record("search")
}

func (f *fakeBrowser) Navigate(_ context.Context, url string) (*schemas.EnvironmentState, error) {
	f.lastURL = url
	return f.record("navigate")
}

func (f *fakeBrowser) KeyCombination(_ context.Context, keys []string) (*schemas.EnvironmentState, error) {
	f.lastKeys = keys
	return f.record("keys")
}

func (f *fakeBrowser) DragAndDrop(_ context.Context, x, y, destX, destY int) (*schemas.EnvironmentState, error) {
	f.lastX, f.lastY = x, y
	f.lastDestX, f.lastDestY = destX, destY
	return f.record("drag")
}

func (f *fakeBrowser) ScreenSize(context.Context) (int, int) {
	return f.width, f.height
}

func setupExecutor(t *testing.T) (*Executor, *fakeBrowser) {
	t.Helper()
	fb := newFakeBrowser()
	return New(fb, zaptest.NewLogger(t)), fb
}

func TestDenormalize(t *testing.T) {
	assert.Equal(t, 720, Denormalize(500, 1440))
	assert.Equal(t, 450, Denormalize(500, 900))
	assert.Equal(t, 0, Denormalize(0, 1440))
	// The top of the range lands exactly on the dimension; callers clamp
	// against the viewport edge implicitly because CDP tolerates it.
	assert.Equal(t, 1440, Denormalize(1000, 1440))
	// Floor, not round.
	assert.Equal(t, 1, Denormalize(1, 1440))
	assert.Equal(t, 133, Denormalize(93, 1440))
}

func TestExecuteClickDenormalizesAgainstLiveViewport(t *testing.T) {
	exec, fb := setupExecutor(t)

	state, err := exec.Execute(context.Background(), schemas.Command{
		Name: schemas.CommandClickAt,
		X:    500,
		Y:    500,
	})
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.Equal(t, "click", fb.lastCall)
	assert.Equal(t, 720, fb.lastX)
	assert.Equal(t, 450, fb.lastY)
}

func TestExecuteTypeTextCarriesFlags(t *testing.T) {
	exec, fb := setupExecutor(t)

	_, err := exec.Execute(context.Background(), schemas.Command{
		Name:       schemas.CommandTypeTextAt,
		X:          100,
		Y:          200,
		Text:       "hello world",
		PressEnter: true,
		ClearFirst: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "type", fb.lastCall)
	assert.Equal(t, 144, fb.lastX)
	assert.Equal(t, 180, fb.lastY)
	assert.Equal(t, "hello world", fb.lastText)
	assert.True(t, fb.lastEnter)
	assert.True(t, fb.lastClear)
}

func TestExecuteScrollAtScalesMagnitudeOnDirectionAxis(t *testing.T) {
	exec, fb := setupExecutor(t)

	_, err := exec.Execute(context.Background(), schemas.Command{
		Name:      schemas.CommandScrollAt,
		X:         500,
		Y:         500,
		Direction: schemas.ScrollDown,
		Magnitude: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "scroll_at", fb.lastCall)
	// Vertical scroll scales against height.
	assert.Equal(t, 90, fb.lastMag)

	_, err = exec.Execute(context.Background(), schemas.Command{
		Name:      schemas.CommandScrollAt,
		X:         500,
		Y:         500,
		Direction: schemas.ScrollRight,
		Magnitude: 100,
	})
	require.NoError(t, err)
	// Horizontal scroll scales against width.
	assert.Equal(t, 144, fb.lastMag)
}

func TestExecuteDragDenormalizesBothPoints(t *testing.T) {
	exec, fb := setupExecutor(t)

	_, err := exec.Execute(context.Background(), schemas.Command{
		Name:  schemas.CommandDragAndDrop,
		X:     250,
		Y:     250,
		DestX: 750,
		DestY: 750,
	})
	require.NoError(t, err)

	assert.Equal(t, "drag", fb.lastCall)
	assert.Equal(t, 360, fb.lastX)
	assert.Equal(t, 225, fb.lastY)
	assert.Equal(t, 1080, fb.lastDestX)
	assert.Equal(t, 675, fb.lastDestY)
}

func TestExecuteUnsupportedCommand(t *testing.T) {
	exec, fb := setupExecutor(t)

	state, err := exec.Execute(context.Background(), schemas.Command{Name: "teleport"})
	require.Error(t, err)
	assert.Nil(t, state)

	var unsupported *schemas.UnsupportedCommandError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "teleport", unsupported.Name)
	// Nothing reached the browser.
	assert.Empty(t, fb.lastCall)
}

func TestExecuteArgumentFreeCommands(t *testing.T) {
	cases := map[schemas.CommandName]string{
		schemas.CommandOpenBrowser: "open",
		schemas.CommandWait:        "wait",
		schemas.CommandGoBack:      "back",
		schemas.CommandGoForward:   "forward",
		schemas.CommandSearch:      "search",
	}

	for name, want := range cases {
		exec, fb := setupExecutor(t)
		_, err := exec.Execute(context.Background(), schemas.Command{Name: name})
		require.NoError(t, err, name)
		assert.Equal(t, want, fb.lastCall, name)
	}
}
