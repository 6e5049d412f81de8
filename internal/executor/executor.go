// internal/executor/executor.go
// Package executor maps validated model commands onto browser driver
// primitives, translating the model's normalized coordinate space into live
// viewport pixels.
package executor

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/browser"
)

// Browser is the driver surface the executor dispatches onto. Every primitive
// returns the environment state observed after the action settled.
type Browser interface {
	Open(ctx context.Context) (*schemas.EnvironmentState, error)
	ClickAt(ctx context.Context, x, y int) (*schemas.EnvironmentState, error)
	HoverAt(ctx context.Context, x, y int) (*schemas.EnvironmentState, error)
	TypeTextAt(ctx context.Context, x, y int, text string, pressEnter, clearFirst bool) (*schemas.EnvironmentState, error)
	ScrollDocument(ctx context.Context, direction schemas.ScrollDirection) (*schemas.EnvironmentState, error)
	ScrollAt(ctx context.Context, x, y int, direction schemas.ScrollDirection, magnitude int) (*schemas.EnvironmentState, error)
	Wait(ctx context.Context) (*schemas.EnvironmentState, error)
	GoBack(ctx context.Context) (*schemas.EnvironmentState, error)
	GoForward(ctx context.Context) (*schemas.EnvironmentState, error)
	Search(ctx context.Context) (*schemas.EnvironmentState, error)
	Navigate(ctx context.Context, url string) (*schemas.EnvironmentState, error)
	KeyCombination(ctx context.Context, keys []string) (*schemas.EnvironmentState, error)
	DragAndDrop(ctx context.Context, x, y, destX, destY int) (*schemas.EnvironmentState, error)
	ScreenSize(ctx context.Context) (width, height int)
}

var _ Browser = (*browser.Driver)(nil)

// Executor dispatches commands for one session against one browser driver.
type Executor struct {
	browser Browser
	logger  *zap.Logger
}

func New(b Browser, logger *zap.Logger) *Executor {
	return &Executor{
		browser: b,
		logger:  logger.Named("executor"),
	}
}

// Execute runs one command and returns the resulting environment state. The
// command set is closed; an unknown name yields an UnsupportedCommandError and
// leaves the browser untouched.
func (e *Executor) Execute(ctx context.Context, cmd schemas.Command) (*schemas.EnvironmentState, error) {
	w, h := e.browser.ScreenSize(ctx)

	e.logger.Debug("Executing command",
		zap.String("command", string(cmd.Name)),
		zap.Int("viewport_width", w),
		zap.Int("viewport_height", h),
	)

	switch cmd.Name {
	case schemas.CommandOpenBrowser:
		return e.browser.Open(ctx)
	case schemas.CommandClickAt:
		return e.browser.ClickAt(ctx, Denormalize(cmd.X, w), Denormalize(cmd.Y, h))
	case schemas.CommandHoverAt:
		return e.browser.HoverAt(ctx, Denormalize(cmd.X, w), Denormalize(cmd.Y, h))
	case schemas.CommandTypeTextAt:
		return e.browser.TypeTextAt(ctx, Denormalize(cmd.X, w), Denormalize(cmd.Y, h), cmd.Text, cmd.PressEnter, cmd.ClearFirst)
	case schemas.CommandScrollDocument:
		return e.browser.ScrollDocument(ctx, cmd.Direction)
	case schemas.CommandScrollAt:
		magnitude := Denormalize(cmd.Magnitude, axisDimension(cmd.Direction, w, h))
		return e.browser.ScrollAt(ctx, Denormalize(cmd.X, w), Denormalize(cmd.Y, h), cmd.Direction, magnitude)
	case schemas.CommandWait:
		return e.browser.Wait(ctx)
	case schemas.CommandGoBack:
		return e.browser.GoBack(ctx)
	case schemas.CommandGoForward:
		return e.browser.GoForward(ctx)
	case schemas.CommandSearch:
		return e.browser.Search(ctx)
	case schemas.CommandNavigate:
		return e.browser.Navigate(ctx, cmd.URL)
	case schemas.CommandKeyCombination:
		return e.browser.KeyCombination(ctx, cmd.Keys)
	case schemas.CommandDragAndDrop:
		return e.browser.DragAndDrop(ctx,
			Denormalize(cmd.X, w), Denormalize(cmd.Y, h),
			Denormalize(cmd.DestX, w), Denormalize(cmd.DestY, h))
	default:
		return nil, &schemas.UnsupportedCommandError{Name: string(cmd.Name)}
	}
}

// Denormalize maps a 0..1000 model coordinate onto a pixel dimension.
func Denormalize(v, dim int) int {
	return int(math.Floor(float64(v) / schemas.NormalizedRange * float64(dim)))
}

// axisDimension picks the viewport dimension a scroll magnitude scales
// against.
func axisDimension(direction schemas.ScrollDirection, w, h int) int {
	if direction == schemas.ScrollLeft || direction == schemas.ScrollRight {
		return w
	}
	return h
}
