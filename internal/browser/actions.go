// internal/browser/actions.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// documentScrollFraction is how much of the viewport a whole-document scroll
// step covers.
const documentScrollFraction = 0.8

// Open confirms the managed page is reachable and reports its state. The
// page itself was created at Start, so this is an observation, not a launch.
func (d *Driver) Open(ctx context.Context) (*schemas.EnvironmentState, error) {
	return d.CurrentState(ctx)
}

// ClickAt performs a left click at the given pixel coordinates.
func (d *Driver) ClickAt(ctx context.Context, x, y int) (*schemas.EnvironmentState, error) {
	d.showMarker(ctx, [2]int{x, y})
	if err := d.run(ctx, chromedp.MouseClickXY(float64(x), float64(y))); err != nil {
		return nil, fmt.Errorf("click at (%d,%d) failed: %w", x, y, err)
	}
	return d.CurrentState(ctx)
}

// HoverAt moves the pointer to the given pixel coordinates without pressing.
func (d *Driver) HoverAt(ctx context.Context, x, y int) (*schemas.EnvironmentState, error) {
	d.showMarker(ctx, [2]int{x, y})
	err := d.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseMoved, float64(x), float64(y)).Do(cctx)
	}))
	if err != nil {
		return nil, fmt.Errorf("hover at (%d,%d) failed: %w", x, y, err)
	}
	return d.CurrentState(ctx)
}

// TypeTextAt clicks to focus the element at the coordinates, optionally
// clears the field, types the text, and optionally presses Enter.
func (d *Driver) TypeTextAt(ctx context.Context, x, y int, text string, pressEnter, clearFirst bool) (*schemas.EnvironmentState, error) {
	d.showMarker(ctx, [2]int{x, y})

	actions := []chromedp.Action{
		chromedp.MouseClickXY(float64(x), float64(y)),
	}
	if clearFirst {
		actions = append(actions, chromedp.ActionFunc(selectAll), chromedp.KeyEvent(kb.Backspace))
	}
	if text != "" {
		actions = append(actions, chromedp.KeyEvent(text))
	}
	if pressEnter {
		actions = append(actions, chromedp.KeyEvent(kb.Enter))
	}

	if err := d.run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("type at (%d,%d) failed: %w", x, y, err)
	}
	return d.CurrentState(ctx)
}

// selectAll issues Ctrl+A against the focused element.
func selectAll(ctx context.Context) error {
	down := input.DispatchKeyEvent(input.KeyDown).WithModifiers(input.ModifierCtrl).WithKey("a")
	if err := down.Do(ctx); err != nil {
		return err
	}
	up := input.DispatchKeyEvent(input.KeyUp).WithModifiers(input.ModifierCtrl).WithKey("a")
	return up.Do(ctx)
}

// ScrollDocument scrolls the whole document one step in the given direction.
func (d *Driver) ScrollDocument(ctx context.Context, direction schemas.ScrollDirection) (*schemas.EnvironmentState, error) {
	w, h := d.ScreenSize(ctx)

	var magnitude int
	switch direction {
	case schemas.ScrollUp, schemas.ScrollDown:
		magnitude = int(float64(h) * documentScrollFraction)
	case schemas.ScrollLeft, schemas.ScrollRight:
		magnitude = int(float64(w) * documentScrollFraction)
	default:
		return nil, fmt.Errorf("unknown scroll direction %q", direction)
	}

	if err := d.dispatchWheel(ctx, float64(w)/2, float64(h)/2, direction, magnitude); err != nil {
		return nil, fmt.Errorf("document scroll %s failed: %w", direction, err)
	}
	return d.CurrentState(ctx)
}

// ScrollAt scrolls whatever scrollable container sits under the given pixel
// coordinates by the given pixel magnitude.
func (d *Driver) ScrollAt(ctx context.Context, x, y int, direction schemas.ScrollDirection, magnitude int) (*schemas.EnvironmentState, error) {
	d.showMarker(ctx, [2]int{x, y})
	if err := d.dispatchWheel(ctx, float64(x), float64(y), direction, magnitude); err != nil {
		return nil, fmt.Errorf("scroll at (%d,%d) failed: %w", x, y, err)
	}
	return d.CurrentState(ctx)
}

// dispatchWheel sends a synthetic wheel event. Positive deltaY scrolls the
// content down, positive deltaX scrolls it right.
func (d *Driver) dispatchWheel(ctx context.Context, x, y float64, direction schemas.ScrollDirection, magnitude int) error {
	var dx, dy float64
	switch direction {
	case schemas.ScrollUp:
		dy = -float64(magnitude)
	case schemas.ScrollDown:
		dy = float64(magnitude)
	case schemas.ScrollLeft:
		dx = -float64(magnitude)
	case schemas.ScrollRight:
		dx = float64(magnitude)
	default:
		return fmt.Errorf("unknown scroll direction %q", direction)
	}

	return d.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, x, y).
			WithDeltaX(dx).
			WithDeltaY(dy).
			Do(cctx)
	}))
}

// Wait pauses for the fixed wait interval, then reports the page state.
func (d *Driver) Wait(ctx context.Context) (*schemas.EnvironmentState, error) {
	if err := d.run(ctx, chromedp.Sleep(d.cfg.WaitDelay)); err != nil {
		return nil, fmt.Errorf("wait failed: %w", err)
	}
	return d.CurrentState(ctx)
}

// GoBack navigates one step back in the tab history.
func (d *Driver) GoBack(ctx context.Context) (*schemas.EnvironmentState, error) {
	if err := d.runNavigation(ctx, chromedp.NavigateBack()); err != nil {
		return nil, fmt.Errorf("history back failed: %w", err)
	}
	return d.CurrentState(ctx)
}

// GoForward navigates one step forward in the tab history.
func (d *Driver) GoForward(ctx context.Context) (*schemas.EnvironmentState, error) {
	if err := d.runNavigation(ctx, chromedp.NavigateForward()); err != nil {
		return nil, fmt.Errorf("history forward failed: %w", err)
	}
	return d.CurrentState(ctx)
}

// Search navigates to the configured search engine landing page.
func (d *Driver) Search(ctx context.Context) (*schemas.EnvironmentState, error) {
	return d.Navigate(ctx, d.cfg.SearchURL)
}

// Navigate loads the given URL in the managed tab. A bare host gets an
// https scheme prepended.
func (d *Driver) Navigate(ctx context.Context, url string) (*schemas.EnvironmentState, error) {
	url = normalizeURL(url)
	if err := d.runNavigation(ctx, chromedp.Navigate(url)); err != nil {
		return nil, fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return d.CurrentState(ctx)
}

// runNavigation bounds a navigation by the load timeout. A page that is still
// loading when the timeout fires is tolerated; CurrentState captures whatever
// has rendered.
func (d *Driver) runNavigation(ctx context.Context, action chromedp.Action) error {
	navCtx, cancel := context.WithTimeout(ctx, d.cfg.LoadTimeout)
	defer cancel()
	err := d.run(navCtx, action)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		d.logger.Warn("Navigation exceeded load timeout; continuing with partial page.")
		return nil
	}
	return err
}

// KeyCombination presses the given chord, e.g. ["ctrl","c"]. At most one
// non-modifier key is allowed.
func (d *Driver) KeyCombination(ctx context.Context, keys []string) (*schemas.EnvironmentState, error) {
	if len(keys) == 0 {
		return nil, errors.New("key combination requires at least one key")
	}

	var mods input.Modifier
	main := ""
	for _, k := range keys {
		if m, ok := modifierFor(k); ok {
			mods |= m
			continue
		}
		if main != "" {
			return nil, fmt.Errorf("key combination %v has more than one non-modifier key", keys)
		}
		main = normalizeKey(k)
	}
	if main == "" {
		return nil, fmt.Errorf("key combination %v has no non-modifier key", keys)
	}

	err := d.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		down := input.DispatchKeyEvent(input.KeyDown).WithModifiers(mods).WithKey(main)
		if err := down.Do(cctx); err != nil {
			return err
		}
		up := input.DispatchKeyEvent(input.KeyUp).WithModifiers(mods).WithKey(main)
		return up.Do(cctx)
	}))
	if err != nil {
		return nil, fmt.Errorf("key combination %v failed: %w", keys, err)
	}
	return d.CurrentState(ctx)
}

// DragAndDrop presses at the source, moves to the destination in small
// steps so drag handlers fire, and releases.
func (d *Driver) DragAndDrop(ctx context.Context, x, y, destX, destY int) (*schemas.EnvironmentState, error) {
	d.showMarker(ctx, [2]int{x, y}, [2]int{destX, destY})

	const steps = 12
	err := d.run(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		press := input.DispatchMouseEvent(input.MousePressed, float64(x), float64(y)).
			WithButton(input.Left).
			WithClickCount(1)
		if err := press.Do(cctx); err != nil {
			return err
		}

		for i := 1; i <= steps; i++ {
			t := float64(i) / steps
			mx := float64(x) + (float64(destX)-float64(x))*t
			my := float64(y) + (float64(destY)-float64(y))*t
			move := input.DispatchMouseEvent(input.MouseMoved, mx, my).
				WithButton(input.Left)
			if err := move.Do(cctx); err != nil {
				return err
			}
		}

		release := input.DispatchMouseEvent(input.MouseReleased, float64(destX), float64(destY)).
			WithButton(input.Left).
			WithClickCount(1)
		return release.Do(cctx)
	}))
	if err != nil {
		return nil, fmt.Errorf("drag from (%d,%d) to (%d,%d) failed: %w", x, y, destX, destY, err)
	}
	return d.CurrentState(ctx)
}

func normalizeURL(url string) string {
	if url == "" {
		return url
	}
	if !strings.Contains(url, "://") {
		return "https://" + url
	}
	return url
}

var namedKeys = map[string]string{
	"enter":     "Enter",
	"return":    "Enter",
	"tab":       "Tab",
	"esc":       "Escape",
	"escape":    "Escape",
	"space":     " ",
	"backspace": "Backspace",
	"delete":    "Delete",
	"up":        "ArrowUp",
	"down":      "ArrowDown",
	"left":      "ArrowLeft",
	"right":     "ArrowRight",
	"pageup":    "PageUp",
	"pagedown":  "PageDown",
	"home":      "Home",
	"end":       "End",
}

// normalizeKey maps loose key names to CDP key values.
func normalizeKey(k string) string {
	lower := strings.ToLower(k)
	if v, ok := namedKeys[lower]; ok {
		return v
	}
	if len(k) == 1 {
		return k
	}
	return strings.ToUpper(lower[:1]) + lower[1:]
}

func modifierFor(k string) (input.Modifier, bool) {
	switch strings.ToLower(k) {
	case "ctrl", "control":
		return input.ModifierCtrl, true
	case "alt", "option":
		return input.ModifierAlt, true
	case "shift":
		return input.ModifierShift, true
	case "meta", "cmd", "command", "win":
		return input.ModifierMeta, true
	}
	return 0, false
}
