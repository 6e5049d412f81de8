// internal/browser/actions_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"enter":    "Enter",
		"return":   "Enter",
		"ESC":      "Escape",
		"tab":      "Tab",
		"space":    " ",
		"pagedown": "PageDown",
		"up":       "ArrowUp",
		"a":        "a",
		"A":        "A",
		"F5":       "F5",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeKey(in), in)
	}
}

func TestModifierFor(t *testing.T) {
	for _, name := range []string{"ctrl", "Control", "alt", "option", "shift", "meta", "cmd", "win"} {
		_, ok := modifierFor(name)
		assert.True(t, ok, name)
	}

	m, ok := modifierFor("CTRL")
	require.True(t, ok)
	assert.Equal(t, input.ModifierCtrl, m)

	_, ok = modifierFor("enter")
	assert.False(t, ok)
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://example.com", normalizeURL("example.com"))
	assert.Equal(t, "https://example.com/a?b=c", normalizeURL("https://example.com/a?b=c"))
	assert.Equal(t, "http://plain.example", normalizeURL("http://plain.example"))
	assert.Equal(t, "", normalizeURL(""))
}

func TestUnstartedDriverReturnsConnectionError(t *testing.T) {
	d := NewDriver(config.BrowserConfig{ViewportWidth: 1440, ViewportHeight: 900}, zaptest.NewLogger(t))

	_, err := d.ClickAt(context.Background(), 10, 10)
	require.Error(t, err)

	var connErr *ConnectionError
	assert.ErrorAs(t, err, &connErr)

	// Size queries fall back to the configured viewport instead of failing.
	w, h := d.ScreenSize(context.Background())
	assert.Equal(t, 1440, w)
	assert.Equal(t, 900, h)
}

func TestKeyCombinationValidation(t *testing.T) {
	d := NewDriver(config.BrowserConfig{}, zaptest.NewLogger(t))

	_, err := d.KeyCombination(context.Background(), nil)
	assert.Error(t, err)

	_, err = d.KeyCombination(context.Background(), []string{"ctrl", "shift"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no non-modifier key")

	_, err = d.KeyCombination(context.Background(), []string{"ctrl", "a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than one non-modifier key")
}

func TestCombineContextCancelsWithEitherParent(t *testing.T) {
	primary, cancelPrimary := context.WithCancel(context.Background())
	defer cancelPrimary()
	secondary, cancelSecondary := context.WithCancel(context.Background())

	combined, cancel := combineContext(primary, secondary)
	defer cancel()

	require.NoError(t, combined.Err())
	cancelSecondary()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context did not observe secondary cancellation")
	}
}

func TestCombineContextCancelFuncStandsAlone(t *testing.T) {
	combined, cancel := combineContext(context.Background(), context.Background())
	cancel()
	assert.Error(t, combined.Err())
}
