// internal/session/hub_test.go
package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

func logEvent(i int) schemas.Event {
	return schemas.Event{
		Type:      schemas.EventLog,
		Timestamp: time.Now(),
		Level:     "info",
		Content:   fmt.Sprintf("event-%d", i),
	}
}

func collect(t *testing.T, ch <-chan schemas.Event) []schemas.Event {
	t.Helper()
	var out []schemas.Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d events", len(out))
		}
	}
}

func TestHubReplayThenLiveInOrder(t *testing.T) {
	h := NewHub(0)
	for i := 0; i < 5; i++ {
		h.Publish(logEvent(i))
	}

	ch, cancel := h.Subscribe()
	defer cancel()

	go func() {
		for i := 5; i < 10; i++ {
			h.Publish(logEvent(i))
		}
		h.Close()
	}()

	got := collect(t, ch)
	require.Len(t, got, 10)
	for i, ev := range got {
		// In publication order, no duplicates, no gaps.
		assert.Equal(t, fmt.Sprintf("event-%d", i), ev.Content)
	}
}

func TestHubLateSubscriberGetsFullReplay(t *testing.T) {
	h := NewHub(0)
	for i := 0; i < 3; i++ {
		h.Publish(logEvent(i))
	}
	h.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	got := collect(t, ch)
	require.Len(t, got, 3)
	assert.Equal(t, "event-0", got[0].Content)
	assert.Equal(t, "event-2", got[2].Content)
}

func TestHubIndependentSubscribers(t *testing.T) {
	h := NewHub(0)
	h.Publish(logEvent(0))

	ch1, cancel1 := h.Subscribe()
	ch2, cancel2 := h.Subscribe()
	defer cancel1()
	defer cancel2()

	h.Publish(logEvent(1))
	h.Close()

	got1 := collect(t, ch1)
	got2 := collect(t, ch2)
	require.Len(t, got1, 2)
	require.Len(t, got2, 2)
	assert.Equal(t, got1[0].Content, got2[0].Content)
}

func TestHubCanceledSubscriberDoesNotBlockPublisher(t *testing.T) {
	h := NewHub(0)
	_, cancel := h.Subscribe()
	cancel()
	cancel() // safe to repeat

	// With the subscriber gone, publishing must not stall even far past the
	// channel buffer.
	for i := 0; i < 100; i++ {
		h.Publish(logEvent(i))
	}
	h.Close()
	assert.Len(t, h.History(), 100)
}

func TestHubPublishAfterCloseIsDropped(t *testing.T) {
	h := NewHub(0)
	h.Publish(logEvent(0))
	h.Close()
	h.Publish(logEvent(1))
	h.Close() // idempotent

	assert.Len(t, h.History(), 1)
}

func TestHubScreenshotRateLimitThrottlesLiveDeliveryOnly(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe()
	defer cancel()

	shot := schemas.Event{Type: schemas.EventScreenshot, ImageBase64: "aGk="}
	for i := 0; i < 5; i++ {
		h.Publish(shot)
	}
	// Log events are never throttled.
	h.Publish(logEvent(0))
	h.Close()

	var liveShots, liveLogs int
	for _, ev := range collect(t, ch) {
		switch ev.Type {
		case schemas.EventScreenshot:
			liveShots++
		case schemas.EventLog:
			liveLogs++
		}
	}
	assert.Equal(t, 1, liveShots)
	assert.Equal(t, 1, liveLogs)

	// The history keeps every frame so replays stay complete.
	var shots int
	for _, ev := range h.History() {
		if ev.Type == schemas.EventScreenshot {
			shots++
		}
	}
	assert.Equal(t, 5, shots)
}

func TestHubLateSubscriberReplaysThrottledFrames(t *testing.T) {
	h := NewHub(1)

	shot := schemas.Event{Type: schemas.EventScreenshot, ImageBase64: "aGk="}
	for i := 0; i < 4; i++ {
		h.Publish(shot)
	}
	h.Close()

	ch, cancel := h.Subscribe()
	defer cancel()

	got := collect(t, ch)
	assert.Len(t, got, 4)
}
