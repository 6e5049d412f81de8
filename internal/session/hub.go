// internal/session/hub.go
package session

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// Hub buffers a session's full event history and fans live events out to any
// number of subscribers. Every subscriber sees the complete history in
// publication order followed by live events, with no duplicates and no gaps.
// Publishers never block on slow subscribers.
type Hub struct {
	mu      sync.Mutex
	history []schemas.Event
	subs    map[int]*subscriber
	nextID  int
	closed  bool

	closeCh chan struct{}

	// limiter caps live screenshot delivery only; a tight action loop must
	// not flood subscribers with frames. Every frame still lands in the
	// history, so replays are complete.
	limiter *rate.Limiter
}

type subscriber struct {
	ch      chan schemas.Event
	pending []schemas.Event
	signal  chan struct{}
	done    chan struct{}
}

// NewHub creates a hub. screenshotsPerSecond <= 0 disables screenshot
// throttling.
func NewHub(screenshotsPerSecond float64) *Hub {
	h := &Hub{
		subs:    make(map[int]*subscriber),
		closeCh: make(chan struct{}),
	}
	if screenshotsPerSecond > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(screenshotsPerSecond), 1)
	}
	return h
}

// Publish appends the event to the history and queues it for every live
// subscriber. Throttled screenshot frames skip live delivery but stay in the
// history. Events published after Close are dropped.
func (h *Hub) Publish(ev schemas.Event) {
	throttled := ev.Type == schemas.EventScreenshot && h.limiter != nil && !h.limiter.Allow()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.history = append(h.history, ev)
	if throttled {
		return
	}
	for _, s := range h.subs {
		s.pending = append(s.pending, ev)
		select {
		case s.signal <- struct{}{}:
		default:
		}
	}
}

// Subscribe returns a channel that first replays the buffered history, then
// carries live events. The channel closes once the hub closes and the
// subscriber has drained everything. The returned cancel function detaches
// the subscriber; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan schemas.Event, func()) {
	s := &subscriber{
		ch:     make(chan schemas.Event, 16),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	// History snapshot and registration happen under one lock acquisition,
	// so no event can be duplicated into or dropped from the replay.
	s.pending = append(s.pending, h.history...)
	id := h.nextID
	h.nextID++
	h.subs[id] = s
	h.mu.Unlock()

	go h.pump(s)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(s.done)
		})
	}
	return s.ch, cancel
}

// pump moves queued events onto the subscriber channel in order.
func (h *Hub) pump(s *subscriber) {
	for {
		h.mu.Lock()
		batch := s.pending
		s.pending = nil
		closed := h.closed
		h.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.ch <- ev:
			case <-s.done:
				return
			}
		}

		if closed {
			if len(batch) == 0 {
				close(s.ch)
				return
			}
			continue
		}

		select {
		case <-s.signal:
		case <-h.closeCh:
		case <-s.done:
			return
		}
	}
}

// Close seals the hub. Subscriber channels close once their replay drains.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	close(h.closeCh)
}

// History returns a copy of everything published so far.
func (h *Hub) History() []schemas.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]schemas.Event, len(h.history))
	copy(out, h.history)
	return out
}
