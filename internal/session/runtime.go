// internal/session/runtime.go
// Package session hosts task sessions: each one owns a browser, an agent
// loop, and an outbound event stream, driven by a single goroutine.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/agent"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// runner is the agent loop surface the session drives.
type runner interface {
	Run(ctx context.Context, goal, startURL string) error
}

// browserHandle is the part of the browser driver the session tears down.
type browserHandle interface {
	Stop(ctx context.Context) error
}

// Factory assembles the per-session collaborators. The production factory
// lives in the registry; tests substitute their own.
type Factory interface {
	Build(ctx context.Context, observer agent.Observer, continuations agent.ContinuationResolver, logger *zap.Logger) (runner, browserHandle, error)
}

// Session is one task session. Exactly one goroutine (run) drives its loop;
// all other methods are safe to call from any goroutine.
type Session struct {
	ID        string
	Goal      string
	StartURL  string
	CreatedAt time.Time

	cfg     config.SessionConfig
	factory Factory
	logger  *zap.Logger

	hub   *Hub
	trace *Trace

	inbound chan string

	cancel     context.CancelFunc
	done       chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
	terminated atomic.Bool

	mu           sync.Mutex
	handle       browserHandle
	state        schemas.SessionState
	lastActivity time.Time
	finishedAt   time.Time
}

// NewSession constructs a session without starting it.
func NewSession(id, goal, startURL string, cfg config.SessionConfig, factory Factory, logger *zap.Logger) *Session {
	now := time.Now()
	sessionLogger := logger.Named("session").With(zap.String("session_id", id))
	return &Session{
		ID:        id,
		Goal:      goal,
		StartURL:  startURL,
		CreatedAt: now,
		cfg:       cfg,
		factory:   factory,
		logger:    sessionLogger,
		hub:       NewHub(cfg.ScreenshotPerSecond),
		trace:     NewTrace(cfg.TraceDir, startURL, goal, now, sessionLogger),
		inbound:   make(chan string),
		done:      make(chan struct{}),

		state:        schemas.StateRunning,
		lastActivity: now,
	}
}

// Start launches the session goroutine. Subsequent calls are no-ops.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()
		go func() {
			defer cancel()
			s.run(runCtx)
		}()
	})
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.hub.Close()
	defer s.trace.Close()

	s.logger.Info("Session starting.", zap.String("goal", s.Goal))

	loop, handle, err := s.factory.Build(ctx, s, s, s.logger)
	if err != nil {
		s.logger.Error("Session startup failed.", zap.Error(err))
		s.OnLog("error", "session startup failed: "+err.Error())
		s.OnStateChange(schemas.StateError)
		s.markFinished()
		return
	}

	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()

	err = loop.Run(ctx, s.Goal, s.StartURL)
	switch {
	case s.terminated.Load() || errors.Is(err, context.Canceled):
		s.OnStateChange(schemas.StateTerminated)
		s.logger.Info("Session terminated.")
		s.releaseBrowser()
	case err != nil:
		// The loop already published the error state and detail. The browser
		// stays open so a human can inspect the page; termination or the
		// registry purge releases it.
		s.logger.Error("Session ended with error, browser left open.", zap.Error(err))
	default:
		s.logger.Info("Session completed.")
		s.releaseBrowser()
	}
	s.markFinished()
}

// releaseBrowser tears the browser down exactly once. Safe to call from any
// goroutine, including after the session goroutine has ended.
func (s *Session) releaseBrowser() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		handle := s.handle
		s.mu.Unlock()
		if handle == nil {
			return
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := handle.Stop(stopCtx); err != nil {
			s.logger.Warn("Browser teardown reported an error.", zap.Error(err))
		}
	})
}

// Continue delivers a follow-up instruction. It succeeds only while the loop
// is blocked waiting for input.
func (s *Session) Continue(instruction string) error {
	select {
	case s.inbound <- instruction:
		return nil
	case <-s.done:
		return fmt.Errorf("session %s has ended", s.ID)
	default:
		return fmt.Errorf("session %s is not awaiting input", s.ID)
	}
}

// Terminate requests shutdown. In-flight work is interrupted; the browser is
// released by the session goroutine. Idempotent.
func (s *Session) Terminate() {
	if s.terminated.Swap(true) {
		return
	}
	s.logger.Info("Termination requested.")
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	// If the loop already ended (for example with the browser left open
	// after an error), release it once the goroutine is fully down.
	go func() {
		<-s.done
		s.releaseBrowser()
	}()
}

// Subscribe attaches an event stream: full history replay, then live events.
func (s *Session) Subscribe() (<-chan schemas.Event, func()) {
	return s.hub.Subscribe()
}

// Done closes when the session goroutine has fully wound down.
func (s *Session) Done() <-chan struct{} { return s.done }

// State reports the current lifecycle state.
func (s *Session) State() schemas.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity reports when the session last made observable progress.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// FinishedAt reports when the session ended, or the zero time while live.
func (s *Session) FinishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) markFinished() {
	s.mu.Lock()
	s.finishedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) publish(ev schemas.Event) {
	ev.Timestamp = time.Now()
	s.trace.Record(ev)
	s.hub.Publish(ev)
}

// -- agent.Observer --

func (s *Session) OnLog(level, message string) {
	s.touch()
	s.publish(schemas.Event{Type: schemas.EventLog, Level: level, Content: message})
}

func (s *Session) OnScreenshot(image []byte, url string) {
	s.touch()
	s.publish(schemas.Event{
		Type:        schemas.EventScreenshot,
		ImageBase64: base64.StdEncoding.EncodeToString(image),
	})
	if url != "" {
		s.publish(schemas.Event{Type: schemas.EventLog, Level: "debug", Content: "page: " + url})
	}
}

func (s *Session) OnIteration(record schemas.IterationRecord) {
	s.touch()
	s.publish(schemas.Event{Type: schemas.EventIteration, Iteration: &record})
}

func (s *Session) OnStateChange(state schemas.SessionState) {
	s.mu.Lock()
	s.state = state
	s.lastActivity = time.Now()
	s.mu.Unlock()
	s.publish(schemas.Event{Type: schemas.EventState, State: state})
}

// -- agent.ContinuationResolver --

// AwaitInstruction blocks until a follow-up arrives over the inbound channel
// or the session is asked to end.
func (s *Session) AwaitInstruction(ctx context.Context) (string, bool) {
	s.touch()
	select {
	case <-ctx.Done():
		return "", false
	case instruction := <-s.inbound:
		s.touch()
		return instruction, true
	}
}

var (
	_ agent.Observer             = (*Session)(nil)
	_ agent.ContinuationResolver = (*Session)(nil)
)
