// internal/session/registry.go
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/agent"
	"github.com/xkilldash9x/webpilot-cli/internal/browser"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
	"github.com/xkilldash9x/webpilot-cli/internal/executor"
)

// ErrSessionNotFound is returned for lookups of unknown or purged sessions.
var ErrSessionNotFound = fmt.Errorf("session not found")

// Registry owns the live session set: creation, lookup, message routing,
// idle expiry, and post-completion purging.
type Registry struct {
	cfg     *config.Config
	factory Factory
	logger  *zap.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	grp        *errgroup.Group

	janitorStop chan struct{}
	stopOnce    sync.Once

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry and starts its janitor. factory may be nil,
// in which case the production browser+model factory is used.
func NewRegistry(cfg *config.Config, factory Factory, logger *zap.Logger) *Registry {
	if factory == nil {
		factory = &productionFactory{cfg: cfg}
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:         cfg,
		factory:     factory,
		logger:      logger.Named("registry"),
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		grp:         &errgroup.Group{},
		janitorStop: make(chan struct{}),
		sessions:    make(map[string]*Session),
	}

	r.grp.Go(r.janitor)
	return r
}

// Create registers and starts a new session for the goal, returning it in
// the running state. A non-empty startURL is opened before the first
// observation.
func (r *Registry) Create(goal, startURL string) (*Session, error) {
	if goal == "" {
		return nil, fmt.Errorf("session goal must not be empty")
	}

	id := uuid.NewString()
	s := NewSession(id, goal, startURL, r.cfg.Session, r.factory, r.logger)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	s.Start(r.baseCtx)
	r.logger.Info("Session created.", zap.String("session_id", id))

	// Purge the record a grace period after the session winds down, so late
	// subscribers can still replay its history. Purging also releases a
	// browser a failed session left open for inspection.
	r.grp.Go(func() error {
		<-s.Done()
		select {
		case <-time.After(r.cfg.Session.PurgeGrace):
		case <-r.janitorStop:
		}
		r.remove(id)
		s.releaseBrowser()
		return nil
	})

	return s, nil
}

// Get looks up a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns the live sessions in no particular order.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Continue routes a follow-up instruction to a session.
func (r *Registry) Continue(id, instruction string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Continue(instruction)
}

// Terminate requests shutdown of a session. The record remains readable
// until the purge grace elapses.
func (r *Registry) Terminate(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.Terminate()
	return nil
}

// Subscribe attaches an event stream to a session.
func (r *Registry) Subscribe(id string) (<-chan schemas.Event, func(), error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.Subscribe()
	return ch, cancel, nil
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	r.logger.Debug("Session purged.", zap.String("session_id", id))
}

// janitor terminates sessions that have been idle past the configured
// timeout.
func (r *Registry) janitor() error {
	interval := r.cfg.Session.IdleTimeout / 10
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.janitorStop:
			return nil
		case <-ticker.C:
			r.expireIdle()
		}
	}
}

func (r *Registry) expireIdle() {
	cutoff := time.Now().Add(-r.cfg.Session.IdleTimeout)
	for _, s := range r.List() {
		select {
		case <-s.Done():
			continue
		default:
		}
		if s.LastActivity().Before(cutoff) {
			r.logger.Info("Terminating idle session.",
				zap.String("session_id", s.ID),
				zap.Time("last_activity", s.LastActivity()),
			)
			s.Terminate()
		}
	}
}

// Shutdown terminates every session and waits for them to wind down, bounded
// by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.stopOnce.Do(func() {
		close(r.janitorStop)
		for _, s := range r.List() {
			s.Terminate()
		}
		r.baseCancel()
	})

	done := make(chan struct{})
	go func() {
		_ = r.grp.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registry shutdown timed out: %w", ctx.Err())
	}
}

// productionFactory assembles the real browser driver, executor, and Gemini
// client for a session.
type productionFactory struct {
	cfg *config.Config
}

var _ Factory = (*productionFactory)(nil)

func (f *productionFactory) Build(ctx context.Context, observer agent.Observer, continuations agent.ContinuationResolver, logger *zap.Logger) (runner, browserHandle, error) {
	drv := browser.NewDriver(f.cfg.Browser, logger)
	if err := drv.Start(ctx); err != nil {
		return nil, nil, err
	}

	client, err := agent.NewGeminiClient(ctx, f.cfg.Agent, logger)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = drv.Stop(stopCtx)
		return nil, nil, err
	}

	loop := agent.NewLoop(agent.Deps{
		Client:        client,
		Executor:      executor.New(drv, logger),
		Observer:      observer,
		Continuations: continuations,
		Config:        f.cfg.Agent,
		Logger:        logger,
	})
	return loop, drv, nil
}
