// internal/agent/loop.go
// Package agent couples the reasoning model to the browser: it maintains the
// conversation history, turns model function calls into executed commands,
// and reports progress to an observer.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
)

// CommandExecutor runs one validated command and returns the settled
// environment state.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd schemas.Command) (*schemas.EnvironmentState, error)
}

// Deps carries the loop's collaborators. Observer, Confirmations and
// Continuations are optional; missing ones get inert defaults.
type Deps struct {
	Client        ReasoningClient
	Executor      CommandExecutor
	Observer      Observer
	Confirmations ConfirmationResolver
	Continuations ContinuationResolver
	Config        config.AgentConfig
	Logger        *zap.Logger
}

// Loop is the per-session agent state machine. Not safe for concurrent use;
// exactly one goroutine drives Run.
type Loop struct {
	client   ReasoningClient
	executor CommandExecutor
	observer Observer
	confirm  ConfirmationResolver
	resume   ContinuationResolver
	cfg      config.AgentConfig
	logger   *zap.Logger

	history []*genai.Content
}

func NewLoop(deps Deps) *Loop {
	logger := deps.Logger.Named("agent")

	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	confirm := deps.Confirmations
	if confirm == nil {
		confirm = &AutoApprove{Logger: logger}
	}

	return &Loop{
		client:   deps.Client,
		executor: deps.Executor,
		observer: observer,
		confirm:  confirm,
		resume:   deps.Continuations,
		cfg:      deps.Config,
		logger:   logger,
	}
}

// Run drives the loop until the goal (and any follow-up goals) complete, the
// context is canceled, or an unrecoverable error occurs. A non-empty startURL
// is navigated to before the first observation so the model opens on the
// target page instead of a blank tab.
func (l *Loop) Run(ctx context.Context, goal, startURL string) error {
	l.observer.OnStateChange(schemas.StateRunning)
	l.observer.OnLog("info", "Goal received: "+goal)

	opening := schemas.Command{Name: schemas.CommandOpenBrowser}
	if startURL != "" {
		opening = schemas.Command{Name: schemas.CommandNavigate, URL: startURL}
	}
	state, err := l.executor.Execute(ctx, opening)
	if err != nil {
		err = fmt.Errorf("initial observation failed: %w", err)
		l.fail(ctx, err)
		return err
	}
	l.publish(state)
	l.history = append(l.history, userGoalTurn(goal, state))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := l.iterate(ctx)
		if err != nil {
			l.fail(ctx, err)
			return err
		}
		if !done {
			continue
		}

		// The goal finished. Block until the session delivers a follow-up
		// instruction or declines to.
		l.observer.OnStateChange(schemas.StateAwaitingInput)
		instruction, ok := l.awaitInstruction(ctx)
		if !ok {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.observer.OnStateChange(schemas.StateCompleted)
			return nil
		}

		l.observer.OnStateChange(schemas.StateRunning)
		l.observer.OnLog("info", "Follow-up goal received: "+instruction)

		state, err := l.executor.Execute(ctx, schemas.Command{Name: schemas.CommandOpenBrowser})
		if err != nil {
			err = fmt.Errorf("observation for follow-up goal failed: %w", err)
			l.fail(ctx, err)
			return err
		}
		l.publish(state)
		l.history = append(l.history, userGoalTurn(instruction, state))
	}
}

// iterate performs one model turn plus the execution of whatever commands it
// requested. done=true means the model considers the current goal complete.
func (l *Loop) iterate(ctx context.Context) (done bool, err error) {
	resp, err := l.client.Generate(ctx, l.history)
	if err != nil {
		return false, fmt.Errorf("model turn failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return false, fmt.Errorf("model turn failed: response carried no candidates")
	}

	cand := resp.Candidates[0]
	if cand.Content != nil {
		l.history = append(l.history, cand.Content)
	}

	thoughts, calls := splitModelTurn(cand.Content)
	if thoughts != "" {
		l.observer.OnLog("info", thoughts)
	}

	if len(calls) == 0 {
		if cand.FinishReason == genai.FinishReasonMalformedFunctionCall {
			// The model produced an unparseable call. Re-asking with the
			// unchanged history is usually enough to recover.
			l.logger.Warn("Malformed function call from model, retrying turn.")
			return false, nil
		}
		// No action requested: the model is reporting completion. Its final
		// reasoning went out verbatim through OnLog above.
		l.observer.OnIteration(schemas.IterationRecord{Timestamp: time.Now(), Thoughts: thoughts})
		return true, nil
	}

	record := schemas.IterationRecord{Timestamp: time.Now(), Thoughts: thoughts}
	defer func() {
		pruneHistory(l.history, l.cfg.MaxRecentImages)
		l.observer.OnIteration(record)
	}()

	for _, call := range calls {
		cmd, parseErr := schemas.ParseCommand(call.Name, call.Args)
		if parseErr != nil {
			// An invalid command aborts the rest of this iteration but never
			// the loop; the model sees the rejection and replans.
			l.observer.OnLog("warn", fmt.Sprintf("Rejected command %s: %v", call.Name, parseErr))
			l.history = append(l.history, errorResponseTurn(call.Name, parseErr))
			return false, nil
		}
		record.Commands = append(record.Commands, cmd)

		if cmd.RequiresConfirmation && !l.confirm.Confirm(ctx, cmd) {
			l.observer.OnLog("warn", "Confirmation denied for "+string(cmd.Name)+"; ending goal.")
			return true, nil
		}

		state, execErr := l.executor.Execute(ctx, cmd)
		if execErr != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			l.observer.OnLog("error", fmt.Sprintf("Command %s failed: %v", cmd.Name, execErr))
			l.history = append(l.history, errorResponseTurn(string(cmd.Name), execErr))
			return false, nil
		}

		l.publish(state)
		l.history = append(l.history, functionResponseTurn(string(cmd.Name), state))
	}

	return false, nil
}

func (l *Loop) awaitInstruction(ctx context.Context) (string, bool) {
	if l.resume == nil {
		return "", false
	}
	return l.resume.AwaitInstruction(ctx)
}

func (l *Loop) publish(state *schemas.EnvironmentState) {
	if state == nil {
		return
	}
	l.observer.OnScreenshot(state.Screenshot, state.URL)
}

// fail reports an unrecoverable error, unless the loop was simply canceled.
func (l *Loop) fail(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return
	}
	l.logger.Error("Agent loop failed.", zap.Error(err))
	l.observer.OnLog("error", err.Error())
	l.observer.OnStateChange(schemas.StateError)
}

// splitModelTurn separates a model turn into its visible reasoning text and
// its requested function calls.
func splitModelTurn(c *genai.Content) (string, []*genai.FunctionCall) {
	if c == nil {
		return "", nil
	}

	var sb strings.Builder
	var calls []*genai.FunctionCall
	for _, p := range c.Parts {
		if p == nil {
			continue
		}
		if p.Text != "" && !p.Thought {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(p.Text)
		}
		if p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return sb.String(), calls
}
