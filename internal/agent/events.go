// internal/agent/events.go
package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// Observer receives the loop's progress signals. The session runtime
// implements it to fan events into its subscriber hub and trace file.
// Callbacks are invoked from the loop goroutine and must not block for long.
type Observer interface {
	OnLog(level, message string)
	OnScreenshot(image []byte, url string)
	OnIteration(record schemas.IterationRecord)
	OnStateChange(state schemas.SessionState)
}

// ContinuationResolver supplies the next instruction once the current goal
// completes. ok=false means no further instruction will come and the loop
// should finish.
type ContinuationResolver interface {
	AwaitInstruction(ctx context.Context) (instruction string, ok bool)
}

// ConfirmationResolver decides whether a command the model flagged as
// requiring a safety confirmation may run.
type ConfirmationResolver interface {
	Confirm(ctx context.Context, cmd schemas.Command) bool
}

// AutoApprove grants every confirmation request, logging the model's stated
// reason so the decision is auditable.
type AutoApprove struct {
	Logger *zap.Logger
}

var _ ConfirmationResolver = (*AutoApprove)(nil)

func (a *AutoApprove) Confirm(_ context.Context, cmd schemas.Command) bool {
	a.Logger.Info("Auto-approving flagged command",
		zap.String("command", string(cmd.Name)),
		zap.String("reason", cmd.ConfirmationDetail),
	)
	return true
}

// nopObserver lets the loop run without an attached runtime, mainly in tests.
type nopObserver struct{}

func (nopObserver) OnLog(string, string)                {}
func (nopObserver) OnScreenshot([]byte, string)         {}
func (nopObserver) OnIteration(schemas.IterationRecord) {}
func (nopObserver) OnStateChange(schemas.SessionState)  {}
