// -- cmd/run.go --
package cmd

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
	"github.com/xkilldash9x/webpilot-cli/internal/config"
	"github.com/xkilldash9x/webpilot-cli/internal/observability"
	"github.com/xkilldash9x/webpilot-cli/internal/session"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [goal...]",
		Short: "Runs a browsing task and streams its progress",
		Long: `Starts a task session: the model observes the page through screenshots,
issues browser actions, and reports its reasoning. While the session waits
between goals, lines read from stdin are delivered as follow-up instructions.`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("browser.cdp_address", cmd.Flags().Lookup("cdp-address")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.model", cmd.Flags().Lookup("model")); err != nil {
				return err
			}
			return viper.BindPFlag("browser.show_action_marker", cmd.Flags().Lookup("show-marker"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			var cfg config.Config
			if err := viper.Unmarshal(&cfg); err != nil {
				return fmt.Errorf("failed to unmarshal config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			frameDir, _ := cmd.Flags().GetString("frames")
			startURL, _ := cmd.Flags().GetString("url")

			registry := session.NewRegistry(&cfg, nil, logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := registry.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Registry shutdown incomplete.", zap.Error(err))
				}
			}()

			goal := strings.Join(args, " ")
			s, err := registry.Create(goal, startURL)
			if err != nil {
				return err
			}
			logger.Info("Session started", zap.String("session_id", s.ID))

			events, cancelSub, err := registry.Subscribe(s.ID)
			if err != nil {
				return err
			}
			defer cancelSub()

			go forwardStdin(cmd.InOrStdin(), registry, s.ID)

			return renderEvents(ctx, cmd.OutOrStdout(), registry, s, events, frameDir)
		},
	}

	runCmd.Flags().String("url", "", "page to open before the first observation")
	runCmd.Flags().String("cdp-address", "", "CDP websocket address of a debuggable browser")
	runCmd.Flags().String("model", "", "reasoning model to drive the session with")
	runCmd.Flags().Bool("show-marker", false, "draw a visible marker where actions land")
	runCmd.Flags().String("frames", "", "directory to save screenshot frames into")

	return runCmd
}

// forwardStdin delivers each non-empty stdin line as a follow-up instruction.
func forwardStdin(in io.Reader, registry *session.Registry, id string) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := registry.Continue(id, line); err != nil {
			fmt.Fprintf(os.Stderr, "could not deliver instruction: %v\n", err)
		}
	}
}

// renderEvents prints the session's event stream until it ends. A canceled
// context (Ctrl-C) terminates the session and drains the remaining events.
func renderEvents(ctx context.Context, out io.Writer, registry *session.Registry, s *session.Session, events <-chan schemas.Event, frameDir string) error {
	interrupt := ctx.Done()
	frame := 0

	for {
		select {
		case <-interrupt:
			interrupt = nil
			fmt.Fprintln(out, "interrupt received, terminating session...")
			_ = registry.Terminate(s.ID)

		case ev, ok := <-events:
			if !ok {
				switch s.State() {
				case schemas.StateError:
					return fmt.Errorf("session ended with error")
				default:
					return nil
				}
			}

			switch ev.Type {
			case schemas.EventLog:
				if ev.Level == "debug" {
					continue
				}
				fmt.Fprintf(out, "[%s] %s\n", ev.Level, ev.Content)
			case schemas.EventState:
				fmt.Fprintf(out, "== session %s ==\n", ev.State)
				if ev.State == schemas.StateAwaitingInput {
					fmt.Fprintln(out, "enter a follow-up instruction, or Ctrl-C to finish:")
				}
			case schemas.EventIteration:
				if ev.Iteration == nil {
					continue
				}
				for _, c := range ev.Iteration.Commands {
					fmt.Fprintf(out, "  -> %s\n", describeCommand(c))
				}
			case schemas.EventScreenshot:
				if frameDir == "" {
					continue
				}
				frame++
				if err := saveFrame(frameDir, frame, ev.ImageBase64); err != nil {
					fmt.Fprintf(os.Stderr, "could not save frame: %v\n", err)
				}
			}
		}
	}
}

func saveFrame(dir string, n int, imageBase64 string) error {
	data, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("frame-%04d.png", n)), data, 0o644)
}

func describeCommand(c schemas.Command) string {
	switch c.Name {
	case schemas.CommandClickAt, schemas.CommandHoverAt:
		return fmt.Sprintf("%s (%d,%d)", c.Name, c.X, c.Y)
	case schemas.CommandTypeTextAt:
		return fmt.Sprintf("%s (%d,%d) %q", c.Name, c.X, c.Y, c.Text)
	case schemas.CommandScrollDocument:
		return fmt.Sprintf("%s %s", c.Name, c.Direction)
	case schemas.CommandScrollAt:
		return fmt.Sprintf("%s (%d,%d) %s by %d", c.Name, c.X, c.Y, c.Direction, c.Magnitude)
	case schemas.CommandNavigate:
		return fmt.Sprintf("%s %s", c.Name, c.URL)
	case schemas.CommandKeyCombination:
		return fmt.Sprintf("%s %s", c.Name, strings.Join(c.Keys, "+"))
	case schemas.CommandDragAndDrop:
		return fmt.Sprintf("%s (%d,%d) -> (%d,%d)", c.Name, c.X, c.Y, c.DestX, c.DestY)
	default:
		return string(c.Name)
	}
}
