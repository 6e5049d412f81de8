// internal/session/trace.go
package session

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot-cli/api/schemas"
)

// Trace is a session's append-only on-disk activity record. Write failures
// are logged and swallowed; tracing must never disturb the session itself.
type Trace struct {
	mu     sync.Mutex
	file   *os.File
	logger *zap.Logger
}

// NewTrace opens the trace file for a session, named after the session's
// target domain and start time. A nil Trace is returned on failure so
// callers can use it unconditionally.
func NewTrace(dir, startURL, goal string, start time.Time, logger *zap.Logger) *Trace {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("Could not create trace directory; tracing disabled.", zap.Error(err))
		return nil
	}

	name := fmt.Sprintf("%s-%s.log", traceDomain(startURL, goal), start.UTC().Format("20060102-150405"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warn("Could not open trace file; tracing disabled.", zap.Error(err))
		return nil
	}

	return &Trace{file: f, logger: logger}
}

// Record appends one event line. Screenshot payloads are summarized, not
// embedded.
func (t *Trace) Record(ev schemas.Event) {
	if t == nil {
		return
	}

	var detail string
	switch ev.Type {
	case schemas.EventLog:
		detail = fmt.Sprintf("[%s] %s", ev.Level, ev.Content)
	case schemas.EventScreenshot:
		detail = fmt.Sprintf("screenshot %d bytes", len(ev.ImageBase64))
	case schemas.EventState:
		detail = string(ev.State)
	case schemas.EventIteration:
		if ev.Iteration != nil {
			detail = fmt.Sprintf("%d command(s): %s", len(ev.Iteration.Commands), ev.Iteration.Thoughts)
		}
	}

	line := fmt.Sprintf("%s %-10s %s\n", ev.Timestamp.UTC().Format(time.RFC3339), ev.Type, detail)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.file.WriteString(line); err != nil {
		t.logger.Warn("Trace write failed.", zap.Error(err))
	}
}

// Close flushes and closes the underlying file.
func (t *Trace) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.file.Close(); err != nil {
		t.logger.Warn("Trace close failed.", zap.Error(err))
	}
}

// traceDomain names the trace after the start URL's host when one was given,
// otherwise after the first URL mentioned in the goal text.
func traceDomain(startURL, goal string) string {
	if startURL != "" {
		raw := startURL
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			return sanitizeHost(u.Hostname())
		}
	}
	return goalDomain(goal)
}

// goalDomain extracts a filesystem-safe domain from the first URL mentioned
// in the goal, falling back to "session".
func goalDomain(goal string) string {
	for _, tok := range strings.Fields(goal) {
		if !strings.Contains(tok, "://") && !strings.HasPrefix(tok, "www.") {
			continue
		}
		raw := tok
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			return sanitizeHost(u.Hostname())
		}
	}
	return "session"
}

func sanitizeHost(host string) string {
	var sb strings.Builder
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			sb.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			sb.WriteRune(r + ('a' - 'A'))
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
