// Package keyword invokes the external full-text backend as a subprocess.
package keyword

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// CommandSearcher shells out to a line-oriented search CLI (recoll by
// default). The backend is a black box: any invocation failure yields an
// empty result list plus a logged warning, never an error that aborts the
// query engine.
type CommandSearcher struct {
	command string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommandSearcher creates a searcher invoking command with args
// followed by the query string.
func NewCommandSearcher(command string, args []string, timeout time.Duration, logger *slog.Logger) *CommandSearcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSearcher{
		command: command,
		args:    args,
		timeout: timeout,
		logger:  logger,
	}
}

// Search runs the backend and returns its stdout split into lines.
func (s *CommandSearcher) Search(ctx context.Context, query string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := append(append([]string(nil), s.args...), query)
	cmd := exec.CommandContext(ctx, s.command, args...)

	out, err := cmd.Output()
	if err != nil {
		s.logger.Warn("keyword backend invocation failed",
			"command", s.command,
			"error", err,
		)
		return nil, nil
	}

	raw := strings.TrimSpace(string(out))
	if raw == "" {
		return nil, nil
	}
	return strings.Split(raw, "\n"), nil
}
