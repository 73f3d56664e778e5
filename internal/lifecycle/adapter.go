package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fyrsmithlabs/delegated/internal/resilience"
)

// Adapter contacts one external delegate. It receives content the gate
// has already sanitized and a timeout-scale factor that grows after
// timeout failures; how it reaches the delegate process is its business.
type Adapter interface {
	Call(ctx context.Context, task string, timeoutScale float64) resilience.AttemptResult
}

// stderrExcerptLen bounds how much delegate stderr is carried into an
// error message.
const stderrExcerptLen = 500

// CommandAdapter runs a delegate as a subprocess: argv with the task on
// stdin, stdout captured as the payload.
type CommandAdapter struct {
	argv        []string
	baseTimeout time.Duration
}

// NewCommandAdapter creates an adapter for the given argv. baseTimeout
// is the per-attempt deadline before scaling; zero means 5 minutes.
func NewCommandAdapter(argv []string, baseTimeout time.Duration) (*CommandAdapter, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("command adapter requires at least one argv element")
	}
	if baseTimeout <= 0 {
		baseTimeout = 5 * time.Minute
	}
	return &CommandAdapter{argv: argv, baseTimeout: baseTimeout}, nil
}

// Call implements Adapter. A hit on the scaled deadline is reported as a
// timeout failure so the retry loop grows the scale; a missing binary is
// permanent.
func (a *CommandAdapter) Call(ctx context.Context, task string, timeoutScale float64) resilience.AttemptResult {
	if timeoutScale <= 0 {
		timeoutScale = 1.0
	}
	timeout := time.Duration(float64(a.baseTimeout) * timeoutScale)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.argv[0], a.argv[1:]...)
	cmd.Stdin = strings.NewReader(task)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return resilience.AttemptResult{Success: true, Payload: stdout.String()}
	}

	if ctx.Err() == context.DeadlineExceeded {
		return resilience.AttemptResult{
			Error: fmt.Sprintf("timeout after %s: %s", timeout, excerpt(stderr.String())),
			Kind:  resilience.KindTimeout,
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return resilience.AttemptResult{
			Error:      fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), excerpt(stderr.String())),
			Returncode: exitErr.ExitCode(),
		}
	}

	// Start failures (binary missing, not executable) are permanent.
	return resilience.AttemptResult{
		Error: err.Error(),
		Kind:  resilience.KindPermanent,
	}
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrExcerptLen {
		s = s[:stderrExcerptLen]
	}
	return s
}
