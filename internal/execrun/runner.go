// Package execrun runs config-declared executables for commands and
// background units. The input document is written to stdin as JSON and the
// program's stdout must be a single JSON value (or empty).
package execrun

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/courier/internal/log"
)

const (
	// maxStderrBytes caps the amount of stderr captured per run.
	maxStderrBytes = 64 * 1024

	// DefaultTimeout applies when a Spec carries none.
	DefaultTimeout = 60 * time.Second

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// ErrTimeout is returned when a run exceeds its Spec.Timeout.
var ErrTimeout = errors.New("execution timed out")

// Spec describes one executable.
type Spec struct {
	Path    string
	Args    []string
	Env     []string // appended to the courier process environment
	Dir     string
	Timeout time.Duration
}

// Input is the JSON document written to the program's stdin.
type Input struct {
	Kind         string         `json:"kind"` // "command" or "unit"
	Name         string         `json:"name"`
	Identity     string         `json:"identity,omitempty"`
	Version      int            `json:"version,omitempty"`
	ActivationID string         `json:"activation_id,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
}

// Result is a completed run.
type Result struct {
	Output json.RawMessage
	Stderr string
}

// ExitError reports a non-zero exit status.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("exit status %d: %s", e.Code, lastLine(e.Stderr))
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Runner spawns subprocesses. The zero value is not usable; call New.
type Runner struct {
	logger *slog.Logger
	grace  time.Duration
}

func New() *Runner {
	return &Runner{
		logger: log.WithComponent("execrun"),
		grace:  terminationGracePeriod,
	}
}

// Run executes spec with input on stdin. On timeout or context cancellation
// the process gets SIGTERM, then SIGKILL after the grace period.
func (r *Runner) Run(ctx context.Context, spec Spec, input Input) (*Result, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("exec path is empty")
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	logger := r.logger.With("path", spec.Path, "name", input.Name)

	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Termination is managed here rather than by CommandContext so the
	// process gets a SIGTERM grace period.
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stdin = bytes.NewReader(payload)
	// Bounds the pipe drain when a grandchild keeps stdout open.
	cmd.WaitDelay = r.grace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning process", "timeout", timeout)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var stopCause error
	select {
	case err := <-waitErr:
		return r.finish(logger, err, stdout.Bytes(), truncateStderr(stderr.String()))
	case <-timeoutTimer.C:
		stopCause = ErrTimeout
		logger.Warn("process timed out, sending SIGTERM")
	case <-ctx.Done():
		stopCause = ctx.Err()
		logger.Info("run cancelled, sending SIGTERM")
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Debug("failed to send SIGTERM", "error", err)
	}
	grace := time.NewTimer(r.grace)
	defer grace.Stop()
	select {
	case <-waitErr:
	case <-grace.C:
		logger.Warn("process did not exit after SIGTERM, sending SIGKILL")
		if err := cmd.Process.Kill(); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
	return &Result{Stderr: truncateStderr(stderr.String())}, stopCause
}

func (r *Runner) finish(logger *slog.Logger, waitErr error, out []byte, stderr string) (*Result, error) {
	res := &Result{Stderr: stderr}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			logger.Warn("process exited with non-zero status", "exit_code", exitErr.ExitCode())
			return res, &ExitError{Code: exitErr.ExitCode(), Stderr: stderr}
		}
		return res, fmt.Errorf("wait for process: %w", waitErr)
	}

	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return res, nil
	}
	if !json.Valid(out) {
		logger.Error("process wrote invalid JSON", "stdout", string(out))
		return res, fmt.Errorf("decode output: stdout is not a JSON value")
	}
	res.Output = json.RawMessage(out)
	return res, nil
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
