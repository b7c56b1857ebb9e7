package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// DefaultMaxConcurrent caps the number of actions running at once.
const DefaultMaxConcurrent = 4

// ShellOption configures a [ShellRunner].
type ShellOption func(*ShellRunner)

// WithShell sets the interpreter invoked as "<shell> -c <command>".
// Defaults to "sh".
func WithShell(shell string) ShellOption {
	return func(r *ShellRunner) { r.shell = shell }
}

// WithTimeout kills actions still running after d. Zero leaves them alone.
func WithTimeout(d time.Duration) ShellOption {
	return func(r *ShellRunner) { r.timeout = d }
}

// WithMaxConcurrent sets the concurrency cap.
func WithMaxConcurrent(n int) ShellOption {
	return func(r *ShellRunner) { r.maxConcurrent = n }
}

// WithOutput sends action stdout and stderr to the given writers. By default
// stdout is discarded and stderr goes to the process's stderr.
func WithOutput(stdout, stderr io.Writer) ShellOption {
	return func(r *ShellRunner) { r.stdout, r.stderr = stdout, stderr }
}

// ShellRunner runs commands through a shell in the background.
type ShellRunner struct {
	shell         string
	timeout       time.Duration
	maxConcurrent int
	stdout        io.Writer
	stderr        io.Writer

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewShellRunner returns a ShellRunner.
func NewShellRunner(opts ...ShellOption) *ShellRunner {
	r := &ShellRunner{
		shell:         "sh",
		maxConcurrent: DefaultMaxConcurrent,
		stderr:        os.Stderr,
	}
	for _, o := range opts {
		o(r)
	}
	if r.maxConcurrent <= 0 {
		r.maxConcurrent = DefaultMaxConcurrent
	}
	r.slots = make(chan struct{}, r.maxConcurrent)
	return r
}

// Run starts command and returns once the process is spawned. The process
// is not tied to ctx: shutting the pipeline down does not kill actions it
// already started.
func (r *ShellRunner) Run(_ context.Context, command string) error {
	select {
	case r.slots <- struct{}{}:
	default:
		return ErrBusy
	}

	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		cancel()
		<-r.slots
		return fmt.Errorf("start %s: %w", r.shell, err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.slots }()
		defer cancel()

		start := time.Now()
		err := cmd.Wait()
		log := slog.With("command", command, "pid", cmd.Process.Pid, "elapsed", time.Since(start))
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			log.Debug("action finished")
		case ctx.Err() == context.DeadlineExceeded:
			log.Warn("action killed after timeout", "timeout", r.timeout)
		case errors.As(err, &exitErr):
			log.Warn("action exited with error", "exit_code", exitErr.ExitCode())
		default:
			log.Warn("action failed", "err", err)
		}
	}()
	return nil
}

// Running returns the number of actions still in progress.
func (r *ShellRunner) Running() int { return len(r.slots) }

// Wait blocks until every started action has exited or ctx is done.
func (r *ShellRunner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
