// Package runner executes the test command under coverage
// instrumentation as a child process.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"
)

// Runner runs a single test invocation with stdio passed through and
// SIGINT/SIGTERM forwarded to the child.
type Runner struct {
	sigChan chan os.Signal
	stdin   *os.File
	stdout  *os.File
	stderr  *os.File
}

func New() *Runner {
	return &Runner{
		sigChan: make(chan os.Signal, 1),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
}

// TestArgs builds the argv for the coverage test run: the runner
// binary, its base arguments, the coverage flags, then any
// pass-through arguments from the command line.
func TestArgs(command string, baseArgs []string, mode, profile string, extra []string) []string {
	argv := make([]string, 0, len(baseArgs)+len(extra)+3)
	argv = append(argv, command)
	argv = append(argv, baseArgs...)
	argv = append(argv, "-covermode="+mode, "-coverprofile="+profile)
	argv = append(argv, extra...)
	return argv
}

// Execute runs argv in dir (empty means inherit) and returns the
// child's exit code. A timeout of zero disables the deadline. Any
// received SIGINT/SIGTERM is forwarded to the child and the child's
// resulting exit status is returned.
func (r *Runner) Execute(ctx context.Context, argv []string, dir string, timeout time.Duration) (int, error) {
	if len(argv) == 0 {
		return -1, errors.New("command is required")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = r.stdin
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	signal.Notify(r.sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(r.sigChan)

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if err := cmd.Process.Kill(); err != nil {
			return -1, fmt.Errorf("failed to kill process: %w", err)
		}
		<-done
		return -1, ctx.Err()
	case sig := <-r.sigChan:
		if err := cmd.Process.Signal(sig); err != nil {
			return -1, fmt.Errorf("failed to forward signal: %w", err)
		}
		err := <-done
		return ExitCode(err), err
	case err := <-done:
		return ExitCode(err), err
	}
}

// ExitCode extracts the child's exit status from a Wait error. It
// returns 0 for nil, the real status for *exec.ExitError, and -1 for
// errors where no child ever ran.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus()
		}
		return 1
	}

	return -1
}
