package encoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long a stopped encoder may take to exit before
// it is killed.
const DefaultGracePeriod = 3 * time.Second

const logTailLines = 20

// EncoderError is a failed conversion with the captured output context.
type EncoderError struct {
	ExitCode int      `json:"exitCode"`
	Message  string   `json:"message"`
	Log      []string `json:"log,omitempty"`
	Err      error    `json:"-"`
}

// Error formats the failure the way it is shown to users.
func (e *EncoderError) Error() string {
	if e == nil {
		return ""
	}
	return "Conversion Library has Failed with Error: " + e.Message
}

// Unwrap exposes the process error for errors.Is / errors.As.
func (e *EncoderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Runner executes one encoder command, delivering every output line.
type Runner interface {
	Run(ctx context.Context, cmd Command, onLine func(line string)) error
}

// ExecRunner runs commands through os/exec with merged stdout and stderr.
type ExecRunner struct {
	GracePeriod time.Duration
}

// NewExecRunner creates a runner with DefaultGracePeriod.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{GracePeriod: DefaultGracePeriod}
}

// Run starts the process and blocks until it has exited and all output has
// been delivered. Cancelling ctx sends stopSignal and kills the process once
// the grace period elapses.
func (r *ExecRunner) Run(ctx context.Context, command Command, onLine func(line string)) error {
	cmd := exec.CommandContext(ctx, command.Name, command.Args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(stopSignal(runtime.GOOS))
	}
	cmd.WaitDelay = r.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGracePeriod
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(scanOutputLines)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			if onLine != nil {
				onLine(line)
			}
		}
		_, _ = io.Copy(io.Discard, pr)
	}()

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		<-done
		return fmt.Errorf("start %s: %w", command.Name, err)
	}
	err := cmd.Wait()
	_ = pw.Close()
	<-done
	return err
}

// Execute runs cmd through r, feeding output to parser and onProgress, and
// classifies the outcome. A cancelled ctx yields ctx.Err(); a nonzero exit
// or a detected library error yields *EncoderError.
func Execute(ctx context.Context, r Runner, cmd Command, parser *TimeParser, onProgress func(Progress)) error {
	tail := make([]string, 0, logTailLines)
	runErr := r.Run(ctx, cmd, func(line string) {
		if len(tail) == logTailLines {
			tail = append(tail[:0], tail[1:]...)
		}
		tail = append(tail, strings.TrimSpace(line))
		if p, ok := parser.Parse(line); ok && onProgress != nil {
			onProgress(p)
		}
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}

	libErr := parser.LibraryError()
	if runErr == nil && libErr == "" {
		return nil
	}

	encErr := &EncoderError{ExitCode: -1, Log: tail, Err: runErr}
	var existing *EncoderError
	var coder interface{ ExitCode() int }
	switch {
	case errors.As(runErr, &existing):
		encErr.ExitCode = existing.ExitCode
		encErr.Message = existing.Message
	case errors.As(runErr, &coder):
		encErr.ExitCode = coder.ExitCode()
	case runErr == nil:
		encErr.ExitCode = 0
	}

	switch {
	case libErr != "":
		encErr.Message = libErr
	case encErr.Message != "":
	case len(tail) > 0:
		encErr.Message = tail[len(tail)-1]
	default:
		encErr.Message = runErr.Error()
	}
	return encErr
}

// stopSignal is the signal sent when a run is cancelled. Windows cannot
// deliver os.Interrupt to a child process, so it is killed outright.
func stopSignal(goos string) os.Signal {
	if goos == "windows" {
		return os.Kill
	}
	return syscall.SIGTERM
}

// scanOutputLines splits on either \r or \n, since encoders redraw their
// status line with carriage returns.
func scanOutputLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
