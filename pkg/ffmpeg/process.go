// Package ffmpeg runs long-lived capture processes and one-shot media commands.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrExitedEarly = errors.New("process exited during startup")

// Process is a running capture command. It is stopped by writing "q" to its
// stdin, or by closing stdin when stdin carries the media input, and killed
// if it has not exited within the grace period. A Process always terminates
// once Stop returns or its context is cancelled.
type Process struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	piped     bool
	stderr    *tailBuffer
	grace     time.Duration
	startedAt time.Time

	done     chan struct{}
	waitErr  error
	stopOnce sync.Once
}

// Start launches bin with args. When settle is positive the process must
// still be running after that long or ErrExitedEarly is returned.
func Start(ctx context.Context, bin string, args []string, grace, settle time.Duration) (*Process, error) {
	return start(ctx, bin, args, grace, settle, false)
}

// StartPiped launches bin reading its media input from Input. Stop ends the
// input instead of sending "q".
func StartPiped(ctx context.Context, bin string, args []string, grace time.Duration) (*Process, error) {
	return start(ctx, bin, args, grace, 0, true)
}

func start(ctx context.Context, bin string, args []string, grace, settle time.Duration, piped bool) (*Process, error) {
	cmd := exec.Command(bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stderr := &tailBuffer{max: 64 << 10}
	cmd.Stderr = stderr
	cmd.WaitDelay = grace

	zerolog.Ctx(ctx).Debug().Str("bin", bin).Strs("args", args).Msg("starting process")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	p := &Process{
		cmd:       cmd,
		stdin:     stdin,
		piped:     piped,
		stderr:    stderr,
		grace:     grace,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.done:
		}
	}()

	if settle > 0 {
		select {
		case <-p.done:
			return nil, fmt.Errorf("%w: %s", ErrExitedEarly, strings.TrimSpace(p.Output()))
		case <-time.After(settle):
		}
	}

	return p, nil
}

// Input is the process stdin. Only processes started with StartPiped expect
// data on it.
func (p *Process) Input() io.Writer {
	return p.stdin
}

func (p *Process) StartedAt() time.Time {
	return p.startedAt
}

func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Stop asks the process to quit and waits for it, killing it after the grace
// period. It is safe to call more than once.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		if !p.Running() {
			return
		}
		if !p.piped {
			_, _ = io.WriteString(p.stdin, "q\n")
		}
		_ = p.stdin.Close()

		select {
		case <-p.done:
		case <-time.After(p.grace):
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	})
	<-p.done

	var exitErr *exec.ExitError
	if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
		return p.waitErr
	}
	return nil
}

// Output returns the captured stderr tail.
func (p *Process) Output() string {
	return p.stderr.String()
}

// Run executes a one-shot command and returns its combined output.
func Run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	zerolog.Ctx(ctx).Debug().Str("bin", bin).Strs("args", args).Msg("executing command")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s execution failed: %w", bin, err)
	}
	return output, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (w *tailBuffer) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(b)
	if len(b) >= w.max {
		w.buf.Reset()
		w.buf.Write(b[len(b)-w.max:])
		return n, nil
	}
	if over := w.buf.Len() + len(b) - w.max; over > 0 {
		w.buf.Next(over)
	}
	w.buf.Write(b)
	return n, nil
}

func (w *tailBuffer) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
