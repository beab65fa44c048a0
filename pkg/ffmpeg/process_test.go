package ffmpeg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStopQuitsThroughStdin(t *testing.T) {
	p, err := Start(context.Background(), "sh", []string{"-c", "read line; [ \"$line\" = q ] && exit 0; exit 1"}, 5*time.Second, 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	begin := time.Now()
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if time.Since(begin) > 4*time.Second {
		t.Fatalf("expected graceful quit, took %s", time.Since(begin))
	}
	if p.Running() {
		t.Fatalf("process still running after Stop")
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestPipedStopEndsInput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "frames.bin")
	p, err := StartPiped(context.Background(), "sh", []string{"-c", "cat > " + out}, 5*time.Second)
	if err != nil {
		t.Fatalf("StartPiped: %v", err)
	}
	for _, frame := range []string{"frame-1;", "frame-2;"} {
		if _, err := p.Input().Write([]byte(frame)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	begin := time.Now()
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if time.Since(begin) > 4*time.Second {
		t.Fatalf("expected exit on end of input, took %s", time.Since(begin))
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != "frame-1;frame-2;" {
		t.Fatalf("output = %q, quit command must not reach a piped input", got)
	}
}

func TestStopKillsAfterGrace(t *testing.T) {
	p, err := Start(context.Background(), "sleep", []string{"30"}, 100*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	begin := time.Now()
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Fatalf("kill took too long: %s", elapsed)
	}
}

func TestContextCancelTerminates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, err := Start(ctx, "sleep", []string{"30"}, 100*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process survived context cancellation")
	}
}

func TestStartReportsEarlyExit(t *testing.T) {
	_, err := Start(context.Background(), "sh", []string{"-c", "echo no pulse server >&2; exit 3"}, time.Second, 500*time.Millisecond)
	if !errors.Is(err, ErrExitedEarly) {
		t.Fatalf("expected ErrExitedEarly, got %v", err)
	}
	if !strings.Contains(err.Error(), "no pulse server") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestRunReturnsOutput(t *testing.T) {
	out, err := Run(context.Background(), "sh", "-c", "echo merged")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(string(out)) != "merged" {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := Run(context.Background(), "sh", "-c", "exit 2"); err == nil {
		t.Fatalf("expected failing command to return an error")
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	b := &tailBuffer{max: 8}
	_, _ = b.Write([]byte("abcdef"))
	_, _ = b.Write([]byte("ghij"))
	if got := b.String(); got != "cdefghij" {
		t.Fatalf("got %q", got)
	}
	_, _ = b.Write([]byte("0123456789"))
	if got := b.String(); got != "23456789" {
		t.Fatalf("got %q", got)
	}
}
