package task

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"
)

type lineSink struct {
	mu     sync.Mutex
	stdout []string
	stderr []string
}

func (s *lineSink) record(_ string, line string, stderr bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stderr {
		s.stderr = append(s.stderr, line)
	} else {
		s.stdout = append(s.stdout, line)
	}
}

func shell(ctx context.Context, script string) *exec.Cmd {
	return newCommand(ctx, []string{"sh", "-c", script}, "", nil)
}

func TestRunProcess_Basic(t *testing.T) {
	sink := &lineSink{}
	stdout, err := runProcess(shell(context.Background(), "echo hello; echo oops >&2"), nil, (*exec.Cmd).Start, "t", sink.record)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if string(stdout) != "hello\n" {
		t.Errorf("stdout = %q, want %q", stdout, "hello\n")
	}
	if len(sink.stdout) != 1 || sink.stdout[0] != "hello" {
		t.Errorf("streamed stdout = %v", sink.stdout)
	}
	if len(sink.stderr) != 1 || sink.stderr[0] != "oops" {
		t.Errorf("streamed stderr = %v", sink.stderr)
	}
}

// Both pipes far exceed the kernel pipe buffer; sequential reading would hang.
func TestRunProcess_LargeOutputDoesNotDeadlock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	script := "i=0; while [ $i -lt 20000 ]; do echo out-line-$i; echo err-line-$i >&2; i=$((i+1)); done"
	stdout, err := runProcess(shell(ctx, script), nil, (*exec.Cmd).Start, "t", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n := strings.Count(string(stdout), "\n"); n != 20000 {
		t.Errorf("stdout lines = %d, want 20000", n)
	}
}

func TestRunProcess_ExitErrorIncludesStderr(t *testing.T) {
	_, err := runProcess(shell(context.Background(), "echo broken header >&2; exit 3"), nil, (*exec.Cmd).Start, "t", nil)
	if err == nil {
		t.Fatal("Expected error for non-zero exit")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Expected *exec.ExitError in chain, got: %v", err)
	}
	if exitErr.ExitCode() != 3 {
		t.Errorf("exit code = %d, want 3", exitErr.ExitCode())
	}
	if !strings.Contains(err.Error(), "broken header") {
		t.Errorf("error should carry stderr, got: %v", err)
	}
}

func TestRunProcess_StartError(t *testing.T) {
	cmd := newCommand(context.Background(), []string{"/nonexistent/forge-tool"}, "", nil)
	_, err := runProcess(cmd, nil, (*exec.Cmd).Start, "t", nil)
	var se *StartError
	if !errors.As(err, &se) {
		t.Fatalf("Expected *StartError, got: %v", err)
	}
}

func TestRunProcess_CancelKillsGroup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// The grandchild holds the pipes open; only a group kill lets Wait return.
	start := time.Now()
	_, err := runProcess(shell(ctx, "sleep 30 & sleep 30; wait"), nil, (*exec.Cmd).Start, "t", nil)
	if err == nil {
		t.Fatal("Expected error after cancellation")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}
}

func TestProcessManager_TrackUntrack(t *testing.T) {
	pm := NewProcessManager()
	cmd := shell(context.Background(), "sleep 30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	pm.Track(cmd)
	if pm.Count() != 1 {
		t.Fatalf("Count = %d, want 1", pm.Count())
	}

	if err := pm.KillAll(); err != nil {
		t.Fatalf("KillAll: %v", err)
	}
	cmd.Wait()

	pm.Untrack(cmd)
	if pm.Count() != 0 {
		t.Errorf("Count = %d after Untrack, want 0", pm.Count())
	}
}

func TestProcessManager_NilIsNoop(t *testing.T) {
	var pm *ProcessManager
	pm.Track(&exec.Cmd{})
	pm.Untrack(&exec.Cmd{})
	if pm.Count() != 0 {
		t.Error("nil manager should count nothing")
	}
	if err := pm.KillAll(); err != nil {
		t.Errorf("KillAll on nil manager: %v", err)
	}
}
