package task

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// OutputFunc receives every line a task's process writes.
type OutputFunc func(task, line string, stderr bool)

// StartError is returned when a process could not be launched at all, as
// opposed to running and exiting non-zero.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string { return fmt.Sprintf("starting %s: %v", e.Path, e.Err) }

func (e *StartError) Unwrap() error { return e.Err }

// newCommand creates an exec.Cmd in its own process group. Cancelling ctx
// kills the whole group, not just the direct child.
func newCommand(ctx context.Context, argv []string, dir string, env []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	return cmd
}

// runProcess starts cmd, drains stdout and stderr concurrently and waits.
// Draining both pipes before Wait keeps a chatty child from blocking on a
// full pipe. stdout is returned in full; stderr lines feed the error message.
func runProcess(cmd *exec.Cmd, pm *ProcessManager, start func(*exec.Cmd) error, name string, out OutputFunc) ([]byte, error) {
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := start(cmd); err != nil {
		stdoutPipe.Close()
		stderrPipe.Close()
		return nil, &StartError{Path: cmd.Path, Err: err}
	}
	pm.Track(cmd)
	defer pm.Untrack(cmd)

	var stdoutBuf, stderrBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pump(io.TeeReader(stdoutPipe, &stdoutBuf), func(line string) {
			if out != nil {
				out(name, line, false)
			}
		})
	}()
	go func() {
		defer wg.Done()
		pump(io.TeeReader(stderrPipe, &stderrBuf), func(line string) {
			if out != nil {
				out(name, line, true)
			}
		})
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if tail := lastLines(stderrBuf.String(), 20); tail != "" {
			return stdoutBuf.Bytes(), fmt.Errorf("%s: %w\n%s", cmd.Args[0], err, tail)
		}
		return stdoutBuf.Bytes(), fmt.Errorf("%s: %w", cmd.Args[0], err)
	}
	return stdoutBuf.Bytes(), nil
}

// pump splits r into lines for emit and then drains whatever is left, so an
// overlong line cannot stall the child.
func pump(r io.Reader, emit func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		emit(sc.Text())
	}
	io.Copy(io.Discard, r)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// killProcessGroup sends SIGKILL to the process group of cmd.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("killing process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

// ProcessManager tracks running subprocesses so they can all be killed on
// shutdown. A nil *ProcessManager tracks nothing.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates an empty ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs: make(map[int]*exec.Cmd),
	}
}

// Track registers a started subprocess.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if pm == nil || cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack forgets a subprocess after it was waited for.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if pm == nil || cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll kills the process group of every tracked subprocess.
func (pm *ProcessManager) KillAll() error {
	if pm == nil {
		return nil
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("process %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked subprocesses.
func (pm *ProcessManager) Count() int {
	if pm == nil {
		return 0
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
