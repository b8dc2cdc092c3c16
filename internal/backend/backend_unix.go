//go:build !windows

package backend

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// unixBackend spawns children attached to a PTY via creack/pty, which
// wraps the forkpty/openpty family of syscalls.
type unixBackend struct{}

// New returns the Backend variant for the running OS.
func New() Backend { return &unixBackend{} }

func (unixBackend) Spawn(spec SpawnSpec) (Handle, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Cwd
	if len(spec.Env) > 0 {
		env := make([]string, 0, len(spec.Env))
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	} else {
		cmd.Env = os.Environ()
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ws := &pty.Winsize{Rows: uint16(spec.Rows), Cols: uint16(spec.Cols)}
	f, err := pty.StartWithSize(cmd, ws)
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}

	h := &unixHandle{
		f:    f,
		cmd:  cmd,
		rows: spec.Rows,
		cols: spec.Cols,
		done: make(chan struct{}),
	}
	h.alive.Store(true)
	go h.reap()
	return h, nil
}

type unixHandle struct {
	f   *os.File
	cmd *exec.Cmd

	mu   sync.Mutex
	rows int
	cols int

	alive    atomic.Bool
	done     chan struct{}
	exitCode int
	haveExit atomic.Bool
}

// reap waits for the child and records its exit status, the non-blocking
// is_alive signal other goroutines poll.
func (h *unixHandle) reap() {
	err := h.cmd.Wait()
	code := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			code = ee.ExitCode()
		} else {
			code = -1
		}
	}
	h.exitCode = code
	h.haveExit.Store(true)
	h.alive.Store(false)
	close(h.done)
}

func (h *unixHandle) Write(p []byte) (int, error) {
	n, err := h.f.Write(p)
	if err != nil {
		return n, &IoError{Op: "write", Err: err}
	}
	return n, nil
}

func (h *unixHandle) Read(p []byte) (int, error) {
	// A short deadline turns the blocking os.File.Read into the
	// non-blocking "return what's there" contract the reader loop wants.
	if err := h.f.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, &IoError{Op: "read", Err: err}
	}
	n, err := h.f.Read(p)
	if err != nil {
		if os.IsTimeout(err) {
			return n, nil
		}
		if err == io.EOF {
			return n, ErrEof
		}
		// On Linux, reading the master after the child side has closed
		// fails with EIO rather than io.EOF.
		if pe, ok := err.(*os.PathError); ok && pe.Err == syscall.EIO {
			return n, ErrEof
		}
		return n, &IoError{Op: "read", Err: err}
	}
	return n, nil
}

func (h *unixHandle) Poll(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(h.f.Fd()), Events: unix.POLLIN}}
	ms := int(timeout / time.Millisecond)
	if ms <= 0 {
		ms = 1
	}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, &IoError{Op: "poll", Err: err}
	}
	if n == 0 {
		return false, nil
	}
	return fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0, nil
}

func (h *unixHandle) Resize(rows, cols int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rows == h.rows && cols == h.cols {
		return nil
	}
	if err := pty.Setsize(h.f, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return &IoError{Op: "resize", Err: err}
	}
	h.rows, h.cols = rows, cols
	return nil
}

func (h *unixHandle) IsAlive() bool { return h.alive.Load() }

func (h *unixHandle) PID() int { return h.cmd.Process.Pid }

func (h *unixHandle) ExitCode() (int, bool) {
	if !h.haveExit.Load() {
		return 0, false
	}
	return h.exitCode, true
}

// Terminate sends SIGHUP to the child's process group, escalating to
// SIGKILL if the child has not exited within grace.
func (h *unixHandle) Terminate(grace time.Duration) error {
	if !h.alive.Load() {
		h.f.Close()
		return nil
	}
	pid := h.cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGHUP)
	select {
	case <-h.done:
	case <-time.After(grace):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		select {
		case <-h.done:
		case <-time.After(time.Second):
		}
	}
	return h.f.Close()
}
