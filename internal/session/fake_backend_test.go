package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/openpty/ptyhub/internal/backend"
)

// fakeBackend and fakeHandle let the registry/reader/reaper tests run
// without forking real PTYs: a test pushes bytes onto the handle and
// the child "exits" when the test calls Exit.
type fakeBackend struct {
	mu      sync.Mutex
	spawned []*fakeHandle
	failNew error
}

func (b *fakeBackend) Spawn(spec backend.SpawnSpec) (backend.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNew != nil {
		return nil, b.failNew
	}
	h := &fakeHandle{rows: spec.Rows, cols: spec.Cols, pid: 1000 + len(b.spawned)}
	h.alive.Store(true)
	b.spawned = append(b.spawned, h)
	return h, nil
}

type fakeHandle struct {
	mu     sync.Mutex
	pend   []byte
	closed bool
	rows   int
	cols   int
	pid    int

	alive    atomic.Bool
	exitCode int
	hasExit  atomic.Bool

	written [][]byte
}

// Push makes data available to the next Read.
func (h *fakeHandle) Push(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pend = append(h.pend, data...)
}

// Exit simulates child termination with the given exit code.
func (h *fakeHandle) Exit(code int) {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.exitCode = code
	h.hasExit.Store(true)
	h.alive.Store(false)
}

func (h *fakeHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	h.written = append(h.written, append([]byte(nil), p...))
	h.mu.Unlock()
	return len(p), nil
}

func (h *fakeHandle) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pend) == 0 {
		if h.closed {
			return 0, backend.ErrEof
		}
		return 0, nil
	}
	n := copy(p, h.pend)
	h.pend = h.pend[n:]
	return n, nil
}

func (h *fakeHandle) Poll(timeout time.Duration) (bool, error) {
	h.mu.Lock()
	ready := len(h.pend) > 0 || h.closed
	h.mu.Unlock()
	if ready {
		return true, nil
	}
	time.Sleep(timeout)
	return false, nil
}

func (h *fakeHandle) Resize(rows, cols int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows, h.cols = rows, cols
	return nil
}

func (h *fakeHandle) IsAlive() bool { return h.alive.Load() }
func (h *fakeHandle) PID() int      { return h.pid }

func (h *fakeHandle) ExitCode() (int, bool) {
	if !h.hasExit.Load() {
		return 0, false
	}
	return h.exitCode, true
}

func (h *fakeHandle) Terminate(grace time.Duration) error {
	h.alive.Store(false)
	return nil
}
