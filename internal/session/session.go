// Package session owns the Session and Registry types, the per-session
// reader loop, and the reaper sweep described for the terminal server
// core: one backend handle per session, fanned out to a room of
// subscribers, evicted on exit or inactivity.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/openpty/ptyhub/internal/backend"
)

// SessionID is an 8-character opaque identifier, unique among the
// registry's live sessions. Ids are drawn at random and the registry
// keeps no record of removed ones, so a removed session's id can in
// principle be drawn again.
type SessionID string

// CreateParams describes a session to spawn.
type CreateParams struct {
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
	Rows    int
	Cols    int
}

// Session binds one SessionID to one backend handle plus the metadata
// and subscriber room the rest of the server operates on.
type Session struct {
	ID      SessionID
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string

	CreatedAt time.Time

	Room       *Room
	Scrollback *RingBuffer

	handle backend.Handle

	writeMu sync.Mutex

	dimMu sync.Mutex
	rows  int
	cols  int

	lastActivityNano atomic.Int64
	running          atomic.Bool

	cancel    func()
	closeOnce sync.Once
}

// Rows and Cols return the dimensions last successfully posted to the
// backend.
func (s *Session) Rows() int {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	return s.rows
}

func (s *Session) Cols() int {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	return s.cols
}

// PID returns the child process id.
func (s *Session) PID() int { return s.handle.PID() }

// Running reports whether the session's child is believed alive; it
// transitions true to false exactly once.
func (s *Session) Running() bool { return s.running.Load() }

// LastActivity returns the last time input, a heartbeat, or output was
// observed for this session.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivityNano.Load())
}

func (s *Session) touchActivity() {
	s.lastActivityNano.Store(time.Now().UnixNano())
}

// Input writes bytes to the backend and refreshes last_activity. Writes
// are serialized at the session level: multiple connections may share a
// session, and unsynchronized concurrent writes to the same fd could
// interleave bytes delivered to the child's stdin.
func (s *Session) Input(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.handle.Write(p)
	s.touchActivity()
	return n, err
}

// Heartbeat refreshes last_activity without touching the backend.
func (s *Session) Heartbeat() { s.touchActivity() }

// Resize validates and applies new dimensions. rows and cols must be in
// [1, dimensionMax]; resizing to the current size is a no-op forwarded
// to the backend, which itself treats it as a no-op.
func (s *Session) Resize(rows, cols, dimensionMax int) error {
	if rows < 1 || rows > dimensionMax {
		return &InvalidArgumentError{Field: "rows", Value: rows}
	}
	if cols < 1 || cols > dimensionMax {
		return &InvalidArgumentError{Field: "cols", Value: cols}
	}
	if err := s.handle.Resize(rows, cols); err != nil {
		return err
	}
	s.dimMu.Lock()
	s.rows, s.cols = rows, cols
	s.dimMu.Unlock()
	return nil
}
