package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openpty/ptyhub/internal/backend"
	"github.com/openpty/ptyhub/internal/logger"
)

// RegistryConfig mirrors the configuration surface's reader/admission
// knobs (spec config options max_sessions, poll_interval_ms,
// read_chunk_bytes, dimension_max, plus a scrollback size and a
// terminate grace period not named individually in the wire config but
// implied by "best-effort grace + forced kill").
type RegistryConfig struct {
	MaxSessions     int
	PollInterval    time.Duration
	ReadChunkBytes  int
	DimensionMax    int
	ScrollbackBytes int
	TerminateGrace  time.Duration
	RoomQueueDepth  int
	RoomBurst       int
}

func (c RegistryConfig) withDefaults() RegistryConfig {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 20
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Millisecond
	}
	if c.ReadChunkBytes <= 0 {
		c.ReadChunkBytes = 20_480
	}
	if c.DimensionMax <= 0 {
		c.DimensionMax = 10_000
	}
	if c.ScrollbackBytes <= 0 {
		c.ScrollbackBytes = 64 * 1024
	}
	if c.TerminateGrace <= 0 {
		c.TerminateGrace = 2 * time.Second
	}
	if c.RoomQueueDepth <= 0 {
		c.RoomQueueDepth = 256
	}
	if c.RoomBurst <= 0 {
		c.RoomBurst = 512
	}
	return c
}

// Registry owns every live Session, enforcing max_sessions and providing
// lookup, termination, and snapshot iteration for the reaper.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*Session
	be       backend.Backend
	cfg      RegistryConfig
}

// NewRegistry builds a Registry that spawns sessions through be.
func NewRegistry(be backend.Backend, cfg RegistryConfig) *Registry {
	return &Registry{
		sessions: make(map[SessionID]*Session),
		be:       be,
		cfg:      cfg.withDefaults(),
	}
}

// Create spawns a new session and inserts it atomically with starting
// its reader loop: no session is observable in the registry without its
// reader loop active or about to be.
func (r *Registry) Create(p CreateParams) (*Session, error) {
	if p.Rows <= 0 {
		p.Rows = 24
	}
	if p.Cols <= 0 {
		p.Cols = 80
	}
	r.mu.Lock()
	if len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, &CapacityError{Limit: r.cfg.MaxSessions}
	}

	h, err := r.be.Spawn(backend.SpawnSpec{
		Command: p.Command,
		Args:    p.Args,
		Cwd:     p.Cwd,
		Env:     p.Env,
		Rows:    p.Rows,
		Cols:    p.Cols,
	})
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	id := r.freshID()
	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:         id,
		Command:    p.Command,
		Args:       p.Args,
		Cwd:        p.Cwd,
		Env:        p.Env,
		CreatedAt:  time.Now(),
		Room:       NewRoom(),
		Scrollback: NewRingBuffer(r.cfg.ScrollbackBytes),
		handle:     h,
		rows:       p.Rows,
		cols:       p.Cols,
		cancel:     cancel,
	}
	sess.running.Store(true)
	sess.touchActivity()
	r.sessions[id] = sess
	r.mu.Unlock()

	go runReaderLoop(ctx, r, sess, r.cfg.PollInterval, r.cfg.ReadChunkBytes)
	return sess, nil
}

// freshID generates an 8-hex-char id, regenerating on the rare
// collision. Caller must hold r.mu.
func (r *Registry) freshID() SessionID {
	for {
		id := SessionID(uuid.New().String()[:8])
		if _, exists := r.sessions[id]; !exists {
			return id
		}
	}
}

// Get returns the session for id, if live.
func (r *Registry) Get(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len reports the current session count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Iter returns a stable snapshot of live sessions, safe to range over
// without holding the registry lock (used by the reaper).
func (r *Registry) Iter() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Terminate removes id from the registry (if present), cancels its
// reader loop, tells the backend to terminate the child, and emits
// exactly one session_closed frame to the room. Idempotent: terminating
// an absent or already-terminated id is a no-op that returns nil.
func (r *Registry) Terminate(id SessionID) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return terminateSession(sess, r.cfg.TerminateGrace)
}

func terminateSession(sess *Session, grace time.Duration) error {
	sess.cancel()
	sess.running.Store(false)
	err := sess.handle.Terminate(grace)
	sess.closeOnce.Do(func() {
		var exitCode *int
		if code, ok := sess.handle.ExitCode(); ok {
			exitCode = &code
		}
		sess.Room.Broadcast(Frame{Closed: true, ExitCode: exitCode})
	})
	if err != nil {
		logger.Warn("session terminate", "session_id", sess.ID, "err", err)
	}
	return err
}

// Shutdown terminates every live session. It is idempotent and safe to
// call once at server stop.
func (r *Registry) Shutdown() {
	for _, s := range r.Iter() {
		_ = r.Terminate(s.ID)
	}
}
