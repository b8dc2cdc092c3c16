package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testRegistry(t *testing.T, maxSessions int) (*Registry, *fakeBackend) {
	t.Helper()
	be := &fakeBackend{}
	reg := NewRegistry(be, RegistryConfig{
		MaxSessions:    maxSessions,
		PollInterval:   2 * time.Millisecond,
		ReadChunkBytes: 4096,
		DimensionMax:   10_000,
		TerminateGrace: 50 * time.Millisecond,
	})
	return reg, be
}

func TestRegistryCapacity(t *testing.T) {
	reg, _ := testRegistry(t, 2)
	if _, err := reg.Create(CreateParams{Command: "cat"}); err != nil {
		t.Fatalf("create 1: %v", err)
	}
	if _, err := reg.Create(CreateParams{Command: "cat"}); err != nil {
		t.Fatalf("create 2: %v", err)
	}
	_, err := reg.Create(CreateParams{Command: "cat"})
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("expected registry size 2, got %d", reg.Len())
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	reg, _ := testRegistry(t, 50)
	seen := make(map[SessionID]bool)
	for i := 0; i < 50; i++ {
		s, err := reg.Create(CreateParams{Command: "cat"})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[s.ID] {
			t.Fatalf("duplicate session id %s", s.ID)
		}
		seen[s.ID] = true
		if len(s.ID) != 8 {
			t.Fatalf("expected 8-char id, got %q", s.ID)
		}
	}
}

func TestReaderLoopDeliversOutputAndExit(t *testing.T) {
	reg, be := testRegistry(t, 5)
	sess, err := reg.Create(CreateParams{Command: "echo", Args: []string{"hello"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, ch := sess.Room.Join(16, 100)

	h := be.spawned[0]
	h.Push([]byte("hello\n"))

	select {
	case f := <-ch:
		if string(f.Output) != "hello\n" {
			t.Fatalf("unexpected output frame: %q", f.Output)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for output frame")
	}

	h.Exit(0)

	select {
	case f := <-ch:
		if !f.Closed {
			t.Fatalf("expected closed frame, got %+v", f)
		}
		if f.ExitCode == nil || *f.ExitCode != 0 {
			t.Fatalf("expected exit code 0, got %v", f.ExitCode)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session_closed")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get(sess.ID); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session was not removed from registry after exit")
}

func TestTerminateSessionIsIdempotent(t *testing.T) {
	reg, _ := testRegistry(t, 5)
	sess, err := reg.Create(CreateParams{Command: "cat"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.Terminate(sess.ID); err != nil {
		t.Fatalf("first terminate: %v", err)
	}
	if err := reg.Terminate(sess.ID); err != nil {
		t.Fatalf("second terminate: %v", err)
	}
	if _, ok := reg.Get(sess.ID); ok {
		t.Fatal("expected session to be absent after terminate")
	}
}

func TestTerminateUnknownSessionIsNoop(t *testing.T) {
	reg, _ := testRegistry(t, 5)
	if err := reg.Terminate("deadbeef"); err != nil {
		t.Fatalf("expected nil error for unknown id, got %v", err)
	}
}

func TestShutdownDrainsAllSessions(t *testing.T) {
	reg, _ := testRegistry(t, 10)
	for i := 0; i < 5; i++ {
		if _, err := reg.Create(CreateParams{Command: "cat"}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if reg.Len() != 5 {
		t.Fatalf("expected 5 sessions, got %d", reg.Len())
	}
	reg.Shutdown()
	if reg.Len() != 0 {
		t.Fatalf("expected 0 sessions after shutdown, got %d", reg.Len())
	}
}

func TestResizeRejectsInvalidDimensions(t *testing.T) {
	reg, _ := testRegistry(t, 1)
	sess, err := reg.Create(CreateParams{Command: "cat", Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var invalid *InvalidArgumentError
	if err := sess.Resize(0, 80, 10_000); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidArgumentError for rows=0, got %v", err)
	}
	if err := sess.Resize(40, 120, 10_000); err != nil {
		t.Fatalf("valid resize: %v", err)
	}
	if sess.Rows() != 40 || sess.Cols() != 120 {
		t.Fatalf("resize did not apply: rows=%d cols=%d", sess.Rows(), sess.Cols())
	}
}

func TestReaperEvictsInactiveSessions(t *testing.T) {
	reg, _ := testRegistry(t, 5)
	sess, err := reg.Create(CreateParams{Command: "sleep"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rp := NewReaper(reg, 5*time.Millisecond, time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go rp.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get(sess.ID); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("reaper did not evict inactive session")
}
