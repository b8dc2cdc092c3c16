package session

import (
	"context"
	"errors"
	"time"

	"github.com/openpty/ptyhub/internal/backend"
	"github.com/openpty/ptyhub/internal/logger"
)

// runReaderLoop is the cooperative task that pumps output from sess's
// backend handle to its room until the child exits or ctx is cancelled.
// It is the sole reader of the handle; transport handlers are the sole
// writers (serialized through Session.Input/Resize).
func runReaderLoop(ctx context.Context, reg *Registry, sess *Session, pollInterval time.Duration, readChunk int) {
	buf := make([]byte, readChunk)
	// pending holds bytes read but not yet emitted because they end in an
	// incomplete UTF-8 sequence: emitting them now would let json.Marshal
	// mangle the split character into U+FFFD on the wire.
	var pending []byte
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ready, err := sess.handle.Poll(pollInterval)
		if err != nil {
			logger.Warn("reader poll", "session_id", sess.ID, "err", err)
			break
		}
		if !ready {
			if !sess.handle.IsAlive() {
				break
			}
			continue
		}

		n, err := sess.handle.Read(buf)
		if n > 0 {
			sess.touchActivity()
			pending = append(pending, buf[:n]...)
			hold := incompleteUTF8Tail(pending)
			if emit := pending[:len(pending)-hold]; len(emit) > 0 {
				sess.Scrollback.Write(emit)
				sess.Room.Broadcast(Frame{Output: emit})
				pending = append([]byte(nil), pending[len(pending)-hold:]...)
			}
		}
		if err != nil {
			if errors.Is(err, backend.ErrEof) {
				break
			}
			var ioErr *backend.IoError
			if errors.As(err, &ioErr) {
				logger.Warn("reader io error", "session_id", sess.ID, "err", err)
				break
			}
		}
	}

	// Nothing more is coming: flush whatever's left in pending even if it's
	// still an incomplete sequence, rather than silently dropping it.
	if len(pending) > 0 {
		sess.Scrollback.Write(pending)
		sess.Room.Broadcast(Frame{Output: pending})
	}

	// The reader detected exit (or a fatal error): tear the session down
	// through the registry so removal, backend termination, and the
	// session_closed frame happen exactly once even if the reaper races
	// with this same session.
	_ = reg.Terminate(sess.ID)
}
