package server

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/openpty/ptyhub/internal/logger"
	"github.com/openpty/ptyhub/internal/session"
	"github.com/openpty/ptyhub/internal/wire"
)

const wsReadLimit = 32 * 1024 * 1024

// handleWS serves the event-named, room-routed transport: one websocket
// connection per client, joined to at most one session's room at a
// time, per the per-connection state machine
// (INIT -> JOINED|REJECTED -> CLOSED).
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("websocket accept", "err", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	ctx := r.Context()
	c := &connHandler{server: s, conn: conn}

	if id := r.URL.Query().Get("session_id"); id != "" {
		if err := c.join(ctx, session.SessionID(id)); err != nil {
			conn.Close(websocket.StatusPolicyViolation, err.Error())
			return
		}
	}

	defer c.leaveRoom()
	defer conn.CloseNow()

	c.serve(ctx)
}

// connHandler tracks one websocket connection's join state and pumps
// both directions: reads client frames and dispatches them, while a
// background goroutine drains the joined room's output channel.
type connHandler struct {
	server *Server
	conn   *websocket.Conn

	sess       *session.Session
	subID      session.SubscriberID
	out        <-chan session.Frame
	pumpCancel context.CancelFunc
}

// join subscribes the connection to sess's room and (re)starts the
// output pump for it. A connection can join at most one room at a time;
// joining a new session while already joined to one first leaves the
// old one and stops its pump, so create_session arriving after a bare
// connect, or a later reconnect to a different session, always ends up
// with exactly one live pump draining the currently joined room.
func (c *connHandler) join(ctx context.Context, id session.SessionID) error {
	sess, ok := c.server.registry.Get(id)
	if !ok {
		return &session.UnknownSessionError{ID: id}
	}
	c.leaveRoom()
	c.sess = sess
	c.subID, c.out = sess.Room.Join(roomQueueDepth, roomBurst)

	pumpCtx, cancel := context.WithCancel(ctx)
	c.pumpCancel = cancel
	go c.pumpOutput(pumpCtx, sess, c.out)
	return nil
}

const (
	roomQueueDepth = 256
	roomBurst      = 1024
)

func (c *connHandler) leaveRoom() {
	if c.pumpCancel != nil {
		c.pumpCancel()
		c.pumpCancel = nil
	}
	if c.sess != nil {
		c.sess.Room.Leave(c.subID)
		c.sess, c.out = nil, nil
	}
}

func (c *connHandler) serve(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 {
				logger.Debug("websocket read", "err", err)
			}
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if !c.dispatch(ctx, env) {
			return
		}
	}
}

// pumpOutput replays scrollback once on join, then forwards out to the
// client until ctx is cancelled (the connection left this room, rejoined
// elsewhere, or closed), the session_closed frame has been sent, or out
// itself is closed because the room dropped this subscriber as a slow
// consumer, in which case the connection is closed.
func (c *connHandler) pumpOutput(ctx context.Context, sess *session.Session, out <-chan session.Frame) {
	if snap := sess.Scrollback.Snapshot(); len(snap) > 0 {
		c.writeEvent(ctx, wire.EventPTYOutput, wire.PTYOutput{SessionID: string(sess.ID), Output: string(snap)})
	}
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-out:
			if !ok {
				// A cancelled ctx means the connection left the room
				// itself; otherwise the room dropped a slow subscriber.
				if ctx.Err() == nil {
					c.conn.Close(websocket.StatusPolicyViolation, "slow consumer")
				}
				return
			}
			if f.Closed {
				var code *int
				if f.ExitCode != nil {
					ec := *f.ExitCode
					code = &ec
				}
				c.writeEvent(ctx, wire.EventSessionClosed, wire.SessionClosed{SessionID: string(sess.ID), ExitCode: code})
				return
			}
			c.writeEvent(ctx, wire.EventPTYOutput, wire.PTYOutput{SessionID: string(sess.ID), Output: string(f.Output)})
		}
	}
}

func (c *connHandler) writeEvent(ctx context.Context, event wire.Event, payload any) {
	env, err := wire.Encode(event, payload)
	if err != nil {
		logger.Error("encode frame", "event", event, "err", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		logger.Error("marshal frame", "event", event, "err", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		logger.Debug("websocket write", "err", err)
	}
}

// dispatch handles one client frame. It returns false when the
// connection should close.
func (c *connHandler) dispatch(ctx context.Context, env wire.Envelope) bool {
	switch env.Event {
	case wire.EventCreateSession:
		var req wire.CreateSessionRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			c.writeEvent(ctx, wire.EventError, wire.ErrorFrame{Message: "malformed create_session payload"})
			return true
		}
		id, err := c.server.CreateSession(session.CreateParams{
			Command: req.Command, Args: req.Args, Cwd: req.Cwd, Env: req.Env, Rows: req.Rows, Cols: req.Cols,
		})
		var capErr *session.CapacityError
		if errors.As(err, &capErr) {
			c.writeEvent(ctx, wire.EventCreateSession, wire.CreateSessionAck{Error: "session_limit_reached", Limit: capErr.Limit})
			return true
		}
		if err != nil {
			c.writeEvent(ctx, wire.EventError, wire.ErrorFrame{Message: err.Error()})
			return true
		}
		c.writeEvent(ctx, wire.EventCreateSession, wire.CreateSessionAck{SessionID: string(id)})
		_ = c.join(ctx, id)

	case wire.EventConnect:
		var req wire.Heartbeat // {session_id} shares the same shape
		if err := json.Unmarshal(env.Payload, &req); err != nil || req.SessionID == "" {
			c.writeEvent(ctx, wire.EventError, wire.ErrorFrame{Message: "missing session_id"})
			return true
		}
		if err := c.join(ctx, session.SessionID(req.SessionID)); err != nil {
			c.writeEvent(ctx, wire.EventError, wire.ErrorFrame{Message: err.Error()})
			return false
		}

	case wire.EventPTYInput:
		var req wire.PTYInput
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return true
		}
		sess, ok := c.server.registry.Get(session.SessionID(req.SessionID))
		if !ok {
			return true // UnknownSessionError: frame dropped, connection stays open
		}
		if _, err := sess.Input([]byte(req.Input)); err != nil {
			logger.Warn("pty input", "session_id", req.SessionID, "err", err)
		}

	case wire.EventResize:
		var req wire.Resize
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return true
		}
		sess, ok := c.server.registry.Get(session.SessionID(req.SessionID))
		if !ok {
			return true
		}
		if err := sess.Resize(req.Rows, req.Cols, c.server.cfg.DimensionMax); err != nil {
			c.writeEvent(ctx, wire.EventError, wire.ErrorFrame{Message: err.Error()})
		}

	case wire.EventHeartbeat:
		var req wire.Heartbeat
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return true
		}
		if sess, ok := c.server.registry.Get(session.SessionID(req.SessionID)); ok {
			sess.Heartbeat()
		}

	case wire.EventListSessions:
		c.writeEvent(ctx, wire.EventListSessions, c.server.listSessions())

	default:
		c.writeEvent(ctx, wire.EventError, wire.ErrorFrame{Message: "unknown event " + string(env.Event)})
	}
	return true
}

func (s *Server) listSessions() wire.ListSessionsResponse {
	sessions := s.registry.Iter()
	out := make([]wire.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, wire.SessionInfo{
			SessionID: string(sess.ID),
			Command:   sess.Command,
			PID:       sess.PID(),
			Rows:      sess.Rows(),
			Cols:      sess.Cols(),
			Running:   sess.Running(),
		})
	}
	return wire.ListSessionsResponse{Sessions: out}
}

var bootstrapTemplate = template.Must(template.New("bootstrap").Parse(`<!DOCTYPE html>
<html><head><title>ptyhub session {{.SessionID}}</title></head>
<body>
<script>
  // Minimal bootstrap: the real terminal widget (xterm.js renderer) is
  // an external collaborator and is not served here. This page only
  // establishes the websocket and joins the session's room.
  const ws = new WebSocket(
    (location.protocol === "https:" ? "wss://" : "ws://") + location.host +
    "{{.Namespace}}?session_id={{.SessionID}}");
</script>
<p>ptyhub session {{.SessionID}}</p>
</body></html>`))

// handleBootstrap serves the minimal HTML/JS handshake page for
// WebView-hosted clients at the URL convention
// /terminal/<session_id>?session_id=<session_id>.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/terminal/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if _, ok := s.registry.Get(session.SessionID(id)); !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = bootstrapTemplate.Execute(w, struct {
		SessionID string
		Namespace string
	}{SessionID: id, Namespace: s.cfg.Namespace})
}
