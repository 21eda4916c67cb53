package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaelbrown/codepad/internal/dispatch"
	"github.com/michaelbrown/codepad/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsIncoming is a message from the client.
type wsIncoming struct {
	Type string `json:"type"`
}

// wsOutgoing is a message to the client.
type wsOutgoing struct {
	Type       string           `json:"type"`
	State      dispatch.State   `json:"state,omitempty"`
	Attempt    int              `json:"attempt,omitempty"`
	Generation uint64           `json:"generation,omitempty"`
	Output     *dispatch.Output `json:"output,omitempty"`
	Content    string           `json:"content,omitempty"`
}

// wsConn serializes writes; runs report state from their own goroutines.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	log  *zap.Logger
}

func (c *wsConn) send(v wsOutgoing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		c.log.Debug("websocket write error", zap.Error(err))
	}
}

// closeWith sends a close frame carrying reason.
func (c *wsConn) closeWith(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		c.log.Debug("websocket close error", zap.Error(err))
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.sessions.Get(id); !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	ws := &wsConn{conn: conn, log: s.log}

	// cancelled on disconnect
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read error", zap.Error(err))
			}
			cancel()
			return
		}

		if msg.Type != "run" {
			ws.send(wsOutgoing{Type: "error", Content: "invalid message"})
			continue
		}
		if !s.limiter.allow(clientIP(r)) {
			ws.send(wsOutgoing{Type: "error", Content: "rate limit exceeded"})
			continue
		}

		// Looked up per run so an active socket keeps the session alive.
		sess, ok := s.sessions.Get(id)
		if !ok {
			ws.send(wsOutgoing{Type: "error", Content: "session not found"})
			ws.closeWith("session expired")
			cancel()
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runOverWebSocket(ctx, ws, sess)
		}()
	}
}

// runOverWebSocket streams the states of one run and its result. A run that
// was overtaken by a newer one ends with a "stale" message instead.
func (s *Server) runOverWebSocket(ctx context.Context, ws *wsConn, sess *session.Session) {
	onState := func(st dispatch.State, attempt int) {
		ws.send(wsOutgoing{Type: "state", State: st, Attempt: attempt})
	}

	out, gen, applied := sess.Run(ctx, s.dispatcher, onState)

	switch {
	case !applied:
		ws.send(wsOutgoing{Type: "stale", Generation: gen})
	case out.Kind == dispatch.OutputError:
		ws.send(wsOutgoing{Type: "error", Output: out, Content: out.Text, Generation: gen})
	default:
		ws.send(wsOutgoing{Type: "done", Output: out, Generation: gen})
	}
}
