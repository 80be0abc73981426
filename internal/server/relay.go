package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dayuer/askrelay/internal/bus"
	"github.com/dayuer/askrelay/internal/utils"
)

// DisconnectMessage is pushed on the inbound queue when the client drops
// the relay, so a session blocked on human input wakes up.
const DisconnectMessage = "User has disconnected."

const writeWait = 10 * time.Second

// wsConn wraps a websocket.Conn with a write mutex for thread safety.
// gorilla/websocket does NOT support concurrent writes.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) WriteTextSafe(msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *wsConn) WritePing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) WriteCloseSafe(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

type textWriter interface {
	WriteTextSafe(msg string) error
}

// sendFrame writes msg taken from q. An undelivered frame goes back to
// the head of q for a reconnecting client.
func sendFrame(w textWriter, q *bus.Queue, msg string, log *zap.Logger) error {
	err := w.WriteTextSafe(msg)
	if err == nil {
		return nil
	}
	if uerr := q.Unget(msg); uerr != nil {
		log.Warn("undelivered frame dropped", zap.Error(uerr))
	}
	return err
}

// handleWS relays one interactive session.
//
// Protocol:
//
//	client → server:  any text frame, pushed verbatim as a human reply
//	server → client:  {"type":"agent_message","sender":"...","text":"..."}
//	server → client:  {"type":"final_answer","text":"..."} then close 1000
//
// Connect with ?session=<key>; the key defaults to "default". Unknown or
// already-attached sessions are closed with 1008.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("session")
	if key == "" {
		key = bus.DefaultSessionKey
	}
	log := s.log.With(zap.String("session", key), zap.String("peer", r.RemoteAddr))

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade failed", zap.Error(err))
		return
	}
	conn := &wsConn{Conn: raw}
	defer raw.Close()

	pair, ok := s.cfg.Hub.Get(key)
	if !ok {
		log.Info("relay refused: unknown session")
		_ = conn.WriteCloseSafe(websocket.ClosePolicyViolation, "unknown session")
		return
	}
	if err := pair.Attach(); err != nil {
		log.Info("relay refused: already attached")
		_ = conn.WriteCloseSafe(websocket.ClosePolicyViolation, "session already attached")
		return
	}
	defer pair.Detach()

	s.activeRelays.Add(1)
	defer s.activeRelays.Add(-1)
	log = log.With(zap.String("run", pair.ID))
	log.Info("relay attached")

	err = s.relay(conn, pair, log)
	log.Info("relay closed", zap.Error(err))
}

// relay runs the read loop, the write loop and the keepalive until one of
// them ends; the others are cancelled.
func (s *Server) relay(conn *wsConn, pair *bus.Pair, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var serverClosing atomic.Bool

	// (a) client → inbound
	g.Go(func() error {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if serverClosing.Load() {
					return nil
				}
				log.Info("client disconnected", zap.Error(err))
				if perr := pair.NotifyDisconnect(DisconnectMessage); perr != nil {
					log.Warn("disconnect notice not delivered", zap.Error(perr))
				}
				return nil
			}
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			log.Debug("inbound frame", zap.Int("bytes", len(msg)),
				zap.String("preview", utils.TruncateString(string(msg), 80, "...")))
			if err := pair.Inbound.Put(string(msg)); err != nil {
				return err
			}
		}
	})

	// (b) outbound → client
	g.Go(func() error {
		defer cancel()
		defer conn.Close()
		for {
			msg, err := pair.Outbound.Get(ctx)
			switch {
			case errors.Is(err, bus.ErrClosed):
				serverClosing.Store(true)
				_ = conn.WriteCloseSafe(websocket.CloseGoingAway, "session released")
				return nil
			case err != nil:
				if s.baseCtx.Err() != nil {
					serverClosing.Store(true)
					_ = conn.WriteCloseSafe(websocket.CloseGoingAway, "server shutdown")
				}
				return nil
			}

			if msg == bus.EndOfConversation {
				serverClosing.Store(true)
				_ = conn.WriteCloseSafe(websocket.CloseNormalClosure, "conversation finished")
				s.cfg.Hub.Release(pair)
				log.Info("conversation finished, pair released")
				return nil
			}
			log.Debug("outbound frame", zap.Int("bytes", len(msg)))
			if err := sendFrame(conn, pair.Outbound, msg, log); err != nil {
				return err
			}
		}
	})

	// keepalive
	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := conn.WritePing(); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}
