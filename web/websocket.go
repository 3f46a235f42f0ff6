package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mjasion/balena-home/dashboard/pkg/metrics"
	"github.com/mjasion/balena-home/dashboard/view"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 10
)

// wsEnvelope is the message sent to view subscribers
type wsEnvelope struct {
	Type string    `json:"type"`
	Data view.View `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleWebSocket streams the rendered view: once on connect, then after
// every state change. Clients only ever receive the latest view.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	updates, unsubscribe := s.opts.Store.Subscribe()
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	metrics.WebSocketClients.Inc()
	defer metrics.WebSocketClients.Dec()
	s.logger.Debug("websocket client connected", zap.String("remote_addr", r.RemoteAddr))

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go s.readPump(conn, done)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if err := s.sendView(conn, s.currentView()); err != nil {
		s.logger.Debug("websocket initial write failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-done:
			return
		case <-s.closing:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		case snap := <-updates:
			if err := s.sendView(conn, view.Render(s.opts.Variant, snap)); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

// readPump drains incoming frames so control frames are handled and
// closes done when the client goes away
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) sendView(conn *websocket.Conn, v view.View) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(wsEnvelope{Type: "view", Data: v})
}
