package fanout

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"factoryhub/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and streams the hello frame followed by one
// text frame per broadcast event until either side goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("fanout: websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}

	sub := h.Subscribe(TransportWS)
	go h.readPump(conn, sub)
	h.writePump(conn, sub)
}

// readPump discards client frames and closes sub when the peer disconnects
// or stops answering pings.
func (h *Hub) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer sub.Close()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debugf("fanout: websocket read: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(h.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		h.Unsubscribe(sub)
		conn.Close()
	}()

	if err := h.write(conn, websocket.TextMessage, h.Hello()); err != nil {
		return
	}

	for {
		select {
		case msg := <-sub.Messages():
			if err := h.write(conn, websocket.TextMessage, msg); err != nil {
				logger.Debugf("fanout: websocket write: %v", err)
				return
			}
		case <-ticker.C:
			if err := h.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.Done():
			_ = h.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (h *Hub) write(conn *websocket.Conn, messageType int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.opts.WriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, data)
}
