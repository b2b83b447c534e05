package live

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/live"
)

const (
	writeWait      = 10 * time.Second
	maxInboundSize = 4096
)

type inboundMessage struct {
	Type string `json:"type"`
}

// wsConn 把一个 WebSocket 连接适配为 live.Sink。
type wsConn struct {
	*queueSink
	conn         *websocket.Conn
	pingInterval time.Duration
	log          *zap.Logger
}

func newWSConn(conn *websocket.Conn, opts Options, log *zap.Logger) *wsConn {
	return &wsConn{
		queueSink:    newQueueSink(opts.SendBuffer),
		conn:         conn,
		pingInterval: opts.PingInterval,
		log:          log,
	}
}

// readPump 处理客户端帧，直到连接关闭。
func (c *wsConn) readPump() {
	pongWait := c.pingInterval * 2
	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(live.Envelope{Type: "error", Error: "invalid frame"})
			continue
		}

		switch msg.Type {
		case "ping":
			c.reply(live.Envelope{Type: "pong"})
		default:
			c.reply(live.Envelope{Type: "error", Error: "unsupported message type: " + msg.Type})
		}
	}
}

func (c *wsConn) reply(env live.Envelope) {
	env.Timestamp = time.Now().UnixMilli()
	if err := c.Deliver(env); err != nil {
		c.Close()
	}
}

// writePump 是唯一写连接的 goroutine。
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case env := <-c.queue:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Warn("websocket write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
