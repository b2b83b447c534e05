package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/live"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

// Live is a WebSocket connection to /api/live/ws that fans newMessage events
// out to subscribers.
type Live struct {
	conn *websocket.Conn
	log  *zap.Logger

	mu       sync.Mutex
	next     int
	handlers map[int]func(chat.Message)

	writeMu sync.Mutex
	done    chan struct{}
	err     error
}

// DialLive opens the live channel for the participant owning token.
func DialLive(ctx context.Context, baseURL, token string, log *zap.Logger) (*Live, error) {
	if log == nil {
		log = zap.NewNop()
	}

	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/api/live/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial live channel: %w", err)
	}

	l := &Live{
		conn:     conn,
		log:      log,
		handlers: make(map[int]func(chat.Message)),
		done:     make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

// Subscribe registers handler and returns the handle that removes it.
func (l *Live) Subscribe(handler func(chat.Message)) func() {
	l.mu.Lock()
	id := l.next
	l.next++
	l.handlers[id] = handler
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.handlers, id)
			l.mu.Unlock()
		})
	}
}

// Ping asks the server for a pong frame.
func (l *Live) Ping() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return l.conn.WriteJSON(map[string]string{"type": "ping"})
}

// Done is closed when the connection ends; Err then reports why.
func (l *Live) Done() <-chan struct{} { return l.done }

// Err returns the read error that ended the connection.
func (l *Live) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

// Close ends the connection.
func (l *Live) Close() error {
	l.writeMu.Lock()
	_ = l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	l.writeMu.Unlock()
	err := l.conn.Close()
	<-l.done
	return err
}

func (l *Live) readLoop() {
	defer close(l.done)
	for {
		var env live.Envelope
		if err := l.conn.ReadJSON(&env); err != nil {
			l.err = err
			return
		}

		switch env.Type {
		case live.EventNewMessage:
			if env.Data != nil {
				l.dispatch(*env.Data)
			}
		case "error":
			l.log.Warn("live channel error", zap.String("error", env.Error))
		}
	}
}

// dispatch calls handlers outside the lock so they may unsubscribe.
func (l *Live) dispatch(msg chat.Message) {
	l.mu.Lock()
	handlers := make([]func(chat.Message), 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}
