package live

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/live"
	"github.com/zhouzirui/pairchat/backend/internal/middleware"
	"github.com/zhouzirui/pairchat/backend/pkg/utils"
)

// Options 控制每个连接的缓冲与心跳，以及 WebSocket 握手允许的来源。
type Options struct {
	SendBuffer     int
	PingInterval   time.Duration
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.SendBuffer < 1 {
		o.SendBuffer = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	return o
}

// Handler 实时推送通道的HTTP处理器
type Handler struct {
	hub      *live.Hub
	opts     Options
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// New 创建实时通道处理器
func New(hub *live.Hub, opts Options, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		hub:  hub,
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     middleware.OriginAllowed(opts.AllowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
}

// RegisterRoutes 注册 WebSocket 与 SSE 路由，调用方需先挂载认证中间件。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/live/ws", h.handleWebSocket)
	r.Get("/live/events", h.handleEvents)
}

// handleWebSocket 建立 WebSocket 连接并登记到 hub
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newWSConn(conn, h.opts, h.log.With(zap.String("userId", userID)))
	unregister := h.hub.Register(userID, c)
	c.log.Info("websocket connected")

	go c.writePump()
	c.readPump()

	unregister()
	c.Close()
	c.log.Info("websocket disconnected")
}

// handleEvents 以 Server-Sent Events 推送新消息
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := newQueueSink(h.opts.SendBuffer)
	unregister := h.hub.Register(userID, sink)
	defer unregister()

	log := h.log.With(zap.String("userId", userID))
	log.Info("sse stream opened")

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info("sse stream closed")
			return
		case <-sink.done:
			log.Info("sse stream dropped")
			return
		case env := <-sink.queue:
			if err := utils.SendSSEEvent(w, flusher, env.Type, env.Data); err != nil {
				log.Warn("sse write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "ping"); err != nil {
				return
			}
		}
	}
}
