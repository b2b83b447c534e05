package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/handler/chat"
	liveHandler "github.com/zhouzirui/pairchat/backend/internal/handler/live"
	"github.com/zhouzirui/pairchat/backend/internal/live"
	"github.com/zhouzirui/pairchat/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/pairchat/backend/internal/middleware"
	chatService "github.com/zhouzirui/pairchat/backend/internal/service/chat"
	"github.com/zhouzirui/pairchat/backend/pkg/utils"
)

// Deps 汇总路由需要的服务与配置。
type Deps struct {
	ChatService    *chatService.Service
	Hub            *live.Hub
	LiveOptions    liveHandler.Options
	JWTSecret      string
	AllowedOrigins []string
	MaxUploadBytes int64
	// UploadDir 非空时在 /uploads/ 下提供磁盘附件。
	UploadDir string
	Logger    *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	chatHandler := chat.New(deps.ChatService, deps.MaxUploadBytes, log)
	liveOpts := deps.LiveOptions
	liveOpts.AllowedOrigins = deps.AllowedOrigins
	liveH := liveHandler.New(deps.Hub, liveOpts, log)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	if deps.UploadDir != "" {
		files := http.StripPrefix("/uploads/", http.FileServer(http.Dir(deps.UploadDir)))
		r.Get("/uploads/*", files.ServeHTTP)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.Auth(deps.JWTSecret))

		chatHandler.RegisterRoutes(api)
		liveH.RegisterRoutes(api)
	})

	return r
}
