package chat

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/attachment"
	"github.com/zhouzirui/pairchat/backend/internal/middleware"
	chatService "github.com/zhouzirui/pairchat/backend/internal/service/chat"
	"github.com/zhouzirui/pairchat/backend/pkg/utils"
)

const defaultMaxUploadBytes = 10 << 20

// Handler 聊天消息的HTTP处理器
type Handler struct {
	chatSvc        *chatService.Service
	maxUploadBytes int64
	log            *zap.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, maxUploadBytes int64, log *zap.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		chatSvc:        chatSvc,
		maxUploadBytes: maxUploadBytes,
		log:            log,
	}
}

// RegisterRoutes 注册聊天相关的路由，调用方需先挂载认证中间件。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/messages/{partnerId}", h.handleListMessages)
	r.Post("/messages/send/{partnerId}", h.handleSendMessage)
}

// handleListMessages 返回与对方的完整会话
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	selfID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	messages, err := h.chatSvc.ListConversation(r.Context(), selfID, chi.URLParam(r, "partnerId"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, messages)
}

type sendPayload struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// handleSendMessage 发送消息，支持 JSON 与 multipart 两种请求体
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	selfID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	text, image, err := h.decodeSend(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, attachment.ErrInvalidAttachment):
			utils.RespondError(w, http.StatusBadRequest, err.Error())
		default:
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		}
		return
	}

	message, err := h.chatSvc.Send(r.Context(), chatService.SendRequest{
		SelfID:    selfID,
		PartnerID: chi.URLParam(r, "partnerId"),
		Text:      text,
		Image:     image,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, message)
}

func (h *Handler) decodeSend(r *http.Request) (string, *attachment.Payload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return h.decodeMultipart(r)
	}

	var payload sendPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return "", nil, err
	}
	image, err := attachment.ParseInline(payload.Image)
	if err != nil {
		return "", nil, err
	}
	return payload.Text, image, nil
}

func (h *Handler) decodeMultipart(r *http.Request) (string, *attachment.Payload, error) {
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		return "", nil, err
	}
	text := r.FormValue("text")

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		// 客户端也可以把图片 URL 或 base64 放在普通字段里。
		image, err := attachment.ParseInline(r.FormValue("image"))
		return text, image, err
	}
	if err != nil {
		return "", nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, err
	}
	return text, attachment.FromBytes(data, header.Filename), nil
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrInvalidIdentifier),
		errors.Is(err, chatService.ErrEmptyMessage),
		errors.Is(err, attachment.ErrInvalidAttachment):
		utils.RespondError(w, http.StatusBadRequest, firstLine(err))
	case errors.Is(err, attachment.ErrAttachmentUploadFailed):
		utils.RespondError(w, http.StatusInternalServerError, attachment.ErrAttachmentUploadFailed.Error())
	case errors.Is(err, chatService.ErrStoreUnavailable):
		utils.RespondError(w, http.StatusInternalServerError, chatService.ErrStoreUnavailable.Error())
	default:
		h.log.Error("unexpected chat error", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// firstLine 去掉 errors.Join 拼接的底层原因，避免把内部细节返回给客户端。
func firstLine(err error) string {
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return msg
}
