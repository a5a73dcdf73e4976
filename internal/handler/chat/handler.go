package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/errs"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

// Replier 生成非流式回复
type Replier interface {
	Reply(ctx context.Context, sessionID, message string) (string, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	store   chatService.Store
	replier Replier
	logger  *zap.Logger
}

// New 创建聊天处理器
func New(store chatService.Store, replier Replier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:   store,
		replier: replier,
		logger:  logger.Named("chat"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Post("/chat/session", h.handleCreateSession)
	r.Get("/chat/history/{sessionID}", h.handleHistory)
	r.Delete("/chat/session/{sessionID}", h.handleDeleteSession)
}

// Request is the body of POST /chat and POST /chat/stream.
type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// MaxRequestBytes caps the body of a chat request.
const MaxRequestBytes = 1 << 20

// DecodeRequest reads and validates a chat request. A missing session id is
// replaced by a fresh one.
func DecodeRequest(w http.ResponseWriter, r *http.Request) (Request, error) {
	var req Request
	body := http.MaxBytesReader(w, r.Body, MaxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, errs.Validation("request body too large")
		}
		return req, errs.Validation("invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return req, errs.Validation("message is required")
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	return req, nil
}

// handleChat 同步返回完整回复
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := DecodeRequest(w, r)
	if err != nil {
		h.respondErr(w, err)
		return
	}

	reply, err := h.replier.Reply(r.Context(), req.SessionID, req.Message)
	if err != nil {
		h.logger.Warn("chat failed", zap.String("session_id", req.SessionID), zap.Error(err))
		h.respondErr(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"response":   reply,
		"session_id": req.SessionID,
		"status":     "success",
	})
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session := h.store.CreateSession(r.Context())
	h.logger.Debug("session created", zap.String("session_id", session.ID))

	utils.RespondJSON(w, http.StatusCreated, map[string]string{
		"session_id": session.ID,
		"status":     "session_created",
	})
}

// handleHistory 返回会话历史, 未知会话返回空列表
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	withTimestamps := r.URL.Query().Get("timestamps") == "true"

	messages, err := h.store.History(r.Context(), sessionID, withTimestamps)
	if errs.KindOf(err) == errs.KindNotFound {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"messages": []chat.Message{},
			"status":   "no_session_found",
		})
		return
	}
	if err != nil {
		h.respondErr(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"status":   "success",
	})
}

// handleDeleteSession 删除会话, 重复删除不报错
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	status := "session_not_found"
	if h.store.Delete(r.Context(), sessionID) {
		status = "session_cleared"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	utils.RespondError(w, errs.HTTPStatus(err), errs.Message(err))
}
