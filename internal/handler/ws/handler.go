// Package ws carries the streamed chat protocol over a websocket. Each text
// frame from the client starts one reply; its events come back as JSON text
// frames in the same shape as the SSE endpoint.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/errs"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	streamService "github.com/zhouzirui/z-chat/backend/internal/service/stream"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Streamer runs one streamed reply.
type Streamer interface {
	Stream(ctx context.Context, sessionID, message string, sink streamService.Sink) streamService.Result
}

// Handler WebSocket聊天处理器
type Handler struct {
	streamer Streamer
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New 创建WebSocket处理器
func New(streamer Streamer, checkOrigin func(r *http.Request) bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		streamer: streamer,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("ws"),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`

	// invalid marks a frame that was not a JSON request.
	invalid bool
}

// conn serializes writers; gorilla allows one concurrent writer only.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeEvent(event chat.StreamEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(event)
}

func (c *conn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// frames without a session id fall back to the connection's session
	defaultSession := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if defaultSession == "" {
		defaultSession = uuid.NewString()
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()
	c := &conn{ws: ws}

	h.logger.Info("connection opened", zap.String("session_id", defaultSession), zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.pingLoop(ctx, c)

	// Reads run on their own goroutine so a closed connection cancels the
	// reply that is currently streaming.
	frames := make(chan inboundMessage)
	go h.readLoop(ctx, cancel, ws, frames)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("connection closed", zap.String("session_id", defaultSession))
			return
		case msg := <-frames:
			sessionID := strings.TrimSpace(msg.SessionID)
			if sessionID == "" {
				sessionID = defaultSession
			}
			if err := validate(msg); err != nil {
				if writeErr := c.writeEvent(chat.ErrorEvent(sessionID, errs.Message(err))); writeErr != nil {
					h.logger.Warn("write error frame failed", zap.String("session_id", sessionID), zap.Error(writeErr))
				}
				continue
			}

			res := h.streamer.Stream(ctx, sessionID, msg.Message, streamService.SinkFunc(c.writeEvent))
			h.logger.Debug("ws reply finished",
				zap.String("session_id", sessionID),
				zap.Stringer("state", res.State),
				zap.Int("chunks", res.Chunks),
			)
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, frames chan<- inboundMessage) {
	defer cancel()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read error", zap.Error(err))
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("malformed frame", zap.Error(err))
			msg = inboundMessage{invalid: true}
		}

		select {
		case frames <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func validate(msg inboundMessage) error {
	if msg.invalid {
		return errs.Validation("invalid request body")
	}
	if strings.TrimSpace(msg.Message) == "" {
		return errs.Validation("message is required")
	}
	return nil
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
