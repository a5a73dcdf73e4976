package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/z-chat/backend/internal/handler/stream"
	"github.com/zhouzirui/z-chat/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/z-chat/backend/internal/middleware"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	streamService "github.com/zhouzirui/z-chat/backend/internal/service/stream"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "ChatBot API"

// NewRouter wires HTTP routes to core services.
func NewRouter(store chatService.Store, streamer *streamService.Streamer, allowedOrigins []string, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(allowedOrigins))

	r.Get("/health", handleHealth)

	chat.New(store, streamer, logger).RegisterRoutes(r)
	stream.New(streamer, logger).RegisterRoutes(r)
	ws.New(streamer, middlewarePkg.OriginChecker(allowedOrigins), logger).RegisterRoutes(r)

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
	})
}
