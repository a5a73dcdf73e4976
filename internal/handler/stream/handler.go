package stream

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/errs"
	chatHandler "github.com/zhouzirui/z-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	streamService "github.com/zhouzirui/z-chat/backend/internal/service/stream"
	"github.com/zhouzirui/z-chat/backend/pkg/utils"
)

// Streamer runs one streamed reply.
type Streamer interface {
	Stream(ctx context.Context, sessionID, message string, sink streamService.Sink) streamService.Result
}

// Handler manages streaming AI responses via Server-Sent Events
type Handler struct {
	streamer Streamer
	logger   *zap.Logger
}

// New creates a new stream handler
func New(streamer Streamer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		streamer: streamer,
		logger:   logger.Named("sse"),
	}
}

// RegisterRoutes mounts POST /chat/stream.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/stream", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	req, err := chatHandler.DecodeRequest(w, r)
	if err != nil {
		utils.RespondError(w, errs.HTTPStatus(err), errs.Message(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sink := &sseSink{w: w, flusher: flusher}
	res := h.streamer.Stream(r.Context(), req.SessionID, req.Message, sink)

	if !sink.started && res.Err != nil && r.Context().Err() == nil {
		// nothing was streamed, so a plain error body is still possible
		utils.RespondError(w, errs.HTTPStatus(res.Err), errs.Message(res.Err))
		return
	}

	h.logger.Debug("sse request finished",
		zap.String("session_id", res.SessionID),
		zap.Stringer("state", res.State),
		zap.Int("chunks", res.Chunks),
	)
}

// sseSink writes events as SSE frames. Headers go out with the first event.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseSink) Send(event chat.StreamEvent) error {
	if !s.started {
		utils.SetupSSEHeaders(s.w)
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	return utils.SendSSEChunk(s.w, s.flusher, event)
}
