package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	streamService "github.com/zhouzirui/z-chat/backend/internal/service/stream"
)

func newTestRouter(t *testing.T) (http.Handler, *chatService.Service) {
	t.Helper()
	gateway, err := ai.NewService(context.Background(), ai.NewLoopbackChatModel(), ai.Options{}, nil)
	require.NoError(t, err)
	store := chatService.NewService(nil)
	streamer := streamService.New(store, gateway, streamService.Options{}, nil)
	return NewRouter(store, streamer, []string{"*"}, nil), store
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"ChatBot API"}`, rec.Body.String())
}

func TestChatThenHistoryThenDelete(t *testing.T) {
	router, store := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi","session_id":"s1"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response":"[loopback] hi","session_id":"s1","status":"success"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/history/s1", nil))
	var history struct {
		Messages []map[string]string `json:"messages"`
		Status   string              `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, "success", history.Status)
	assert.Equal(t, []map[string]string{
		{"role": "user", "content": "hi"},
		{"role": "assistant", "content": "[loopback] hi"},
	}, history.Messages)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/chat/session/s1", nil))
	assert.JSONEq(t, `{"status":"session_cleared"}`, rec.Body.String())
	assert.Equal(t, 0, store.Len())
}

func TestRouterSetsCORSHeaders(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
