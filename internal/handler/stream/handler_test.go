package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatHandler "github.com/zhouzirui/z-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/z-chat/backend/internal/service/chat"
	streamservice "github.com/zhouzirui/z-chat/backend/internal/service/stream"
)

// failingModel yields its fragments and then aborts.
type failingModel struct {
	fragments []string
}

func (m *failingModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not used")
}

func (m *failingModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	reader, writer := schema.Pipe[*schema.Message](len(m.fragments) + 1)
	for _, f := range m.fragments {
		writer.Send(schema.AssistantMessage(f, nil), nil)
	}
	writer.Send(nil, errors.New("connection reset"))
	writer.Close()
	return reader, nil
}

func (m *failingModel) BindTools([]*schema.ToolInfo) error { return nil }

func setupServer(t *testing.T, chatModel model.ChatModel) (*httptest.Server, *chatservice.Service) {
	t.Helper()
	gateway, err := ai.NewService(context.Background(), chatModel, ai.Options{}, nil)
	require.NoError(t, err)

	store := chatservice.NewService(nil)
	streamer := streamservice.New(store, gateway, streamservice.Options{}, nil)

	r := chi.NewRouter()
	New(streamer, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func readEvents(t *testing.T, body io.Reader) []chat.StreamEvent {
	t.Helper()
	var events []chat.StreamEvent
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev chat.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func post(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/chat/stream", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStreamWritesEventsInOrder(t *testing.T) {
	srv, store := setupServer(t, ai.NewLoopbackChatModel())

	resp := post(t, srv, `{"message":"hello there","session_id":"s1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp.Body)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, chat.SessionStartEvent("s1"), events[0])

	var joined strings.Builder
	for _, ev := range events[1 : len(events)-1] {
		require.Equal(t, chat.EventChunk, ev.Type)
		joined.WriteString(ev.Text)
	}
	last := events[len(events)-1]
	assert.Equal(t, chat.EventComplete, last.Type)
	assert.Equal(t, "[loopback] hello there", last.Text)
	assert.Equal(t, last.Text, joined.String())

	turns := store.GetOrCreate(context.Background(), "s1").Log.Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, last.Text, turns[1].Content)
}

func TestStreamWireCarriesTypeDiscriminator(t *testing.T) {
	srv, _ := setupServer(t, ai.NewLoopbackChatModel())

	resp := post(t, srv, `{"message":"hi","session_id":"s1"}`)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	frames := strings.Split(strings.TrimSpace(string(raw)), "\n\n")
	assert.JSONEq(t, `{"type":"session_start","session_id":"s1"}`, strings.TrimPrefix(frames[0], "data: "))
	assert.Contains(t, frames[len(frames)-1], `"full_response":"[loopback] hi"`)
}

func TestStreamUpstreamFailureEndsWithErrorEvent(t *testing.T) {
	srv, store := setupServer(t, &failingModel{fragments: []string{"par"}})

	resp := post(t, srv, `{"message":"hi","session_id":"s1"}`)
	events := readEvents(t, resp.Body)

	require.Len(t, events, 3)
	assert.Equal(t, chat.EventSessionStart, events[0].Type)
	assert.Equal(t, chat.ChunkEvent("s1", "par"), events[1])
	assert.Equal(t, chat.EventError, events[2].Type)
	assert.Contains(t, events[2].Text, "connection reset")

	turns := store.GetOrCreate(context.Background(), "s1").Log.Snapshot()
	require.Len(t, turns, 1)
	assert.Equal(t, chat.RoleUser, turns[0].Role)
}

func TestStreamRejectsEmptyMessageWithoutStreaming(t *testing.T) {
	srv, store := setupServer(t, ai.NewLoopbackChatModel())

	resp := post(t, srv, `{"message":""}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, 0, store.Len())
}

func TestStreamGeneratesSessionID(t *testing.T) {
	srv, _ := setupServer(t, ai.NewLoopbackChatModel())

	resp := post(t, srv, `{"message":"hi"}`)
	events := readEvents(t, resp.Body)

	require.NotEmpty(t, events)
	id := events[0].SessionID
	assert.NotEmpty(t, id)
	for _, ev := range events {
		assert.Equal(t, id, ev.SessionID)
	}
}

func TestStreamRejectsOversizedBody(t *testing.T) {
	srv, store := setupServer(t, ai.NewLoopbackChatModel())

	resp := post(t, srv, `{"message":"`+strings.Repeat("a", chatHandler.MaxRequestBytes)+`"}`)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEqual(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, 0, store.Len())
}
