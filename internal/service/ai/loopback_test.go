package ai

import (
	"context"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

func TestLoopbackEchoesLastUserMessage(t *testing.T) {
	m := NewLoopbackChatModel()
	resp, err := m.Generate(context.Background(), []*schema.Message{
		schema.UserMessage("first"),
		schema.AssistantMessage("reply", nil),
		schema.UserMessage("  Hello there  "),
	})
	require.NoError(t, err)
	assert.Equal(t, schema.Assistant, resp.Role)
	assert.Equal(t, "[loopback] Hello there", resp.Content)
}

func TestLoopbackRejectsEmptyInput(t *testing.T) {
	_, err := NewLoopbackChatModel().Generate(context.Background(), nil)
	assert.Error(t, err)
}

func TestLoopbackStreamMatchesGenerate(t *testing.T) {
	svc, err := NewService(context.Background(), NewLoopbackChatModel(), Options{}, nil)
	require.NoError(t, err)

	turns := []chat.Turn{chat.UserTurn("stream me please")}
	whole, err := svc.Generate(context.Background(), turns)
	require.NoError(t, err)

	stream, err := svc.GenerateStream(context.Background(), turns)
	require.NoError(t, err)
	fragments, err := drain(t, stream)
	require.NoError(t, err)

	assert.Greater(t, len(fragments), 1)
	assert.Equal(t, whole, strings.Join(fragments, ""))
}

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"a ", "b ", "c"}, splitWords("a b c"))
	assert.Equal(t, []string{"solo"}, splitWords("solo"))
}
