package ai

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
)

var _ model.ChatModel = (*LoopbackChatModel)(nil)

// LoopbackChatModel echoes the last user message back. It needs no
// credentials and is used for local runs and wiring checks.
type LoopbackChatModel struct{}

// NewLoopbackChatModel creates a LoopbackChatModel.
func NewLoopbackChatModel() *LoopbackChatModel {
	return &LoopbackChatModel{}
}

// Generate fabricates a deterministic reply.
func (m *LoopbackChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	reply, err := loopbackReply(input)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(reply, nil), nil
}

// Stream yields the same reply as Generate, one word per chunk.
func (m *LoopbackChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	reply, err := loopbackReply(input)
	if err != nil {
		return nil, err
	}

	parts := splitWords(reply)
	reader, writer := schema.Pipe[*schema.Message](len(parts))
	go func() {
		defer writer.Close()
		for _, part := range parts {
			if ctx.Err() != nil {
				writer.Send(nil, ctx.Err())
				return
			}
			if closed := writer.Send(schema.AssistantMessage(part, nil), nil); closed {
				return
			}
		}
	}()
	return reader, nil
}

// BindTools is a no-op; loopback never calls tools.
func (m *LoopbackChatModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

func loopbackReply(input []*schema.Message) (string, error) {
	if len(input) == 0 {
		return "", errors.New("no messages provided")
	}

	message := input[len(input)-1]
	for i := len(input) - 1; i >= 0; i-- {
		if input[i].Role == schema.User {
			message = input[i]
			break
		}
	}
	return "[loopback] " + strings.TrimSpace(message.Content), nil
}

// splitWords cuts s after each space so the parts concatenate back to s.
func splitWords(s string) []string {
	parts := strings.SplitAfter(s, " ")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
