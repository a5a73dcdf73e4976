package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var _ model.ChatModel = (*OllamaChatModel)(nil)

// ollamaMessage is one message of an Ollama chat request or response.
type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// ollamaChatChunk is a whole response when stream is false and one NDJSON
// line when it is true.
type ollamaChatChunk struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// OllamaChatModel talks to an Ollama compatible /api/chat endpoint.
type OllamaChatModel struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOllamaChatModel creates a client for baseURL (e.g. http://localhost:11434).
func NewOllamaChatModel(baseURL, modelName string, httpClient *http.Client, logger *zap.Logger) *OllamaChatModel {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OllamaChatModel{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      modelName,
		httpClient: httpClient,
		logger:     logger.Named("ollama"),
	}
}

// Generate sends a non-streaming chat request.
func (m *OllamaChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	resp, err := m.post(ctx, input, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chunk ollamaChatChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return nil, errors.Wrap(err, "decode ollama response")
	}
	if chunk.Error != "" {
		return nil, errors.New(chunk.Error)
	}
	return schema.AssistantMessage(chunk.Message.Content, nil), nil
}

// Stream sends a streaming chat request and forwards each NDJSON line as a
// message chunk. A line carrying an error aborts the stream with that error.
func (m *OllamaChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	resp, err := m.post(ctx, input, true)
	if err != nil {
		return nil, err
	}

	reader, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer resp.Body.Close()
		defer writer.Close()

		done := false
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var chunk ollamaChatChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				m.logger.Warn("failed to parse chunk", zap.Error(err), zap.ByteString("line", line))
				continue
			}
			if chunk.Error != "" {
				writer.Send(nil, errors.New(chunk.Error))
				return
			}
			if chunk.Message.Content != "" {
				if closed := writer.Send(schema.AssistantMessage(chunk.Message.Content, nil), nil); closed {
					return
				}
			}
			if chunk.Done {
				done = true
				break
			}
		}

		if err := scanner.Err(); err != nil {
			writer.Send(nil, errors.Wrap(err, "read ollama stream"))
			return
		}
		if !done {
			writer.Send(nil, errors.New("ollama stream ended before done"))
		}
	}()
	return reader, nil
}

// BindTools is not supported by this client.
func (m *OllamaChatModel) BindTools(_ []*schema.ToolInfo) error {
	return errors.New("ollama chat model does not support tools")
}

func (m *OllamaChatModel) post(ctx context.Context, input []*schema.Message, stream bool) (*http.Response, error) {
	req := ollamaChatRequest{
		Model:    m.model,
		Messages: make([]ollamaMessage, 0, len(input)),
		Stream:   stream,
	}
	for _, msg := range input {
		req.Messages = append(req.Messages, ollamaMessage{Role: string(msg.Role), Content: msg.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal ollama request")
	}

	url := m.baseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create ollama request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	m.logger.Debug("forwarding request to ollama",
		zap.String("url", url),
		zap.Int("message_count", len(req.Messages)),
		zap.Bool("stream", stream),
	)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "ollama request")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp, nil
}
