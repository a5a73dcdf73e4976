package ai

import (
	"context"
	"io"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/errs"
	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/pkg/logger"
)

// FragmentStream is a finite, single use sequence of reply fragments.
// Recv returns io.EOF once the provider is done. Close must always be called.
type FragmentStream interface {
	Recv() (string, error)
	Close()
}

// Options tune a Service.
type Options struct {
	// SystemPrompt is prepended to every call. It is never stored in a log.
	SystemPrompt string
	// Timeout bounds one Generate call or one whole stream. Zero means none.
	Timeout time.Duration
}

// Service is the model gateway. It is stateless: each call rebuilds the
// provider context from the supplied history alone.
type Service struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	opts   Options
	logger *zap.Logger
}

// NewService compiles the prompt chain around chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel, opts Options, log *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	templates := make([]schema.MessagesTemplate, 0, 2)
	if opts.SystemPrompt != "" {
		templates = append(templates, schema.SystemMessage("{system}"))
	}
	templates = append(templates, schema.MessagesPlaceholder("history", false))

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(prompt.FromMessages(schema.FString, templates...))
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "compile chat chain")
	}

	return &Service{
		chain:  runnable,
		opts:   opts,
		logger: log.Named("gateway"),
	}, nil
}

// Generate returns the whole reply for history.
func (s *Service) Generate(ctx context.Context, history []chat.Turn) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	response, err := s.chain.Invoke(ctx, s.buildChainInput(history))
	if err != nil {
		return "", errs.Upstream(errors.Wrap(err, "generate"))
	}
	if response == nil {
		return "", errs.Upstream(errors.New("provider returned no message"))
	}

	s.logger.Debug("generated reply",
		zap.Int("history", len(history)),
		zap.Int("length", len(response.Content)),
		zap.String("preview", logger.Preview(response.Content, 80)),
		zap.Duration("duration", time.Since(start)),
	)
	return response.Content, nil
}

// GenerateStream starts a streamed reply for history.
func (s *Service) GenerateStream(ctx context.Context, history []chat.Turn) (FragmentStream, error) {
	ctx, cancel := s.withTimeout(ctx)

	reader, err := s.chain.Stream(ctx, s.buildChainInput(history))
	if err != nil {
		cancel()
		return nil, errs.Upstream(errors.Wrap(err, "open stream"))
	}

	s.logger.Debug("stream opened", zap.Int("history", len(history)))
	return &messageStream{reader: reader, cancel: cancel}, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) buildChainInput(history []chat.Turn) map[string]any {
	input := map[string]any{"history": buildHistoryMessages(history)}
	if s.opts.SystemPrompt != "" {
		input["system"] = s.opts.SystemPrompt
	}
	return input
}

func buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}

// messageStream adapts an eino message stream to FragmentStream.
type messageStream struct {
	reader *schema.StreamReader[*schema.Message]
	cancel context.CancelFunc
}

func (m *messageStream) Recv() (string, error) {
	for {
		chunk, err := m.reader.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", errs.Upstream(errors.Wrap(err, "receive fragment"))
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		return chunk.Content, nil
	}
}

func (m *messageStream) Close() {
	m.reader.Close()
	m.cancel()
}
