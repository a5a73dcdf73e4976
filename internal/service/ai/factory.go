package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-chat/backend/internal/config"
)

// NewChatModel builds the provider selected by cfg.Provider.
func NewChatModel(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (model.ChatModel, error) {
	switch cfg.Provider {
	case config.ProviderArk:
		return cfg.NewChatModel(ctx)
	case config.ProviderOllama:
		return NewOllamaChatModel(cfg.OllamaURL, cfg.OllamaModel, nil, logger), nil
	case config.ProviderLoopback, "":
		return NewLoopbackChatModel(), nil
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Provider)
	}
}

// NewFromConfig builds the chat model and the gateway around it.
func NewFromConfig(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	chatModel, err := NewChatModel(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewService(ctx, chatModel, Options{SystemPrompt: cfg.SystemPrompt, Timeout: cfg.Timeout}, logger)
}
