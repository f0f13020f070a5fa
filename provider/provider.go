package provider

import (
	"context"

	"github.com/ragworks/docqa/config"
	openai_provider "github.com/ragworks/docqa/provider/openai"
	openrouter_provider "github.com/ragworks/docqa/provider/openrouter"
)

// ChatMessage is one turn of a chat-completion conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Embedder turns texts into vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces a completion for a conversation and exposes a health
// probe so the aggregator can report on the upstream API.
type Generator interface {
	Generate(ctx context.Context, messages []ChatMessage) (string, error)
	Ping(ctx context.Context) error
}

// NewEmbedder builds the embedding client from configuration.
func NewEmbedder(cfg config.EmbeddingConfig) Embedder {
	return openai_provider.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions, cfg.Timeout)
}

// NewGenerator builds the chat-completion client from configuration.
func NewGenerator(cfg config.LLMConfig) Generator {
	return generatorAdapter{c: openrouter_provider.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout)}
}

type generatorAdapter struct {
	c *openrouter_provider.Client
}

func (g generatorAdapter) Generate(ctx context.Context, messages []ChatMessage) (string, error) {
	converted := make([]openrouter_provider.Message, len(messages))
	for i, m := range messages {
		converted[i] = openrouter_provider.Message{Role: m.Role, Content: m.Content}
	}
	return g.c.Generate(ctx, converted)
}

func (g generatorAdapter) Ping(ctx context.Context) error { return g.c.Ping(ctx) }
