package llmclient

import (
	"context"
	"fmt"

	"graph-ingest/config"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// Embedder maps a text to a vector. Implementations must be safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a plain function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// langchainEmbedder wraps a langchaingo embedder (Ollama or OpenAI-compatible).
type langchainEmbedder struct {
	embedder embeddings.Embedder
}

func (e *langchainEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}
	return vector, nil
}

// NewEmbedder builds the embedder selected by EMBEDDING_PROVIDER.
func NewEmbedder(cfg *config.Config, logger *zap.Logger) (Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "llamacpp", "llama.cpp":
		logger.Info("Using llama.cpp embedding server", zap.String("host", cfg.EmbeddingLLMHost))
		return New(cfg, logger), nil

	case "ollama", "":
		client, err := ollama.New(
			ollama.WithServerURL(cfg.OllamaBaseURL),
			ollama.WithModel(cfg.EmbeddingModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		embedder, err := embeddings.NewEmbedder(client)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}
		logger.Info("Using Ollama embeddings",
			zap.String("host", cfg.OllamaBaseURL),
			zap.String("model", cfg.EmbeddingModel))
		return &langchainEmbedder{embedder: embedder}, nil

	case "openai":
		opts := []openai.Option{openai.WithEmbeddingModel(cfg.EmbeddingModel)}
		if cfg.OpenAIAPIKey != "" {
			opts = append(opts, openai.WithToken(cfg.OpenAIAPIKey))
		} else {
			// Local OpenAI-compatible services usually don't check the token
			opts = append(opts, openai.WithToken("none"))
		}
		if cfg.EmbeddingLLMHost != "" {
			opts = append(opts, openai.WithBaseURL(cfg.EmbeddingLLMHost))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}
		logger.Info("Using OpenAI-compatible embeddings", zap.String("model", cfg.EmbeddingModel))
		return &langchainEmbedder{embedder: embedder}, nil
	}

	return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
}
