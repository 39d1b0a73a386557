package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/shubhsaxena/intent-search/internal/config"
	"github.com/shubhsaxena/intent-search/internal/observability"
)

// TextGenerator produces free-form text for a prompt. Responses are
// expected to contain JSON, possibly wrapped in fenced code blocks.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder turns texts into vectors aligned positionally with the input.
// An empty or short result signals unavailability, not an error.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// GeminiClient implements both TextGenerator and Embedder over the Gemini
// API.
type GeminiClient struct {
	client *genai.Client
	cfg    config.GeminiConfig
	logger *zap.Logger
}

func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	logger.Info("gemini client created",
		zap.String("text_model", cfg.TextModel),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &GeminiClient{client: client, cfg: cfg, logger: logger}, nil
}

func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := observability.StartSpan(ctx, "llm.generate",
		attribute.String("model", g.cfg.TextModel),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	content := genai.NewContentFromText(prompt, genai.RoleUser)
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.TextModel, []*genai.Content{content}, nil)
	if err != nil {
		observability.LLMCallDuration.WithLabelValues("generate", "error").Observe(time.Since(start).Seconds())
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	observability.LLMCallDuration.WithLabelValues("generate", "success").Observe(time.Since(start).Seconds())

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini generate: no response candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func (g *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, span := observability.StartSpan(ctx, "llm.embed",
		attribute.String("model", g.cfg.EmbeddingModel),
		attribute.Int("batch_size", len(texts)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	start := time.Now()
	resp, err := g.client.Models.EmbedContent(ctx, g.cfg.EmbeddingModel, contents, nil)
	if err != nil {
		observability.LLMCallDuration.WithLabelValues("embed", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	observability.LLMCallDuration.WithLabelValues("embed", "success").Observe(time.Since(start).Seconds())

	vectors := make([][]float32, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		if emb == nil {
			continue
		}
		vectors = append(vectors, emb.Values)
	}
	return vectors, nil
}
