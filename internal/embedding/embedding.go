// Package embedding adapts an OpenAI-compatible embedding endpoint to the
// pipeline's Embedder capability.
package embedding

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const DefaultModel = "text-embedding-3-small"

type Config struct {
	// BaseURL of the OpenAI-compatible API, e.g. http://localhost:11434/v1.
	// Empty uses the OpenAI default.
	BaseURL string
	// APIKey may be empty for local services that don't authenticate.
	APIKey string
	Model  string
}

type Embedder struct {
	embedder embeddings.Embedder
	model    string
}

func New(cfg Config) (*Embedder, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	token := strings.TrimSpace(cfg.APIKey)
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, openai.WithBaseURL(base))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	e, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}
	return &Embedder{embedder: e, model: model}, nil
}

func (e *Embedder) Model() string { return e.model }

// EmbedTexts embeds texts in one batch. The result has one vector per input,
// in input order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts to embed")
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		log.Printf("idea-sonar embed_failed model=%s count=%d err=%q", e.model, len(texts), err.Error())
		return nil, err
	}
	return vectors, nil
}
