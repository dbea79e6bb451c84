// Package gemini implements the external matcher on top of Gemini text
// embeddings, keeping vectors and filterable metadata in Redis.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/logger"
	"github.com/spigell/jobmatch/internal/retry"
	"github.com/spigell/jobmatch/internal/utils"
)

const (
	Provider     = "gemini"
	defaultModel = "gemini-embedding-001"

	TaskDocument = "RETRIEVAL_DOCUMENT"
	TaskQuery    = "RETRIEVAL_QUERY"

	defaultMaxLogLength = 200
)

type embedClient interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Embedder wraps the Google GenAI client to turn text into vectors.
type Embedder struct {
	client     embedClient
	model      string
	dimensions int32
	policy     retry.Policy
	logger     *zap.Logger
}

// NewEmbedder creates an Embedder configured for the Gemini API backend.
// Zero dimensions keeps the model default.
func NewEmbedder(ctx context.Context, apiKey, model string, dimensions int, log *zap.Logger) (*Embedder, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newEmbedder(client.Models, model, dimensions, log), nil
}

func newEmbedder(client embedClient, model string, dimensions int, log *zap.Logger) *Embedder {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if dimensions < 0 {
		dimensions = 0
	}

	return &Embedder{
		client:     client,
		model:      model,
		dimensions: int32(dimensions),
		policy:     retry.DefaultPolicy(),
		logger:     logger.WithProvider(log, Provider, model),
	}
}

// WithRetryPolicy replaces the default retry policy.
func (e *Embedder) WithRetryPolicy(p retry.Policy) *Embedder {
	e.policy = p
	return e
}

// Embed returns the embedding of text for the given task type. Quota
// exhaustion is reported at once without retrying.
func (e *Embedder) Embed(ctx context.Context, text, task string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, jobs.Permanent(jobs.ErrMatcherUnavailable, "embed", errors.New("text must not be empty"))
	}

	cfg := &genai.EmbedContentConfig{TaskType: task}
	if e.dimensions > 0 {
		dims := e.dimensions
		cfg.OutputDimensionality = &dims
	}

	e.logger.Debug("gemini embed content request",
		zap.String("task", task),
		zap.Int("text_length", utf8.RuneCountInString(text)),
		zap.String("text_preview", utils.TruncateForLog(text, defaultMaxLogLength)),
	)

	return retry.Value(ctx, e.policy, e.logger, "gemini embed", func(ctx context.Context) ([]float32, error) {
		resp, err := e.client.EmbedContent(ctx, e.model, genai.Text(text), cfg)
		if err != nil {
			return nil, classify("embed content", err)
		}
		if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
			return nil, jobs.Transient(jobs.ErrMatcherUnavailable, "embed content", errors.New("gemini api returned empty embedding"))
		}
		return resp.Embeddings[0].Values, nil
	})
}

func (e *Embedder) Model() string {
	if e == nil {
		return ""
	}
	return e.model
}
