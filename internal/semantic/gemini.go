package semantic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// DefaultGeminiModel is the embedding model used when none is configured.
const DefaultGeminiModel = "text-embedding-004"

// geminiBatchLimit is the maximum number of texts per embedding request.
const geminiBatchLimit = 100

type embedContentFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)

// GeminiConfig configures the Gemini embedder.
type GeminiConfig struct {
	APIKey            string
	Model             string
	RequestsPerSecond float64
	MaxElapsed        time.Duration
}

// GeminiEmbedder embeds text with the Gemini embeddings API. Requests are rate
// limited and transient failures are retried with exponential backoff.
type GeminiEmbedder struct {
	model   string
	embed   embedContentFunc
	limiter *rate.Limiter
	logger  *zap.Logger

	backoffFactory func() backoff.BackOff
}

var _ Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder creates a client for the Gemini API.
func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required for semantic embeddings")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newGeminiEmbedder(cfg, client.Models.EmbedContent, logger), nil
}

func newGeminiEmbedder(cfg GeminiConfig, fn embedContentFunc, logger *zap.Logger) *GeminiEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	return &GeminiEmbedder{
		model:   model,
		embed:   fn,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("GeminiEmbedder"),
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = maxElapsed
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// Name identifies the embedder in logs.
func (g *GeminiEmbedder) Name() string { return "gemini:" + g.model }

// Embed sends texts in batches of at most 100.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchLimit {
		end := min(start+geminiBatchLimit, len(texts))
		vecs, err := g.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (g *GeminiEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	var vecs [][]float32
	operation := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		resp, err := g.embed(ctx, g.model, contents, nil)
		if err != nil {
			return classify(err)
		}
		if resp == nil || len(resp.Embeddings) != len(texts) {
			return backoff.Permanent(fmt.Errorf("gemini returned an unexpected number of embeddings"))
		}
		vecs = make([][]float32, len(resp.Embeddings))
		for i, e := range resp.Embeddings {
			if e == nil || len(e.Values) == 0 {
				return backoff.Permanent(fmt.Errorf("gemini returned an empty embedding at position %d", i))
			}
			vecs[i] = e.Values
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(g.backoffFactory(), ctx)); err != nil {
		g.logger.Debug("Embedding request failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	return vecs, nil
}

// classify keeps rate-limit and server errors retryable and makes every other
// API error permanent.
func classify(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		return err
	}
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return err
	}
	return backoff.Permanent(err)
}
