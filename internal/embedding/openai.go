package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAI model constants.
const (
	ModelTextEmbedding3Large = "text-embedding-3-large"
	ModelTextEmbedding3Small = "text-embedding-3-small"

	openaiRateLimiterBurst = 5

	// maxLargeDimensions is the native width of text-embedding-3-large;
	// the API accepts a smaller Dimensions parameter to shrink it.
	maxLargeDimensions = 3072
)

// ErrOpenAIEmptyResponse indicates OpenAI returned no embedding data.
var ErrOpenAIEmptyResponse = errors.New("empty embedding response from openai")

// OpenAIProvider implements Provider against the OpenAI embeddings API.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	dimensions  int
	rateLimiter *rate.Limiter
	mu          sync.RWMutex
	available   bool
}

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	APIKey     string
	Model      string
	Dimensions int
	RateLimit  int
}

// NewOpenAIProvider creates a new OpenAI embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = ModelTextEmbedding3Large
	}

	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}

	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1
	}

	return &OpenAIProvider{
		client:      openai.NewClient(cfg.APIKey),
		model:       cfg.Model,
		dimensions:  cfg.Dimensions,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), openaiRateLimiterBurst),
		available:   cfg.APIKey != "" && cfg.APIKey != mockAPIKey,
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() ProviderName { return ProviderOpenAI }

// Priority returns the provider priority.
func (p *OpenAIProvider) Priority() int { return PriorityPrimary }

// Dimensions returns the configured output dimensions.
func (p *OpenAIProvider) Dimensions() int { return p.dimensions }

// IsAvailable returns true if the provider is configured and usable.
func (p *OpenAIProvider) IsAvailable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.available
}

// GetEmbedding generates an embedding for text via the OpenAI API.
func (p *OpenAIProvider) GetEmbedding(ctx context.Context, text string) (Result, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf(errRateLimiterFmt, err)
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	}

	if p.model == ModelTextEmbedding3Large && p.dimensions > 0 && p.dimensions < maxLargeDimensions {
		req.Dimensions = p.dimensions
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) == 0 {
		return Result{}, ErrOpenAIEmptyResponse
	}

	return Result{
		Vector:     resp.Data[0].Embedding,
		Dimensions: len(resp.Data[0].Embedding),
		Provider:   ProviderOpenAI,
	}, nil
}
