package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// Google embedding constants.
const (
	// ModelGeminiEmbedding001 is Google's current embedding model.
	ModelGeminiEmbedding001 = "gemini-embedding-001"

	// gemini-embedding-001 produces 3072-dimensional vectors by default;
	// truncatable to 768/1536/3072 via output_dimensionality.
	googleDimensions = 3072

	googleRateLimiterBurst = 5
)

// Google embedding errors.
var (
	ErrGoogleEmptyResponse = errors.New("empty embedding response from google")
	ErrGoogleAPIFailure    = errors.New("google embedding api error")
)

// GoogleProvider implements Provider against the Gemini embedding API.
type GoogleProvider struct {
	client      *genai.Client
	model       string
	rateLimiter *rate.Limiter
	mu          sync.RWMutex
	available   bool
}

// GoogleConfig holds configuration for the Google embedding provider.
type GoogleConfig struct {
	APIKey    string
	Model     string
	RateLimit int
}

// NewGoogleProvider creates a new Google embedding provider. An empty
// APIKey yields an unavailable provider rather than an error, so the
// registry can still start up without every provider configured.
func NewGoogleProvider(ctx context.Context, cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return &GoogleProvider{available: false}, nil
	}

	if cfg.Model == "" {
		cfg.Model = ModelGeminiEmbedding001
	}

	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating google genai client: %w", err)
	}

	return &GoogleProvider{
		client:      client,
		model:       cfg.Model,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), googleRateLimiterBurst),
		available:   true,
	}, nil
}

// Name returns the provider identifier.
func (p *GoogleProvider) Name() ProviderName { return ProviderGoogle }

// Priority returns the provider priority.
func (p *GoogleProvider) Priority() int { return PrioritySecondFallback }

// Dimensions returns the output width of gemini-embedding-001.
func (p *GoogleProvider) Dimensions() int { return googleDimensions }

// IsAvailable returns true if the provider is configured and usable.
func (p *GoogleProvider) IsAvailable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.available
}

// GetEmbedding generates an embedding for text via the Gemini API.
func (p *GoogleProvider) GetEmbedding(ctx context.Context, text string) (Result, error) {
	if err := p.rateLimiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf(errRateLimiterFmt, err)
	}

	em := p.client.EmbeddingModel(p.model)

	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrGoogleAPIFailure, err)
	}

	if resp == nil || resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return Result{}, ErrGoogleEmptyResponse
	}

	return Result{
		Vector:     resp.Embedding.Values,
		Dimensions: len(resp.Embedding.Values),
		Provider:   ProviderGoogle,
	}, nil
}

// Close releases the underlying genai client.
func (p *GoogleProvider) Close() error {
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("closing google embedding client: %w", err)
		}
	}

	return nil
}
