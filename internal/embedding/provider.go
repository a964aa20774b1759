// Package embedding is the document-embedding worker: a multi-provider
// registry with circuit-breaker fallback (kept nearly wholesale from the
// teacher's internal/core/embeddings, which is domain-agnostic), plus
// content chunking and vector-store writes for Spyglass chunk embeddings
// per spec.md §4.7.
package embedding

import (
	"context"
	"time"
)

// ProviderName identifies an embedding provider.
type ProviderName string

// Provider name constants.
const (
	ProviderOpenAI ProviderName = "openai"
	ProviderCohere ProviderName = "cohere"
	ProviderGoogle ProviderName = "google"
	ProviderMock   ProviderName = "mock"
)

// Priority constants for provider ordering.
const (
	PriorityPrimary        = 100 // Primary provider (OpenAI)
	PriorityFallback       = 50  // First fallback (Cohere)
	PrioritySecondFallback = 25  // Second fallback (Google)
	PriorityMock           = 0   // Mock provider for testing
)

// DefaultDimensions is the target vector width chunks are padded/truncated
// to before being written to the store's vec tables.
const DefaultDimensions = 1536

const defaultCircuitThreshold = 5

const errRateLimiterFmt = "rate limiter: %w"

const mockAPIKey = "mock"

// Result contains the embedding vector and metadata.
type Result struct {
	Vector     []float32
	Dimensions int
	Provider   ProviderName
}

// Provider defines the interface for embedding providers.
type Provider interface {
	Name() ProviderName
	GetEmbedding(ctx context.Context, text string) (Result, error)
	IsAvailable() bool
	Priority() int
	Dimensions() int
}

// CircuitBreakerConfig defines circuit breaker settings.
type CircuitBreakerConfig struct {
	Threshold  int
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig returns sensible defaults for a circuit
// breaker guarding a remote embedding provider.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:  defaultCircuitThreshold,
		ResetAfter: time.Minute,
	}
}
