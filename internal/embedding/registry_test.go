package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// failingProvider always errors, to exercise registry fallback.
type failingProvider struct {
	name     ProviderName
	priority int
}

func (p *failingProvider) Name() ProviderName { return p.name }
func (p *failingProvider) GetEmbedding(context.Context, string) (Result, error) {
	return Result{}, errors.New("boom")
}
func (p *failingProvider) IsAvailable() bool { return true }
func (p *failingProvider) Priority() int     { return p.priority }
func (p *failingProvider) Dimensions() int   { return 8 }

func TestRegistryFallsBackToNextProvider(t *testing.T) {
	logger := zerolog.Nop()
	reg := NewRegistry(DefaultDimensions, &logger)

	reg.Register(&failingProvider{name: "primary", priority: PriorityPrimary}, DefaultCircuitBreakerConfig())
	reg.Register(NewMockProvider(), DefaultCircuitBreakerConfig())

	result, err := reg.GetEmbeddingWithMetadata(context.Background(), "hello world")
	require.NoError(t, err)
	require.Equal(t, ProviderMock, result.Provider)
	require.Len(t, result.Vector, DefaultDimensions)
}

func TestRegistryReturnsErrorWhenAllProvidersFail(t *testing.T) {
	logger := zerolog.Nop()
	reg := NewRegistry(DefaultDimensions, &logger)

	reg.Register(&failingProvider{name: "only", priority: PriorityPrimary}, DefaultCircuitBreakerConfig())

	_, err := reg.GetEmbeddingWithMetadata(context.Background(), "hello world")
	require.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestRegistryNoProvidersAvailable(t *testing.T) {
	logger := zerolog.Nop()
	reg := NewRegistry(DefaultDimensions, &logger)

	_, err := reg.GetEmbeddingWithMetadata(context.Background(), "hello world")
	require.ErrorIs(t, err, ErrNoProvidersAvailable)
}

func TestRegistryProviderNamesOrderedByPriority(t *testing.T) {
	logger := zerolog.Nop()
	reg := NewRegistry(DefaultDimensions, &logger)

	reg.Register(NewMockProvider(), DefaultCircuitBreakerConfig())
	reg.Register(&failingProvider{name: "primary", priority: PriorityPrimary}, DefaultCircuitBreakerConfig())

	names := reg.ProviderNames()
	require.Equal(t, ProviderName("primary"), names[0])
	require.Equal(t, ProviderMock, names[1])
	require.Equal(t, 2, reg.ProviderCount())
}
