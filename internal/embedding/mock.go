package embedding

import (
	"context"
	"hash/fnv"
)

// Mock provider constants.
const (
	lcgMultiplier = 6364136223846793005
	lcgIncrement  = 1442695040888963407

	seedShift      = 33
	floatScale     = 0x40000000
	sqrtDivisor    = 2
	sqrtIterations = 10
)

// MockProvider generates deterministic embeddings from a text hash, for
// tests and for running the worker without a configured API key.
type MockProvider struct {
	dimensions int
}

// NewMockProvider creates a mock embedding provider at DefaultDimensions.
func NewMockProvider() *MockProvider {
	return &MockProvider{dimensions: DefaultDimensions}
}

// NewMockProviderWithDimensions creates a mock provider at a custom width.
func NewMockProviderWithDimensions(dims int) *MockProvider {
	return &MockProvider{dimensions: dims}
}

// Name returns the provider identifier.
func (p *MockProvider) Name() ProviderName { return ProviderMock }

// Priority returns the provider priority.
func (p *MockProvider) Priority() int { return PriorityMock }

// Dimensions returns the output dimensions.
func (p *MockProvider) Dimensions() int { return p.dimensions }

// IsAvailable always returns true.
func (p *MockProvider) IsAvailable() bool { return true }

// GetEmbedding generates a deterministic embedding from the text's FNV hash,
// so the same input always yields the same vector.
func (p *MockProvider) GetEmbedding(_ context.Context, text string) (Result, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, p.dimensions)
	for i := range vec {
		seed = seed*lcgMultiplier + lcgIncrement
		//nolint:gosec // intentional uint64->int64 conversion for pseudo-random generation
		vec[i] = float32(int64(seed>>seedShift)-floatScale) / float32(floatScale)
	}

	vec = normalizeVector(vec)

	return Result{
		Vector:     vec,
		Dimensions: p.dimensions,
		Provider:   ProviderMock,
	}, nil
}

func normalizeVector(vec []float32) []float32 {
	var sum float32
	for _, v := range vec {
		sum += v * v
	}

	if sum == 0 {
		return vec
	}

	norm := sqrt32(sum)
	for i := range vec {
		vec[i] /= norm
	}

	return vec
}

// sqrt32 computes a float32 square root via Newton's method, avoiding a
// math.Sqrt round trip through float64 for a value that is never needed at
// that precision.
func sqrt32(x float32) float32 {
	if x <= 0 {
		return 0
	}

	z := x
	for i := 0; i < sqrtIterations; i++ {
		z = (z + x/z) / sqrtDivisor
	}

	return z
}
