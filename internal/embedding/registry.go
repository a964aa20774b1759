package embedding

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry errors.
var (
	ErrNoProvidersAvailable = errors.New("no embedding providers available")
	ErrAllProvidersFailed   = errors.New("all embedding providers failed")
)

const logKeyProvider = "provider"

// Registry manages embedding providers with priority fallback, per
// spec.md §4.7: try providers in descending priority, skip any whose
// circuit breaker is open, fall through to the next on failure.
type Registry struct {
	mu              sync.RWMutex
	providers       map[ProviderName]Provider
	order           []ProviderName
	circuitBreakers map[ProviderName]*CircuitBreaker
	targetDimension int
	logger          *zerolog.Logger
}

// NewRegistry creates a new provider registry targeting targetDimension.
func NewRegistry(targetDimension int, logger *zerolog.Logger) *Registry {
	return &Registry{
		providers:       make(map[ProviderName]Provider),
		order:           make([]ProviderName, 0),
		circuitBreakers: make(map[ProviderName]*CircuitBreaker),
		targetDimension: targetDimension,
		logger:          logger,
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider, cfg CircuitBreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	r.providers[name] = p
	r.order = append(r.order, name)
	r.circuitBreakers[name] = NewCircuitBreaker(cfg, r.logger)

	r.sortProvidersByPriority()
	setEmbeddingProviderAvailable(name, p.IsAvailable())

	r.logger.Info().
		Str(logKeyProvider, string(name)).
		Int("priority", p.Priority()).
		Int("dimensions", p.Dimensions()).
		Msg("registered embedding provider")
}

// GetEmbedding returns a vector padded/truncated to the registry's target
// dimension, using the highest-priority available provider and falling
// back on failure.
func (r *Registry) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	result, err := r.GetEmbeddingWithMetadata(ctx, text)
	if err != nil {
		return nil, err
	}

	return result.Vector, nil
}

// GetEmbeddingWithMetadata returns the full embedding result, including
// which provider served the request.
func (r *Registry) GetEmbeddingWithMetadata(ctx context.Context, text string) (Result, error) {
	r.mu.RLock()
	providers := r.getActiveProviders()

	primary := ProviderName("")
	if len(r.order) > 0 {
		primary = r.order[0]
	}

	r.mu.RUnlock()

	if len(providers) == 0 {
		return Result{}, ErrNoProvidersAvailable
	}

	var lastErr error

	for _, p := range providers {
		name := p.Name()
		cb := r.getCircuitBreaker(name)

		if !cb.CanAttempt() {
			r.logger.Debug().Str(logKeyProvider, string(name)).Msg("skipping provider - circuit breaker open")
			setEmbeddingProviderAvailable(name, false)

			continue
		}

		start := time.Now()
		result, err := p.GetEmbedding(ctx, text)
		recordEmbeddingLatency(name, time.Since(start))

		if err != nil {
			cb.RecordFailure(name)
			recordEmbeddingRequest(name, false)

			lastErr = err

			r.logger.Warn().Err(err).Str(logKeyProvider, string(name)).Msg("embedding provider failed, trying fallback")

			continue
		}

		cb.RecordSuccess()
		recordEmbeddingRequest(name, true)
		setEmbeddingProviderAvailable(name, true)

		if primary != "" && name != primary {
			recordEmbeddingFallback(primary, name)
			r.logger.Info().Str(logKeyProvider, string(name)).Str("from_provider", string(primary)).Msg("used fallback embedding provider")
		}

		result.Vector = PadToTargetDimensions(result.Vector, r.targetDimension)
		result.Dimensions = r.targetDimension

		return result, nil
	}

	if lastErr != nil {
		return Result{}, errors.Join(ErrAllProvidersFailed, lastErr)
	}

	return Result{}, ErrNoProvidersAvailable
}

// ProviderCount returns the number of registered providers.
func (r *Registry) ProviderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.providers)
}

// ProviderNames returns all registered provider names in priority order.
func (r *Registry) ProviderNames() []ProviderName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]ProviderName, len(r.order))
	copy(names, r.order)

	return names
}

func (r *Registry) getActiveProviders() []Provider {
	active := make([]Provider, 0, len(r.providers))

	for _, name := range r.order {
		p := r.providers[name]
		if p.IsAvailable() {
			active = append(active, p)
		}
	}

	return active
}

func (r *Registry) sortProvidersByPriority() {
	sort.SliceStable(r.order, func(i, j int) bool {
		pi := r.providers[r.order[i]].Priority()
		pj := r.providers[r.order[j]].Priority()

		return pi > pj
	})
}

func (r *Registry) getCircuitBreaker(name ProviderName) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.circuitBreakers[name]
}
