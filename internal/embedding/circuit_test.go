package embedding

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	logger := zerolog.Nop()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 3, ResetAfter: time.Minute}, &logger)

	require.True(t, cb.CanAttempt())

	cb.RecordFailure(ProviderOpenAI)
	cb.RecordFailure(ProviderOpenAI)
	require.True(t, cb.CanAttempt(), "should still allow attempts below threshold")

	cb.RecordFailure(ProviderOpenAI)
	require.False(t, cb.CanAttempt(), "threshold reached, circuit should open")
	require.True(t, cb.IsOpen())
}

func TestCircuitBreakerResetsOnSuccess(t *testing.T) {
	logger := zerolog.Nop()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Threshold: 2, ResetAfter: time.Minute}, &logger)

	cb.RecordFailure(ProviderCohere)
	cb.RecordSuccess()
	cb.RecordFailure(ProviderCohere)

	require.True(t, cb.CanAttempt(), "single failure after a reset should not reopen the circuit")
}
