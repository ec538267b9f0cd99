package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("expected breaker closed initially")
	}

	cb.OnError(RateLimitError{Provider: "elevenlabs"})
	if !cb.Allow() {
		t.Fatalf("expected breaker closed below threshold")
	}

	cb.OnError(RateLimitError{Provider: "elevenlabs"})
	if cb.Allow() {
		t.Fatalf("expected breaker open at threshold")
	}

	time.Sleep(60 * time.Millisecond)
	if !cb.Allow() {
		t.Fatalf("expected breaker closed after cooldown")
	}
}

func TestCircuitBreakerIgnoresOtherErrors(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.OnError(errors.New("network down"))
	if !cb.Allow() {
		t.Fatalf("expected non-rate-limit errors to be ignored")
	}
}
