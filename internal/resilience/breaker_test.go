package resilience

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker("llm_service", 3, time.Minute, nil)
	for i := 0; i < 2; i++ {
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed below threshold, got %v", b.State())
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open at threshold, got %v", b.State())
	}
	if b.Allow() {
		t.Fatalf("expected open circuit to reject calls")
	}
}

func TestBreakerHalfOpenTrial(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker("llm_service", 1, 30*time.Second, nil)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	if b.Allow() {
		t.Fatalf("expected rejection while open")
	}

	now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatalf("expected trial call after recovery timeout")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}
	if b.Allow() {
		t.Fatalf("expected only one trial call in half-open state")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful trial, got %v", b.State())
	}
	if !b.Allow() {
		t.Fatalf("expected closed circuit to admit calls")
	}
}

func TestBreakerReopensOnFailedTrial(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker("llm_batch_service", 1, 10*time.Second, nil)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(11 * time.Second)
	if !b.Allow() {
		t.Fatalf("expected trial call")
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected reopened circuit, got %v", b.State())
	}
	if b.Allow() {
		t.Fatalf("expected rejection until next recovery window")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker("llm_service", 3, time.Minute, nil)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected closed: failures are consecutive, got %v", b.State())
	}
}
