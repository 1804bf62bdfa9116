package consumer

import (
	"testing"
	"time"
)

func TestRetryPolicyNextBackoffIsBoundedAndGrows(t *testing.T) {
	p := RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	for attempt := 0; attempt < 8; attempt++ {
		d := p.NextBackoff(attempt)
		if d < 0 {
			t.Fatalf("attempt %d: backoff must not be negative, got %s", attempt, d)
		}
		if d > p.MaxDelay {
			t.Fatalf("attempt %d: backoff %s exceeds MaxDelay %s", attempt, d, p.MaxDelay)
		}
	}
}

func TestRetryPolicyNextBackoffZeroBaseDelay(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: 0, MaxDelay: time.Second, Multiplier: 2.0}
	if d := p.NextBackoff(0); d != 0 {
		t.Fatalf("expected zero backoff with zero base delay, got %s", d)
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2}
	if p.Exhausted(0) {
		t.Fatal("attempt 0 should not be exhausted")
	}
	if p.Exhausted(1) {
		t.Fatal("attempt 1 should not be exhausted")
	}
	if !p.Exhausted(2) {
		t.Fatal("attempt 2 should be exhausted")
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	if p.MaxRetries <= 0 {
		t.Fatal("expected a positive default retry budget")
	}
	if p.BaseDelay <= 0 || p.MaxDelay <= p.BaseDelay {
		t.Fatalf("expected BaseDelay < MaxDelay, got %s / %s", p.BaseDelay, p.MaxDelay)
	}
}
