package pool

import (
	"testing"
	"time"
)

func testBreaker(threshold int) *CircuitBreaker {
	cfg := CircuitBreakerConfig{
		FailureThreshold:      threshold,
		Cooldown:              10 * time.Millisecond,
		HalfOpenProbes:        1,
		CooldownMaxMultiplier: 4,
	}
	return NewCircuitBreaker(cfg, "mock/model", nil)
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	b := testBreaker(3)
	if !b.CanRequest() {
		t.Fatal("a fresh breaker should admit requests")
	}
	if got := b.State(); got != "closed" {
		t.Errorf("State() = %s, want closed", got)
	}
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	b := testBreaker(3)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.CanRequest() {
		t.Error("breaker should reject once the failure threshold is reached")
	}
	if got := b.State(); got != "open" {
		t.Errorf("State() = %s, want open", got)
	}
}

func TestCircuitBreakerHalfOpensAfterCooldown(t *testing.T) {
	b := testBreaker(1)
	b.RecordFailure()
	if b.CanRequest() {
		t.Fatal("breaker should be open immediately after crossing threshold")
	}

	time.Sleep(15 * time.Millisecond)
	if !b.CanRequest() {
		t.Fatal("breaker should admit exactly one probe once cooldown elapses")
	}
	if got := b.State(); got != "half_open" {
		t.Errorf("State() = %s, want half_open", got)
	}
	if b.CanRequest() {
		t.Error("a second concurrent probe should be rejected while one is in flight")
	}
}

func TestCircuitBreakerClosesOnSuccessfulProbe(t *testing.T) {
	b := testBreaker(1)
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	if !b.CanRequest() {
		t.Fatal("expected half-open probe to be admitted")
	}
	b.RecordSuccess()

	if got := b.State(); got != "closed" {
		t.Errorf("State() after successful probe = %s, want closed", got)
	}
	if !b.CanRequest() {
		t.Error("closed breaker should admit requests again")
	}
}

func TestCircuitBreakerReopensWithLongerCooldownOnFailedProbe(t *testing.T) {
	b := testBreaker(1)
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	if !b.CanRequest() {
		t.Fatal("expected half-open probe to be admitted")
	}
	b.RecordFailure()

	if got := b.State(); got != "open" {
		t.Errorf("State() after failed probe = %s, want open", got)
	}
	// cooldownFactor doubled to 2, so 10ms*2=20ms must still be rejecting at 15ms.
	time.Sleep(15 * time.Millisecond)
	if b.CanRequest() {
		t.Error("breaker should still be in its doubled cooldown window")
	}
}

func TestCircuitBreakerRecordSuccessResetsClosedFailCount(t *testing.T) {
	b := testBreaker(3)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if !b.CanRequest() {
		t.Error("two failures after a reset should not reach a threshold of three")
	}
}
