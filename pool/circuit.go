package pool

import (
	"sync"
	"time"
)

// CircuitBreakerConfig is loaded via envconfig (spec.md §9 Open Question:
// threshold/cooldown must be exposed as configuration).
type CircuitBreakerConfig struct {
	FailureThreshold      int           `envconfig:"CIRCUIT_FAILURE_THRESHOLD" default:"5"`
	Cooldown              time.Duration `envconfig:"CIRCUIT_COOLDOWN" default:"30s"`
	HalfOpenProbes        int           `envconfig:"CIRCUIT_HALF_OPEN_PROBES" default:"1"`
	CooldownMaxMultiplier int           `envconfig:"CIRCUIT_COOLDOWN_MAX_MULTIPLIER" default:"8"`
}

type circuitPhase int

const (
	phaseClosed circuitPhase = iota
	phaseOpen
	phaseHalfOpen
)

// CircuitBreaker is a per-registry_key failure detector gating new requests
// (spec.md §4.5). Closed counts consecutive failures; on reaching the
// configured threshold it opens for Cooldown, doubling on each subsequent
// half-open failure up to CooldownMaxMultiplier, then half-opens to admit a
// bounded number of probes.
type CircuitBreaker struct {
	cfg         CircuitBreakerConfig
	registryKey string
	events      *LifecycleBus

	mu              sync.Mutex
	phase           circuitPhase
	failCount       int
	openUntil       time.Time
	cooldownFactor  int
	probesInFlight  int
	probesAllowed   int
}

// NewCircuitBreaker constructs a breaker in the Closed state. events may be
// nil; registryKey labels the circuit_opened/circuit_closed lifecycle events
// it fires on phase transitions (spec.md §4.10 [EXPANSION]).
func NewCircuitBreaker(cfg CircuitBreakerConfig, registryKey string, events *LifecycleBus) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	if cfg.CooldownMaxMultiplier <= 0 {
		cfg.CooldownMaxMultiplier = 8
	}
	return &CircuitBreaker{cfg: cfg, registryKey: registryKey, events: events, cooldownFactor: 1}
}

// CanRequest reports whether a new request may be dispatched. In Open state
// it returns false until the cooldown elapses, at which point it
// transitions to HalfOpen and admits up to HalfOpenProbes requests.
func (b *CircuitBreaker) CanRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.phase {
	case phaseClosed:
		return true
	case phaseOpen:
		if time.Now().Before(b.openUntil) {
			return false
		}
		b.phase = phaseHalfOpen
		b.probesInFlight = 0
		b.probesAllowed = b.cfg.HalfOpenProbes
		return b.admitProbeLocked()
	case phaseHalfOpen:
		return b.admitProbeLocked()
	default:
		return false
	}
}

func (b *CircuitBreaker) admitProbeLocked() bool {
	if b.probesInFlight >= b.probesAllowed {
		return false
	}
	b.probesInFlight++
	return true
}

// RecordSuccess closes the breaker (from HalfOpen) or resets the failure
// count (from Closed).
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.phase {
	case phaseHalfOpen:
		b.phase = phaseClosed
		b.failCount = 0
		b.cooldownFactor = 1
		b.events.CircuitClosed(b.registryKey)
	case phaseClosed:
		b.failCount = 0
	}
}

// RecordFailure increments the Closed failure count, opening the breaker on
// reaching the threshold; from HalfOpen it reopens with an exponentially
// longer cooldown, capped at CooldownMaxMultiplier.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.phase {
	case phaseClosed:
		b.failCount++
		if b.failCount >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	case phaseHalfOpen:
		if b.cooldownFactor < b.cfg.CooldownMaxMultiplier {
			b.cooldownFactor *= 2
			if b.cooldownFactor > b.cfg.CooldownMaxMultiplier {
				b.cooldownFactor = b.cfg.CooldownMaxMultiplier
			}
		}
		b.openLocked()
	}
}

func (b *CircuitBreaker) openLocked() {
	b.phase = phaseOpen
	b.openUntil = time.Now().Add(b.cfg.Cooldown * time.Duration(b.cooldownFactor))
	b.failCount = 0
	b.events.CircuitOpened(b.registryKey)
}

// State reports the current phase as a string, for health/lifecycle events.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.phase {
	case phaseOpen:
		return "open"
	case phaseHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
