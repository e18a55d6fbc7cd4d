// Package breaker gates outbound traffic to one lottery account behind
// a circuit breaker so a misbehaving (or blocking) upstream stops
// receiving traffic quickly instead of being hammered.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	random "github.com/mazen160/go-random"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while the breaker is open and the cooldown
// has not elapsed yet. Callers must not retry internally.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type Config struct {
	// Name identifies the guarded account in logs/metrics.
	Name string
	// MaxFailures is the number of consecutive failures before opening.
	MaxFailures int
	// CooldownMin/CooldownMax bound the randomized open-state cooldown.
	CooldownMin time.Duration
	CooldownMax time.Duration
	// OnStateChange is called when the state changes.
	OnStateChange func(name string, from, to State)
}

func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxFailures: 3,
		CooldownMin: 60 * time.Second,
		CooldownMax: 300 * time.Second,
	}
}

// Breaker is a per-account circuit breaker.
//
// States:
//   - Closed: requests pass through
//   - Open: requests fail immediately with ErrCircuitOpen
//   - Half-open: exactly one probe request is admitted
//
// The cooldown is re-randomized within [CooldownMin, CooldownMax] every
// time the breaker opens; the randomization floor doubles on repeated
// re-opens (capped at CooldownMax) so a flapping upstream backs the
// client off further and further.
type Breaker struct {
	config Config

	// SampleCooldown picks a cooldown given the current floor/ceiling
	// in seconds. Swappable in tests.
	SampleCooldown func(minSec, maxSec int) int

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	cooldown            time.Duration
	reopens             int
	probeInFlight       bool
}

func New(config Config) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 3
	}
	if config.CooldownMin <= 0 {
		config.CooldownMin = 60 * time.Second
	}
	if config.CooldownMax <= config.CooldownMin {
		config.CooldownMax = 300 * time.Second
	}
	return &Breaker{
		config:         config,
		state:          StateClosed,
		SampleCooldown: sampleUniform,
	}
}

func sampleUniform(minSec, maxSec int) int {
	n, err := random.IntRange(minSec, maxSec+1)
	if err != nil {
		return minSec
	}
	return n
}

// Guard wraps a single underlying attempt: it rejects immediately when
// the breaker is open, runs fn at most once, and records the outcome.
// A cancelled attempt leaves the failure count untouched.
func (b *Breaker) Guard(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		// outcome unknown, don't count it either way but give the
		// half-open probe slot back
		b.mu.Lock()
		b.probeInFlight = false
		b.mu.Unlock()
		return err
	}

	b.Report(err == nil)
	return err
}

// Skip gives an admitted slot back without recording an outcome, for
// results the breaker deliberately does not track (soft blocks follow
// the pacing/backoff path instead).
func (b *Breaker) Skip() {
	b.mu.Lock()
	b.probeInFlight = false
	b.mu.Unlock()
}

// Allow reports whether a call may proceed right now. In the half-open
// state only a single probe is admitted.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return ErrCircuitOpen
		}
		b.probeInFlight = true
		return nil
	default:
		return ErrCircuitOpen
	}
}

// Report feeds the outcome of an admitted call back into the state
// machine. Soft blocks are deliberately not reported here; they follow
// the pacing/backoff path instead (see the client's outcome handling).
func (b *Breaker) Report(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState()
	b.probeInFlight = false

	if success {
		b.consecutiveFailures = 0
		if state == StateHalfOpen {
			b.reopens = 0
			b.toState(StateClosed)
		}
		return
	}

	b.consecutiveFailures++
	switch state {
	case StateClosed:
		if b.consecutiveFailures >= b.config.MaxFailures {
			b.open()
		}
	case StateHalfOpen:
		b.reopens++
		b.open()
	}
}

// State returns the current state, accounting for cooldown expiry.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Cooldown returns the currently sampled cooldown; zero when closed.
func (b *Breaker) Cooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cooldown
}

// must be called with b.mu held
func (b *Breaker) open() {
	minSec := int(b.config.CooldownMin / time.Second)
	maxSec := int(b.config.CooldownMax / time.Second)

	// repeated re-opens raise the floor so a flapping upstream is not
	// probed on the shortest cooldowns forever
	for i := 0; i < b.reopens && minSec*2 <= maxSec; i++ {
		minSec *= 2
	}

	b.cooldown = time.Duration(b.SampleCooldown(minSec, maxSec)) * time.Second
	b.openedAt = time.Now()
	b.toState(StateOpen)
}

// must be called with b.mu held
func (b *Breaker) currentState() State {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cooldown {
		b.toState(StateHalfOpen)
	}
	return b.state
}

// must be called with b.mu held
func (b *Breaker) toState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateHalfOpen {
		b.probeInFlight = false
	}
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, from, to)
	}
}
