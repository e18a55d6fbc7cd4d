// Package pacer spaces outbound requests the way a human browsing
// session would: one request at a time per target domain group, long
// irregular gaps between requests, and a browser identity that changes
// every handful of requests.
package pacer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	random "github.com/mazen160/go-random"
)

type Config struct {
	// MinFloor/MaxFloor bound the per-pacer delay floor; the actual
	// floor is sampled once at construction so distinct accounts don't
	// share an exact cadence.
	MinFloor time.Duration
	MaxFloor time.Duration
	// TailMean is the mean of the exponential tail added on top of the
	// floor.
	TailMean time.Duration
	// RotateMin/RotateMax bound the identity rotation threshold,
	// re-sampled after every rotation.
	RotateMin int
	RotateMax int
	// Identities overrides the built-in persona pool.
	Identities []Identity
}

func DefaultConfig() Config {
	return Config{
		MinFloor:  4 * time.Second,
		MaxFloor:  10 * time.Second,
		TailMean:  3 * time.Second,
		RotateMin: 5,
		RotateMax: 15,
	}
}

// Permit is a granted request slot. Exactly one Release per Acquire,
// on every exit path; releasing twice is a no-op.
type Permit struct {
	pacer       *Pacer
	releaseOnce sync.Once
}

// Headers returns the header set of the currently active identity,
// including the user-agent. Read live rather than captured at grant
// time so a ForceRotate takes effect on the very next request.
func (p *Permit) Headers() map[string]string {
	identity := p.pacer.ActiveIdentity()
	headers := make(map[string]string, len(identity.Headers)+1)
	for k, v := range identity.Headers {
		headers[k] = v
	}
	headers["User-Agent"] = identity.UserAgent
	return headers
}

func (p *Permit) Release() {
	p.releaseOnce.Do(func() {
		p.pacer.mu.Lock()
		p.pacer.lastRelease = time.Now()
		p.pacer.mu.Unlock()
		<-p.pacer.slot
	})
}

// Pacer serializes all traffic for one target domain group behind a
// single concurrency slot and enforces a randomized inter-request
// delay between a release and the next grant.
type Pacer struct {
	config     Config
	identities []Identity
	floor      time.Duration

	// SampleDelay and SampleRotation are swappable for tests.
	SampleDelay    func() time.Duration
	SampleRotation func() int

	slot chan struct{}

	mu          sync.Mutex
	lastRelease time.Time
	active      int
	counter     int
	threshold   int
}

func New(config Config) (*Pacer, error) {
	def := DefaultConfig()
	if config.MinFloor <= 0 {
		config.MinFloor = def.MinFloor
	}
	if config.MaxFloor < config.MinFloor {
		config.MaxFloor = max(def.MaxFloor, config.MinFloor)
	}
	if config.TailMean <= 0 {
		config.TailMean = def.TailMean
	}
	if config.RotateMin <= 0 {
		config.RotateMin = def.RotateMin
	}
	if config.RotateMax < config.RotateMin {
		config.RotateMax = max(def.RotateMax, config.RotateMin)
	}
	identities := config.Identities
	if len(identities) == 0 {
		identities = DefaultIdentities()
	}
	if len(identities) < 2 {
		return nil, fmt.Errorf("pacer needs at least 2 identities to rotate, got %d", len(identities))
	}

	p := &Pacer{
		config:     config,
		identities: identities,
		floor:      sampleFloor(config.MinFloor, config.MaxFloor),
		slot:       make(chan struct{}, 1),
		active:     rand.Intn(len(identities)),
	}
	p.SampleDelay = p.sampleDelay
	p.SampleRotation = func() int { return sampleIntRange(config.RotateMin, config.RotateMax) }
	p.threshold = p.SampleRotation()
	return p, nil
}

func sampleFloor(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func sampleIntRange(min, max int) int {
	n, err := random.IntRange(min, max+1)
	if err != nil {
		return min
	}
	return n
}

// floor plus an exponential tail, so most gaps sit near the floor but
// the occasional one is much longer, like a person wandering off
func (p *Pacer) sampleDelay() time.Duration {
	tail := time.Duration(rand.ExpFloat64() * float64(p.config.TailMean))
	return p.floor + tail
}

// Acquire blocks until the concurrency slot is free and the sampled
// inter-request delay since the previous release has elapsed. The
// returned permit carries the identity headers for this request.
func (p *Pacer) Acquire(ctx context.Context) (*Permit, error) {
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	wait := time.Until(p.lastRelease.Add(p.SampleDelay()))
	p.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			<-p.slot
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	p.counter++
	if p.counter >= p.threshold {
		p.rotateLocked()
	}
	p.mu.Unlock()

	return &Permit{pacer: p}, nil
}

// ForceRotate swaps the identity immediately, bypassing the rotation
// counter. Used after a soft block, when the active persona is burned.
func (p *Pacer) ForceRotate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateLocked()
}

// must be called with p.mu held
func (p *Pacer) rotateLocked() {
	// pick any other identity
	next := rand.Intn(len(p.identities) - 1)
	if next >= p.active {
		next++
	}
	p.active = next
	p.counter = 0
	p.threshold = p.SampleRotation()
}

// ActiveIdentity exposes the current persona; useful for logging and
// tests, requests should go through Permit.Headers instead.
func (p *Pacer) ActiveIdentity() Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identities[p.active]
}
