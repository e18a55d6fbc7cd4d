// Package proxypool maintains a scored pool of public proxies scraped
// from free proxy lists. Candidates are validated before entering the
// pool, scored with an exponentially weighted moving average as the
// engine reports request outcomes, and blacklisted once they fall
// below the score floor or fail too many times in a row.
package proxypool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/dhlottery/proxypool")

// ErrPoolExhausted means no active candidate is currently eligible.
var ErrPoolExhausted = errors.New("proxy pool exhausted")

type State int

const (
	StateActive State = iota
	StateBlacklisted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateBlacklisted:
		return "blacklisted"
	default:
		return "unknown"
	}
}

// Candidate is one proxy endpoint and its health bookkeeping. Score
// stays in [0, 1]; a fresh candidate starts neutral at 0.5.
type Candidate struct {
	Address       string // host:port
	Protocol      string // "http" or "socks5"
	Source        string
	SuccessCount  int
	FailureCount  int // consecutive
	Score         float64
	State         State
	LastUsed      time.Time
	LastValidated time.Time
}

// ProxyURL renders the candidate as a URL usable in a transport.
func (c *Candidate) ProxyURL() string {
	return c.Protocol + "://" + c.Address
}

type Config struct {
	Sources []Source
	// ValidateTarget is the host:port probed through each candidate.
	ValidateTarget      string
	ValidateTimeout     time.Duration
	ValidateConcurrency int
	// ReuseCooldown keeps Select from handing out the same candidate
	// twice in quick succession.
	ReuseCooldown   time.Duration
	RefreshInterval time.Duration
	// Alpha is the EWMA weight given to the newest outcome.
	Alpha       float64
	ScoreFloor  float64
	MaxFailures int
	Storage     *Storage // optional persistence
}

func (c Config) withDefaults() Config {
	if len(c.Sources) == 0 {
		c.Sources = DefaultSources()
	}
	if c.ValidateTarget == "" {
		c.ValidateTarget = "www.dhlottery.co.kr:443"
	}
	if c.ValidateTimeout == 0 {
		c.ValidateTimeout = 8 * time.Second
	}
	if c.ValidateConcurrency == 0 {
		c.ValidateConcurrency = 32
	}
	if c.ReuseCooldown == 0 {
		c.ReuseCooldown = 30 * time.Second
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 30 * time.Minute
	}
	if c.Alpha == 0 {
		c.Alpha = 0.3
	}
	if c.ScoreFloor == 0 {
		c.ScoreFloor = 0.2
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 3
	}
	return c
}

type Pool struct {
	config Config

	mutex      sync.RWMutex
	candidates map[string]*Candidate // keyed by address

	// injectable for tests
	validate func(ctx context.Context, c *Candidate) error
}

func New(config Config) *Pool {
	p := &Pool{
		config:     config.withDefaults(),
		candidates: map[string]*Candidate{},
	}
	p.validate = p.probe
	if p.config.Storage != nil {
		saved, err := p.config.Storage.Load()
		if err != nil {
			slog.Warn("could not load persisted proxy candidates", "err", err)
		} else {
			for _, c := range saved {
				p.candidates[c.Address] = c
			}
		}
	}
	return p
}

// Select returns the active candidate with the best score whose last
// use is outside the reuse cooldown, skipping the excluded address.
// When every active candidate is inside the cooldown it falls back to
// the least recently used one rather than stalling the engine.
func (p *Pool) Select(exclude string) (*Candidate, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	var best, fallback *Candidate
	for _, c := range p.candidates {
		if c.State != StateActive || c.Address == exclude {
			continue
		}
		if fallback == nil || c.LastUsed.Before(fallback.LastUsed) {
			fallback = c
		}
		if now.Sub(c.LastUsed) < p.config.ReuseCooldown {
			continue
		}
		if best == nil || c.Score > best.Score {
			best = c
		}
	}
	if best == nil {
		best = fallback
	}
	if best == nil {
		return nil, ErrPoolExhausted
	}

	best.LastUsed = now
	clone := *best
	return &clone, nil
}

// Report feeds a request outcome for the candidate back into its
// score. Blacklisting is one way: a candidate only returns to the
// pool by passing validation during a later refresh cycle.
func (p *Pool) Report(address string, success bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	c, ok := p.candidates[address]
	if !ok {
		return
	}

	outcome := 0.0
	if success {
		outcome = 1.0
		c.SuccessCount++
		c.FailureCount = 0
	} else {
		c.FailureCount++
	}
	c.Score = p.config.Alpha*outcome + (1-p.config.Alpha)*c.Score

	if c.State == StateActive &&
		(c.Score < p.config.ScoreFloor || c.FailureCount >= p.config.MaxFailures) {
		c.State = StateBlacklisted
		slog.Info("blacklisted proxy",
			"address", c.Address,
			"score", c.Score,
			"consecutive_failures", c.FailureCount)
	}
}

// Refresh scrapes every source, validates the candidates that respond,
// and swaps the pool contents wholesale. Candidates that survive from
// the previous generation keep their scores.
func (p *Pool) Refresh(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Refresh")
	defer span.End()

	scraped := Collect(ctx, p.config.Sources)
	if len(scraped) == 0 {
		err := errors.New("no candidates scraped from any source")
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("candidates.scraped", len(scraped)))

	alive := p.validateAll(ctx, scraped)
	span.SetAttributes(attribute.Int("candidates.alive", len(alive)))
	if len(alive) == 0 {
		err := errors.New("no scraped candidate passed validation")
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	next := make(map[string]*Candidate, len(alive))
	p.mutex.Lock()
	for _, c := range alive {
		if prev, ok := p.candidates[c.Address]; ok && prev.State == StateActive {
			c.Score = prev.Score
			c.SuccessCount = prev.SuccessCount
			c.LastUsed = prev.LastUsed
		}
		next[c.Address] = c
	}
	p.candidates = next
	p.mutex.Unlock()

	slog.Info("proxy pool refreshed",
		"scraped", len(scraped), "alive", len(alive))

	if p.config.Storage != nil {
		if err := p.config.Storage.Save(alive); err != nil {
			slog.Warn("could not persist proxy candidates", "err", err)
		}
	}
	return nil
}

// StartRefreshDaemon refreshes the pool immediately and then on the
// configured interval until ctx is cancelled.
func (p *Pool) StartRefreshDaemon(ctx context.Context) {
	go func() {
		if err := p.Refresh(ctx); err != nil {
			slog.Error("initial proxy pool refresh failed", "err", err)
		}
		ticker := time.NewTicker(p.config.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.Refresh(ctx); err != nil {
					slog.Error("proxy pool refresh failed", "err", err)
				}
			}
		}
	}()
}

// Seed installs candidates directly, skipping scraping and
// validation. Used to preload a pool from a known-good list.
func (p *Pool) Seed(candidates []*Candidate) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, c := range candidates {
		clone := *c
		if clone.Score == 0 {
			clone.Score = 0.5
		}
		p.candidates[clone.Address] = &clone
	}
}

// Len reports how many active candidates the pool holds.
func (p *Pool) Len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	n := 0
	for _, c := range p.candidates {
		if c.State == StateActive {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of every candidate, active or not.
func (p *Pool) Snapshot() []*Candidate {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	out := make([]*Candidate, 0, len(p.candidates))
	for _, c := range p.candidates {
		clone := *c
		out = append(out, &clone)
	}
	return out
}
