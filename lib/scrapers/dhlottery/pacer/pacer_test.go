package pacer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MinFloor:  time.Millisecond,
		MaxFloor:  2 * time.Millisecond,
		TailMean:  time.Millisecond,
		RotateMin: 5,
		RotateMax: 15,
	}
}

func TestSinglePermitAtATime(t *testing.T) {
	p, err := New(fastConfig())
	require.NoError(t, err)

	ctx := context.Background()
	var inFlight atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			permit, err := p.Acquire(ctx)
			require.NoError(t, err)
			defer permit.Release()

			require.Equal(t, int32(1), inFlight.Add(1))
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()
}

func TestMinimumIntervalBetweenGrants(t *testing.T) {
	p, err := New(fastConfig())
	require.NoError(t, err)
	interval := 30 * time.Millisecond
	p.SampleDelay = func() time.Duration { return interval }

	ctx := context.Background()
	var lastGrant time.Time
	for i := 0; i < 4; i++ {
		permit, err := p.Acquire(ctx)
		require.NoError(t, err)
		now := time.Now()
		if i > 0 {
			require.GreaterOrEqual(t, now.Sub(lastGrant), interval)
		}
		lastGrant = now
		permit.Release()
	}
}

func TestRotationThresholdBounds(t *testing.T) {
	p, err := New(fastConfig())
	require.NoError(t, err)

	// the initial threshold plus every re-sampled one must stay in
	// [RotateMin, RotateMax]
	require.GreaterOrEqual(t, p.threshold, 5)
	require.LessOrEqual(t, p.threshold, 15)

	ctx := context.Background()
	before := p.ActiveIdentity().UserAgent
	rotations := 0
	grantsSinceRotation := 0
	for i := 0; i < 60 && rotations < 3; i++ {
		permit, err := p.Acquire(ctx)
		require.NoError(t, err)
		grantsSinceRotation++
		if p.ActiveIdentity().UserAgent != before {
			require.GreaterOrEqual(t, grantsSinceRotation, 5)
			require.LessOrEqual(t, grantsSinceRotation, 15)
			before = p.ActiveIdentity().UserAgent
			grantsSinceRotation = 0
			rotations++
		}
		permit.Release()
	}
	require.Equal(t, 3, rotations)
}

func TestForceRotateSwapsIdentity(t *testing.T) {
	p, err := New(fastConfig())
	require.NoError(t, err)

	before := p.ActiveIdentity().UserAgent
	p.ForceRotate()
	require.NotEqual(t, before, p.ActiveIdentity().UserAgent)
}

func TestReleaseIsIdempotent(t *testing.T) {
	p, err := New(fastConfig())
	require.NoError(t, err)

	permit, err := p.Acquire(context.Background())
	require.NoError(t, err)
	permit.Release()
	permit.Release()

	// slot must be usable again
	permit, err = p.Acquire(context.Background())
	require.NoError(t, err)
	permit.Release()
}

func TestAcquireCancellationFreesSlot(t *testing.T) {
	p, err := New(fastConfig())
	require.NoError(t, err)
	p.SampleDelay = func() time.Duration { return time.Hour }

	// hold the last release time so the next acquire has to wait
	permit, err := p.Acquire(context.Background())
	require.NoError(t, err)
	permit.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the slot must have been given back on the cancellation path
	p.SampleDelay = func() time.Duration { return 0 }
	permit, err = p.Acquire(context.Background())
	require.NoError(t, err)
	permit.Release()
}

func TestIdentityPoolSize(t *testing.T) {
	require.GreaterOrEqual(t, len(DefaultIdentities()), 20)
	for _, id := range DefaultIdentities() {
		require.NotEmpty(t, id.UserAgent)
	}
}
