package proxypool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dhlottery-backend/lib/testutil"
)

func setup(t testing.TB, config Config) (*Pool, func()) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "proxypool",
	})
	return New(config), cleanup
}

func seed(p *Pool, candidates ...*Candidate) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, c := range candidates {
		p.candidates[c.Address] = c
	}
}

func TestSelectPrefersBestScore(t *testing.T) {
	p, cleanup := setup(t, Config{})
	defer cleanup()

	seed(p,
		&Candidate{Address: "10.0.0.1:8080", Protocol: "http", Score: 0.4},
		&Candidate{Address: "10.0.0.2:8080", Protocol: "http", Score: 0.9},
		&Candidate{Address: "10.0.0.3:8080", Protocol: "http", Score: 0.7},
	)

	c, err := p.Select("")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.2:8080", c.Address)
}

func TestSelectSkipsExcludedAndCoolingDown(t *testing.T) {
	p, cleanup := setup(t, Config{ReuseCooldown: time.Minute})
	defer cleanup()

	seed(p,
		&Candidate{Address: "10.0.0.1:8080", Score: 0.9},
		&Candidate{Address: "10.0.0.2:8080", Score: 0.8, LastUsed: time.Now()},
		&Candidate{Address: "10.0.0.3:8080", Score: 0.5},
	)

	// best is excluded; next best is inside the cooldown window
	c, err := p.Select("10.0.0.1:8080")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.3:8080", c.Address)
}

func TestSelectFallsBackWhenAllCoolingDown(t *testing.T) {
	p, cleanup := setup(t, Config{ReuseCooldown: time.Hour})
	defer cleanup()

	older := time.Now().Add(-10 * time.Minute)
	seed(p,
		&Candidate{Address: "10.0.0.1:8080", Score: 0.9, LastUsed: time.Now()},
		&Candidate{Address: "10.0.0.2:8080", Score: 0.3, LastUsed: older},
	)

	c, err := p.Select("")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.2:8080", c.Address)
}

func TestSelectExhausted(t *testing.T) {
	p, cleanup := setup(t, Config{})
	defer cleanup()

	_, err := p.Select("")
	require.ErrorIs(t, err, ErrPoolExhausted)

	seed(p, &Candidate{Address: "10.0.0.1:8080", State: StateBlacklisted, Score: 0.9})
	_, err = p.Select("")
	require.ErrorIs(t, err, ErrPoolExhausted)
}

func TestReportMovesScore(t *testing.T) {
	p, cleanup := setup(t, Config{})
	defer cleanup()

	seed(p, &Candidate{Address: "10.0.0.1:8080", Score: 0.5})

	p.Report("10.0.0.1:8080", true)
	snapshot := p.Snapshot()
	require.Len(t, snapshot, 1)
	require.InDelta(t, 0.3*1.0+0.7*0.5, snapshot[0].Score, 1e-9)
	require.Equal(t, 1, snapshot[0].SuccessCount)

	p.Report("10.0.0.1:8080", false)
	snapshot = p.Snapshot()
	require.InDelta(t, 0.7*0.65, snapshot[0].Score, 1e-9)
	require.Equal(t, 1, snapshot[0].FailureCount)
}

func TestReportBlacklistsOnConsecutiveFailures(t *testing.T) {
	p, cleanup := setup(t, Config{})
	defer cleanup()

	seed(p, &Candidate{Address: "10.0.0.1:8080", Score: 0.9})

	p.Report("10.0.0.1:8080", false)
	p.Report("10.0.0.1:8080", false)
	require.Equal(t, 1, p.Len())

	p.Report("10.0.0.1:8080", false)
	require.Equal(t, 0, p.Len())

	_, err := p.Select("")
	require.ErrorIs(t, err, ErrPoolExhausted)
}

func TestReportBlacklistsBelowScoreFloor(t *testing.T) {
	p, cleanup := setup(t, Config{MaxFailures: 100})
	defer cleanup()

	seed(p, &Candidate{Address: "10.0.0.1:8080", Score: 0.25})

	// one failure pulls 0.25 down to 0.175, under the 0.2 floor
	p.Report("10.0.0.1:8080", false)
	require.Equal(t, 0, p.Len())
}

func TestRefreshSwapsWholesaleAndKeepsScores(t *testing.T) {
	list := "1.2.3.4:8080\n5.6.7.8:3128\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(list))
	}))
	defer server.Close()

	p, cleanup := setup(t, Config{
		Sources: []Source{{Name: "test", URL: server.URL, Protocol: "http"}},
	})
	defer cleanup()
	p.validate = func(ctx context.Context, c *Candidate) error {
		if c.Address == "5.6.7.8:3128" {
			return errors.New("unreachable")
		}
		return nil
	}

	// survivor keeps its score, the stale entry disappears
	seed(p,
		&Candidate{Address: "1.2.3.4:8080", Score: 0.85, SuccessCount: 12},
		&Candidate{Address: "9.9.9.9:9999", Score: 0.9},
	)

	require.NoError(t, p.Refresh(context.Background()))
	require.Equal(t, 1, p.Len())

	c, err := p.Select("")
	require.NoError(t, err)
	require.Equal(t, "1.2.3.4:8080", c.Address)
	require.Equal(t, 0.85, c.Score)
	require.Equal(t, 12, c.SuccessCount)
}

func TestRefreshFailsWhenNothingSurvives(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("1.2.3.4:8080"))
	}))
	defer server.Close()

	p, cleanup := setup(t, Config{
		Sources: []Source{{Name: "test", URL: server.URL, Protocol: "http"}},
	})
	defer cleanup()
	p.validate = func(ctx context.Context, c *Candidate) error {
		return errors.New("unreachable")
	}

	require.Error(t, p.Refresh(context.Background()))
}

func TestCollectParsesAndDeduplicates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<td>1.2.3.4:8080</td>\njunk\n1.2.3.4:8080\n5.6.7.8:80\n999.1.1.1\n"))
	}))
	defer server.Close()

	candidates := Collect(context.Background(), []Source{
		{Name: "a", URL: server.URL, Protocol: "http"},
		{Name: "b", URL: server.URL + "/missing-is-fine", Protocol: "http"},
	})

	addrs := map[string]bool{}
	for _, c := range candidates {
		addrs[c.Address] = true
		require.Equal(t, 0.5, c.Score)
		require.Equal(t, StateActive, c.State)
	}
	require.Len(t, addrs, 2)
	require.True(t, addrs["1.2.3.4:8080"])
	require.True(t, addrs["5.6.7.8:80"])
}
