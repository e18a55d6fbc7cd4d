// Package dhlottery is the request engine for the lottery site. Every
// operation funnels through Perform, which serializes traffic through
// a single pacing slot, guards it with a per-account circuit breaker,
// optionally routes it over scored public proxies or a relay
// deployment, and keeps the authenticated session fresh.
package dhlottery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	random "github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dhlottery-backend/lib/scrapers/dhlottery/breaker"
	"dhlottery-backend/lib/scrapers/dhlottery/cipher"
	"dhlottery-backend/lib/scrapers/dhlottery/pacer"
	"dhlottery-backend/lib/scrapers/dhlottery/proxypool"
	"dhlottery-backend/lib/scrapers/dhlottery/relay"
	"dhlottery-backend/lib/scrapers/dhlottery/session"
	"dhlottery-backend/lib/telemetry"
)

var tracer = otel.Tracer("scrapers/dhlottery")

// Operation is one upstream call. URL is the real upstream address;
// relay rewriting, pacing headers, and session cookies are applied by
// the client.
type Operation struct {
	Name   string
	Method string
	URL    string
	Query  map[string]string
	Form   map[string]string
	// Headers come on top of the active identity profile's set.
	Headers      map[string]string
	RequiresAuth bool
	// Expect validates the decoded body; a non-nil error marks the
	// response malformed and consumes a retry.
	Expect func(body []byte) error
}

type Client struct {
	config  Config
	http    *resty.Client
	cipher  *cipher.Cipher
	session *session.Manager
	pacer   *pacer.Pacer
	breaker *breaker.Breaker
	pool    *proxypool.Pool
	router  *relay.Router

	// proxyURL is read by the transport's Proxy hook; it cannot go
	// through resty's SetProxy because the cloudflare bypass wrapper
	// hides the inner *http.Transport.
	proxyMu  sync.Mutex
	proxyURL *url.URL

	// sampleSoftBackoff picks the wait after the nth soft block.
	// Swappable in tests.
	sampleSoftBackoff func(attempt int) time.Duration
}

func New(config Config) (*Client, error) {
	config = config.withDefaults()

	hosts, err := hostnames(config)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient := resty.New()
	httpClient.SetCookieJar(jar)
	httpClient.SetTimeout(30 * time.Second)
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(hosts...))

	c := &Client{
		config:            config,
		http:              httpClient,
		sampleSoftBackoff: defaultSoftBackoff,
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = func(*http.Request) (*url.URL, error) {
		c.proxyMu.Lock()
		defer c.proxyMu.Unlock()
		return c.proxyURL, nil
	}
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(transport)
	telemetry.InstrumentResty(httpClient, "scrapers/dhlottery/http")

	if config.RelayURL != "" {
		c.router, err = relay.NewRouter(config.RelayURL)
		if err != nil {
			return nil, err
		}
		httpClient.OnBeforeRequest(c.router.Middleware())
	}

	c.cipher = cipher.New(httpClient, config.PrimaryURL)
	c.session, err = session.NewManager(httpClient, c.cipher, config.PrimaryURL,
		session.Credential{UserID: config.Username, Password: config.Password})
	if err != nil {
		return nil, err
	}
	if config.RelayURL != "" {
		// the login Set-Cookie arrives from the relay origin, so the
		// jar files the session cookie under that host
		if err := c.session.SetCookieOrigin(config.RelayURL); err != nil {
			return nil, err
		}
	}

	pacing := pacer.Config{}
	if config.MinDelaySeconds > 0 {
		pacing.MinFloor = time.Duration(config.MinDelaySeconds) * time.Second
	}
	if config.MaxDelaySeconds > 0 {
		pacing.MaxFloor = time.Duration(config.MaxDelaySeconds) * time.Second
	}
	c.pacer, err = pacer.New(pacing)
	if err != nil {
		return nil, err
	}

	breakerConfig := breaker.DefaultConfig(config.Username)
	breakerConfig.OnStateChange = func(name string, from, to breaker.State) {
		slog.Info("circuit breaker state change",
			"account", name, "from", from.String(), "to", to.String())
	}
	c.breaker = breaker.New(breakerConfig)

	if config.UseProxies {
		poolConfig := proxypool.Config{}
		if config.ProxyDB != nil {
			storage, err := proxypool.NewStorage(config.ProxyDB)
			if err != nil {
				return nil, err
			}
			poolConfig.Storage = storage
		}
		c.pool = proxypool.New(poolConfig)
	}

	return c, nil
}

func hostnames(config Config) ([]string, error) {
	var hosts []string
	for _, raw := range []string{
		config.PrimaryURL, config.OnlineURL, config.ELotteryURL, config.RelayURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid url %q: %w", raw, err)
		}
		hosts = append(hosts, u.Hostname())
	}
	return hosts, nil
}

func defaultSoftBackoff(attempt int) time.Duration {
	minSec, maxSec := 15, 45
	for i := 0; i < attempt && minSec*2 <= 180; i++ {
		minSec *= 2
		if maxSec*2 <= 180 {
			maxSec *= 2
		} else {
			maxSec = 180
		}
	}
	n, err := random.IntRange(minSec, maxSec+1)
	if err != nil {
		n = minSec
	}
	return time.Duration(n) * time.Second
}

// Perform runs one operation under the full protective stack. It holds
// the pacing slot for the whole call, retries included, so account
// traffic stays strictly serialized.
func (c *Client) Perform(ctx context.Context, op Operation) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Perform",
		trace.WithAttributes(attribute.String("operation", op.Name)))
	defer span.End()

	// fail fast before paying the pacing wait
	if c.breaker.State() == breaker.StateOpen {
		span.SetStatus(codes.Error, "circuit open")
		return nil, breaker.ErrCircuitOpen
	}

	permit, err := c.pacer.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	var (
		reloggedIn  bool
		lastProxy   string
		lastStatus  int
		lastOutcome = OutcomeHardBlock
		lastHint    string
		relayErr    *relay.Error
	)

	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		// only the last attempt's relay failure is reported; an earlier
		// one must not shadow whatever the final attempt produced
		relayErr = nil

		if op.RequiresAuth {
			// auth errors are never retried internally
			if err := c.session.EnsureFresh(ctx); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "session establishment failed")
				return nil, err
			}
		}

		var candidate *proxypool.Candidate
		if c.pool != nil {
			candidate, err = c.pool.Select(lastProxy)
			if err != nil {
				if c.config.ProxyRequired {
					span.SetStatus(codes.Error, "proxy pool exhausted")
					return nil, ErrProxyExhausted
				}
				candidate = nil
			}
		}

		if err := c.breaker.Allow(); err != nil {
			span.SetStatus(codes.Error, "circuit open")
			return nil, err
		}

		res, sendErr := c.send(ctx, op, permit, candidate)
		if ctx.Err() != nil {
			// outcome unknown, leave the breaker untouched
			c.breaker.Skip()
			return nil, ctx.Err()
		}

		if sendErr != nil {
			c.breaker.Report(false)
			lastProxy = c.reportProxy(candidate, false, lastProxy)
			lastOutcome, lastStatus, lastHint = OutcomeHardBlock, 0, "transport failure"
			if c.router != nil {
				relayErr = &relay.Error{Message: "relay unreachable", Err: sendErr}
			}
			span.RecordError(sendErr)
			continue
		}

		status := res.StatusCode()
		if status == relay.StatusRelayFailure {
			c.breaker.Report(false)
			lastProxy = c.reportProxy(candidate, false, lastProxy)
			relayErr = relay.ErrorFromBody(res.Body())
			lastOutcome, lastStatus = OutcomeHardBlock, status
			continue
		}

		// an authenticated call bounced to the login page means the
		// server dropped the session; one forced re-login
		if op.RequiresAuth && landedOnLoginPage(res) {
			c.breaker.Skip()
			if reloggedIn {
				span.SetStatus(codes.Error, "session rejected twice")
				return nil, &session.AuthError{Reason: session.ReasonBadCredentials}
			}
			reloggedIn = true
			c.session.Invalidate()
			attempt--
			continue
		}

		switch outcome := classifyStatus(status); outcome {
		case OutcomeSuccess:
			body := decodeBody(res.Body())
			if op.Expect != nil {
				if expErr := op.Expect(body); expErr != nil {
					// the channel worked, the payload didn't
					c.breaker.Report(true)
					lastProxy = c.reportProxy(candidate, true, lastProxy)
					lastOutcome, lastStatus, lastHint = OutcomeMalformed, status, expErr.Error()
					continue
				}
			}
			c.breaker.Report(true)
			c.reportProxy(candidate, true, lastProxy)
			if op.RequiresAuth {
				c.session.CountRequest()
			}
			return &Result{
				Outcome:    OutcomeSuccess,
				StatusCode: status,
				Header:     res.Header(),
				Body:       body,
			}, nil

		case OutcomeSoftBlock:
			// tracked separately from breaker failures: the channel is
			// alive, the current identity/route is burned
			c.breaker.Skip()
			lastProxy = c.reportProxy(candidate, false, lastProxy)
			c.pacer.ForceRotate()
			lastOutcome, lastStatus, lastHint = OutcomeSoftBlock, status, ""
			if attempt < c.config.MaxAttempts-1 {
				if err := sleepContext(ctx, c.sampleSoftBackoff(attempt)); err != nil {
					return nil, err
				}
			}

		default:
			c.breaker.Report(false)
			lastProxy = c.reportProxy(candidate, false, lastProxy)
			lastOutcome, lastStatus, lastHint = OutcomeUpstream, status, ""
		}
	}

	if relayErr != nil {
		span.SetStatus(codes.Error, "relay failure")
		return nil, relayErr
	}
	respErr := &ResponseError{
		Operation: op.Name,
		Status:    lastStatus,
		Outcome:   lastOutcome,
		Hint:      lastHint,
	}
	span.SetStatus(codes.Error, respErr.Error())
	return nil, respErr
}

func (c *Client) send(ctx context.Context, op Operation, permit *pacer.Permit, candidate *proxypool.Candidate) (*resty.Response, error) {
	if err := c.setProxy(candidate); err != nil {
		return nil, err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeaders(permit.Headers())
	if len(op.Headers) > 0 {
		req.SetHeaders(op.Headers)
	}
	if len(op.Query) > 0 {
		req.SetQueryParams(op.Query)
	}
	if len(op.Form) > 0 {
		req.SetFormData(op.Form)
	}
	return req.Execute(op.Method, op.URL)
}

func (c *Client) setProxy(candidate *proxypool.Candidate) error {
	c.proxyMu.Lock()
	defer c.proxyMu.Unlock()
	if candidate == nil {
		c.proxyURL = nil
		return nil
	}
	u, err := url.Parse(candidate.ProxyURL())
	if err != nil {
		return err
	}
	c.proxyURL = u
	return nil
}

// reportProxy feeds the outcome to the pool and returns the address to
// exclude from the next selection on failure.
func (c *Client) reportProxy(candidate *proxypool.Candidate, ok bool, lastProxy string) string {
	if candidate == nil {
		return lastProxy
	}
	c.pool.Report(candidate.Address, ok)
	if ok {
		return lastProxy
	}
	return candidate.Address
}

func landedOnLoginPage(res *resty.Response) bool {
	finalURL := res.RawResponse.Request.URL
	return strings.Contains(finalURL.Path, "/user.do") &&
		finalURL.Query().Get("method") == "login"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StartKeepaliveDaemon touches the session on a jittered interval so
// long-lived deployments don't pay a full login on every operation.
// Keepalive traffic respects the pacing slot like everything else.
func (c *Client) StartKeepaliveDaemon(ctx context.Context) {
	go func() {
		for {
			minutes, err := random.IntRange(25, 41)
			if err != nil {
				minutes = 30
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(minutes) * time.Minute):
			}

			permit, err := c.pacer.Acquire(ctx)
			if err != nil {
				return
			}
			c.session.Keepalive(ctx)
			permit.Release()
		}
	}()
}

// StartProxyDaemon keeps the proxy pool refreshed. No-op when proxy
// routing is disabled.
func (c *Client) StartProxyDaemon(ctx context.Context) {
	if c.pool == nil {
		return
	}
	c.pool.StartRefreshDaemon(ctx)
}

// Proxies exposes the current pool snapshot, nil when disabled.
func (c *Client) Proxies() []*proxypool.Candidate {
	if c.pool == nil {
		return nil
	}
	return c.pool.Snapshot()
}

// Login forces a fresh session handshake.
func (c *Client) Login(ctx context.Context) error {
	permit, err := c.pacer.Acquire(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()
	return c.session.Login(ctx)
}

// Keepalive runs one session keepalive under the pacing slot.
func (c *Client) Keepalive(ctx context.Context) error {
	permit, err := c.pacer.Acquire(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()
	c.session.Keepalive(ctx)
	return nil
}
