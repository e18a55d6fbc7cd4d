package proxypool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/corpix/uarand"
	"golang.org/x/net/proxy"
)

// validateAll probes the candidates through a bounded worker pool and
// returns the ones that can actually reach the target. Failures are
// dropped without comment; dead free proxies are the norm, not news.
func (p *Pool) validateAll(ctx context.Context, candidates []*Candidate) []*Candidate {
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, p.config.ValidateConcurrency)
	results := make(chan *Candidate, len(candidates))

	for _, c := range candidates {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(c *Candidate) {
			defer wg.Done()
			defer func() { <-semaphore }()
			if err := p.validate(ctx, c); err != nil {
				return
			}
			c.LastValidated = time.Now()
			results <- c
		}(c)
	}
	wg.Wait()
	close(results)

	alive := make([]*Candidate, 0, len(candidates))
	for c := range results {
		alive = append(alive, c)
	}
	return alive
}

func (p *Pool) probe(ctx context.Context, c *Candidate) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.ValidateTimeout)
	defer cancel()

	switch c.Protocol {
	case "socks5":
		return p.probeSocks5(ctx, c)
	default:
		return p.probeHTTPConnect(ctx, c)
	}
}

// probeHTTPConnect issues a HEAD to the target through the proxy,
// which exercises the CONNECT path for an https target.
func (p *Pool) probeHTTPConnect(ctx context.Context, c *Candidate) error {
	proxyURL, err := url.Parse("http://" + c.Address)
	if err != nil {
		return err
	}

	transport := &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
		DialContext: (&net.Dialer{
			Timeout: p.config.ValidateTimeout,
		}).DialContext,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: p.config.ValidateTimeout / 2,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{Transport: transport, Timeout: p.config.ValidateTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead,
		"https://"+p.config.ValidateTarget, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", uarand.GetRandom())

	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 400 {
		return fmt.Errorf("probe status %d", res.StatusCode)
	}
	return nil
}

func (p *Pool) probeSocks5(ctx context.Context, c *Candidate) error {
	dialer, err := proxy.SOCKS5("tcp", c.Address, nil,
		&net.Dialer{Timeout: p.config.ValidateTimeout})
	if err != nil {
		return err
	}
	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, "tcp", p.config.ValidateTarget)
	if err != nil {
		return err
	}
	return conn.Close()
}
