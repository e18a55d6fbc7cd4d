package proxypool

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/corpix/uarand"
	"github.com/go-resty/resty/v2"
)

// Source is a public proxy list serving plain text, one host:port per
// line (some wrap entries in extra markup, the regex strips it).
type Source struct {
	Name     string
	URL      string
	Protocol string
}

// DefaultSources mirrors the free lists the engine rotates through.
func DefaultSources() []Source {
	return []Source{
		{
			Name:     "proxyscrape",
			URL:      "https://api.proxyscrape.com/v2/?request=displayproxies&protocol=http&timeout=10000&country=all&ssl=all&anonymity=all",
			Protocol: "http",
		},
		{
			Name:     "thespeedx",
			URL:      "https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt",
			Protocol: "http",
		},
		{
			Name:     "monosans",
			URL:      "https://raw.githubusercontent.com/monosans/proxy-list/main/proxies/http.txt",
			Protocol: "http",
		},
		{
			Name:     "jetkai",
			URL:      "https://raw.githubusercontent.com/jetkai/proxy-list/main/online-proxies/txt/proxies-http.txt",
			Protocol: "http",
		},
		{
			Name:     "clarketm",
			URL:      "https://raw.githubusercontent.com/clarketm/proxy-list/master/proxy-list-raw.txt",
			Protocol: "http",
		},
		{
			Name:     "proxy-list.download",
			URL:      "https://www.proxy-list.download/api/v1/get?type=http",
			Protocol: "http",
		},
		{
			Name:     "openproxylist",
			URL:      "https://api.openproxylist.xyz/http.txt",
			Protocol: "http",
		},
		{
			Name:     "hookzof-socks5",
			URL:      "https://raw.githubusercontent.com/hookzof/socks5_list/master/proxy.txt",
			Protocol: "socks5",
		},
	}
}

var hostPortPattern = regexp.MustCompile(
	`\b(?:\d{1,3}\.){3}\d{1,3}:\d{2,5}\b`)

// Collect scrapes all sources concurrently and merges the results,
// deduplicating by address. A source that errors contributes nothing;
// the cycle proceeds with whatever the rest returned.
func Collect(ctx context.Context, sources []Source) []*Candidate {
	client := resty.New().
		SetTimeout(20 * time.Second).
		SetHeader("User-Agent", uarand.GetRandom())

	var wg sync.WaitGroup
	results := make(chan []*Candidate, len(sources))
	for _, src := range sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			candidates, err := scrapeSource(ctx, client, src)
			if err != nil {
				slog.Warn("proxy source failed",
					"source", src.Name, "err", err)
				return
			}
			results <- candidates
		}(src)
	}
	wg.Wait()
	close(results)

	merged := map[string]*Candidate{}
	for batch := range results {
		for _, c := range batch {
			if _, seen := merged[c.Address]; !seen {
				merged[c.Address] = c
			}
		}
	}

	out := make([]*Candidate, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	return out
}

func scrapeSource(ctx context.Context, client *resty.Client, src Source) ([]*Candidate, error) {
	res, err := client.R().SetContext(ctx).Get(src.URL)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		return nil, &ResponseError{Status: res.StatusCode(), URL: src.URL}
	}

	matches := hostPortPattern.FindAllString(res.String(), -1)
	candidates := make([]*Candidate, 0, len(matches))
	for _, addr := range matches {
		candidates = append(candidates, &Candidate{
			Address:  addr,
			Protocol: src.Protocol,
			Source:   src.Name,
			Score:    0.5,
			State:    StateActive,
		})
	}
	return candidates, nil
}

// ResponseError is an HTTP-level failure from a proxy list source.
type ResponseError struct {
	Status int
	URL    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("status %d from %s", e.Status, e.URL)
}
