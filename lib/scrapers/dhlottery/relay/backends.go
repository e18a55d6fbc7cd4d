// Package relay forwards lottery traffic through a server deployed in
// a region the upstream does not geo-block. The client side rewrites
// outbound request URLs onto the relay origin; the server side maps
// path prefixes back to the upstream hosts and reverse-proxies.
package relay

import "strings"

// Backend pairs a relay path prefix with an upstream host. The main
// site rides on the bare prefix, the online-lottery and e-lottery
// hosts get their own.
type Backend struct {
	Prefix string // "" for the default backend
	Host   string
}

// DefaultBackends is the production host table. Prefixed backends
// must come before the catch-all default.
func DefaultBackends() []Backend {
	return []Backend{
		{Prefix: "/ol", Host: "ol.dhlottery.co.kr"},
		{Prefix: "/el", Host: "el.dhlottery.co.kr"},
		{Prefix: "", Host: "www.dhlottery.co.kr"},
	}
}

// BackendForPath resolves a relay-side request path to its upstream
// backend and the remaining upstream path. A bare prefix maps to the
// backend's root.
func BackendForPath(backends []Backend, path string) (Backend, string) {
	for _, b := range backends {
		if b.Prefix == "" {
			return b, path
		}
		if path == b.Prefix || strings.HasPrefix(path, b.Prefix+"/") {
			rest := strings.TrimPrefix(path, b.Prefix)
			if rest == "" {
				rest = "/"
			}
			return b, rest
		}
	}
	return backends[len(backends)-1], path
}

// BackendForHost maps an upstream host to its backend, for rewriting
// outbound URLs and upstream redirects onto the relay.
func BackendForHost(backends []Backend, host string) (Backend, bool) {
	for _, b := range backends {
		if strings.EqualFold(host, b.Host) {
			return b, true
		}
	}
	return Backend{}, false
}
