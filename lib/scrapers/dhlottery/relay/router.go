package relay

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
)

// Router is the client half of the relay: it rewrites requests aimed
// at the upstream hosts so they travel to the relay origin instead,
// with the backend encoded as a path prefix.
type Router struct {
	origin   *url.URL
	backends []Backend
}

func NewRouter(relayOrigin string) (*Router, error) {
	origin, err := url.Parse(relayOrigin)
	if err != nil {
		return nil, fmt.Errorf("invalid relay origin: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("relay origin %q needs a scheme and host", relayOrigin)
	}
	return &Router{origin: origin, backends: DefaultBackends()}, nil
}

// RewriteURL maps an upstream URL onto the relay origin. URLs for
// hosts outside the backend table pass through untouched.
func (r *Router) RewriteURL(u *url.URL) {
	backend, ok := BackendForHost(r.backends, u.Host)
	if !ok {
		return
	}
	u.Scheme = r.origin.Scheme
	u.Host = r.origin.Host
	u.Path = backend.Prefix + u.Path
}

// Middleware returns a resty hook that routes every outgoing request
// through the relay. Registered before the client resolves the URL,
// so it sees the fully assembled upstream address.
func (r *Router) Middleware() resty.RequestMiddleware {
	return func(client *resty.Client, req *resty.Request) error {
		u, err := url.Parse(req.URL)
		if err != nil {
			return err
		}
		if !u.IsAbs() {
			return nil
		}
		r.RewriteURL(u)
		req.URL = u.String()
		return nil
	}
}

// RedirectAllowed reports whether a redirect target stays on the
// relay origin or an upstream host, mirroring the domain check the
// engine applies to direct traffic.
func (r *Router) RedirectAllowed(req *http.Request) bool {
	if req.URL.Host == r.origin.Host {
		return true
	}
	_, ok := BackendForHost(r.backends, req.URL.Host)
	return ok
}
