package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/dhlottery/relay")

// StatusRelayFailure distinguishes "the relay could not reach the
// upstream" from any status the upstream itself can produce.
const StatusRelayFailure = 523

// hop-by-hop headers per RFC 7230 section 6.1
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Handler is the server half of the relay. It terminates requests
// addressed by backend prefix, forwards them verbatim to the upstream
// host, and hands the response back without following redirects, so
// the engine sees the same status codes a browser in-region would.
type Handler struct {
	upstream *http.Client
	backends []Backend
	// scheme lets tests point the handler at a plain-http upstream
	scheme string
}

func NewHandler(timeout time.Duration) *Handler {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		upstream: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		backends: DefaultBackends(),
		scheme:   "https",
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeCORS(w.Header())

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ctx, span := tracer.Start(r.Context(), "relay.Forward")
	defer span.End()

	backend, rest := BackendForPath(h.backends, r.URL.Path)
	upstreamURL := &url.URL{
		Scheme:   h.scheme,
		Host:     backend.Host,
		Path:     rest,
		RawQuery: r.URL.RawQuery,
	}
	span.SetAttributes(
		attribute.String("relay.backend", backend.Host),
		attribute.String("relay.path", rest),
	)

	req, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL.String(), r.Body)
	if err != nil {
		span.SetStatus(codes.Error, "failed to build upstream request")
		writeRelayFailure(w, "invalid upstream request: "+err.Error())
		return
	}
	copyHeaders(req.Header, r.Header)
	req.Host = backend.Host

	res, err := h.upstream.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream unreachable")
		slog.Warn("relay upstream unreachable",
			"backend", backend.Host, "path", rest, "err", err)
		writeRelayFailure(w, "upstream unreachable: "+err.Error())
		return
	}
	defer res.Body.Close()
	span.SetAttributes(attribute.Int("relay.upstream_status", res.StatusCode))

	h.writeResponse(w, r, res)
}

func (h *Handler) writeResponse(w http.ResponseWriter, r *http.Request, res *http.Response) {
	header := w.Header()
	for key, values := range res.Header {
		switch {
		case isHopByHop(key):
		case strings.EqualFold(key, "Set-Cookie"):
			for _, v := range values {
				header.Add("Set-Cookie", rewriteSetCookie(v))
			}
		case strings.EqualFold(key, "Location"):
			for _, v := range values {
				header.Add("Location", h.rewriteLocation(r, v))
			}
		default:
			for _, v := range values {
				header.Add(key, v)
			}
		}
	}
	w.WriteHeader(res.StatusCode)
	if _, err := io.Copy(w, res.Body); err != nil {
		slog.Debug("relay response copy interrupted", "err", err)
	}
}

// rewriteLocation points upstream redirects back at the relay, so a
// client that chooses to follow them stays inside the tunnel.
func (h *Handler) rewriteLocation(r *http.Request, location string) string {
	u, err := url.Parse(location)
	if err != nil || !u.IsAbs() {
		return location
	}
	backend, ok := BackendForHost(h.backends, u.Host)
	if !ok {
		return location
	}
	u.Scheme = schemeOf(r)
	u.Host = r.Host
	u.Path = backend.Prefix + u.Path
	return u.String()
}

// rewriteSetCookie makes upstream cookies storable against the relay
// origin: the Domain attribute would fail the cookie jar's domain
// match, and Secure would drop it on a plain-http relay.
func rewriteSetCookie(value string) string {
	parts := strings.Split(value, ";")
	out := parts[:0]
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		lower := strings.ToLower(trimmed)
		if strings.HasPrefix(lower, "domain=") ||
			lower == "secure" ||
			strings.HasPrefix(lower, "samesite=") {
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, ";") + "; SameSite=None"
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

func schemeOf(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func writeCORS(header http.Header) {
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "*")
}

func writeRelayFailure(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusRelayFailure)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "relay_failure",
		"message": message,
	})
}
