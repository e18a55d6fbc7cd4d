package relay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// setup points a handler at two fake upstream hosts served by one
// httptest server, distinguished by the forwarded Host header.
func setup(t testing.TB, upstream http.HandlerFunc) (*Handler, *httptest.Server) {
	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	h := NewHandler(5 * time.Second)
	h.scheme = "http"
	h.backends = []Backend{
		{Prefix: "/ol", Host: u.Host},
		{Prefix: "", Host: u.Host},
	}
	return h, server
}

func TestForwardStripsPrefixAndHopByHop(t *testing.T) {
	var gotPath, gotQuery, gotConnection, gotUA string
	h, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotConnection = r.Header.Get("Connection")
		gotUA = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	req := httptest.NewRequest(http.MethodGet, "/ol/olotto/game/game645.do?round=1100", nil)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.Equal(t, "/olotto/game/game645.do", gotPath)
	require.Equal(t, "round=1100", gotQuery)
	require.Empty(t, gotConnection)
	require.Equal(t, "Mozilla/5.0", gotUA)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDefaultBackendGetsFullPath(t *testing.T) {
	var gotPath string
	h, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	})

	req := httptest.NewRequest(http.MethodGet, "/common.do?method=main", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "/common.do", gotPath)
}

func TestRedirectNotFollowedAndLocationRewritten(t *testing.T) {
	h, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login.do" {
			w.Header().Set("Location", "https://www.dhlottery.co.kr/common.do?method=main")
			w.WriteHeader(http.StatusFound)
			return
		}
		t.Fatalf("relay followed redirect to %s", r.URL.Path)
	})
	// the Location rewrite keys off the host table, so give the real
	// upstream host a prefix alongside the test entries
	h.backends = append(h.backends,
		Backend{Prefix: "/www", Host: "www.dhlottery.co.kr"})

	req := httptest.NewRequest(http.MethodGet, "http://relay.example/login.do", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t,
		"http://relay.example/www/common.do?method=main",
		rec.Header().Get("Location"))
}

func TestSetCookieRewrite(t *testing.T) {
	h, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie",
			"DHJSESSIONID=abc123; Domain=.dhlottery.co.kr; Path=/; Secure; HttpOnly")
		w.Header().Add("Set-Cookie", "WMONID=xyz; Path=/")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	cookies := rec.Header().Values("Set-Cookie")
	require.Len(t, cookies, 2)
	require.Equal(t, "DHJSESSIONID=abc123; Path=/; HttpOnly; SameSite=None", cookies[0])
	require.Equal(t, "WMONID=xyz; Path=/; SameSite=None", cookies[1])
}

func TestPreflight(t *testing.T) {
	h, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the upstream")
	})

	req := httptest.NewRequest(http.MethodOptions, "/ol/anything.do", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}

func TestUpstreamUnreachableYields523(t *testing.T) {
	h, server := setup(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	req := httptest.NewRequest(http.MethodGet, "/common.do", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, StatusRelayFailure, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Body.String(), "relay_failure")
	// the transport error travels back to the client verbatim
	require.Contains(t, rec.Body.String(), "connection refused")

	relayErr := ErrorFromBody(rec.Body.Bytes())
	require.Contains(t, relayErr.Message, "upstream unreachable")
	require.Contains(t, relayErr.Message, "connection refused")
}

func TestErrorFromBodyPlainText(t *testing.T) {
	err := ErrorFromBody([]byte("bad gateway\n"))
	require.Equal(t, "bad gateway", err.Message)
	require.Equal(t, "relay: bad gateway", err.Error())
}

func TestBodyForwardedBothWays(t *testing.T) {
	h, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, "userId=*&userPswdEncn=*", string(body))
		_, _ = w.Write([]byte("resultCode=200"))
	})

	req := httptest.NewRequest(http.MethodPost, "/userSsl.do?method=login",
		strings.NewReader("userId=*&userPswdEncn=*"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "resultCode=200", rec.Body.String())
}
