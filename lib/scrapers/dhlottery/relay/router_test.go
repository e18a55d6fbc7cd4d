package relay

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestRewriteURL(t *testing.T) {
	router, err := NewRouter("https://relay.example.com")
	require.NoError(t, err)

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "main host to bare prefix",
			in:   "https://www.dhlottery.co.kr/common.do?method=main",
			want: "https://relay.example.com/common.do?method=main",
		},
		{
			name: "online lottery host",
			in:   "https://ol.dhlottery.co.kr/olotto/game/game645.do",
			want: "https://relay.example.com/ol/olotto/game/game645.do",
		},
		{
			name: "e-lottery host",
			in:   "https://el.dhlottery.co.kr/game/pension720/game.jsp",
			want: "https://relay.example.com/el/game/pension720/game.jsp",
		},
		{
			name: "foreign host untouched",
			in:   "https://example.org/path",
			want: "https://example.org/path",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u, err := url.Parse(tc.in)
			require.NoError(t, err)
			router.RewriteURL(u)
			if diff := cmp.Diff(tc.want, u.String()); diff != "" {
				t.Errorf("rewritten URL mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewRouterRejectsBareHost(t *testing.T) {
	_, err := NewRouter("relay.example.com")
	require.Error(t, err)
}

func TestMiddlewareRoutesThroughRelay(t *testing.T) {
	var gotPath string
	relayServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer relayServer.Close()

	router, err := NewRouter(relayServer.URL)
	require.NoError(t, err)

	client := resty.New().OnBeforeRequest(router.Middleware())
	_, err = client.R().Get("https://ol.dhlottery.co.kr/olotto/game/execBuy.do")
	require.NoError(t, err)
	require.Equal(t, "/ol/olotto/game/execBuy.do", gotPath)
}

func TestMiddlewareIgnoresRelativeURLs(t *testing.T) {
	router, err := NewRouter("https://relay.example.com")
	require.NoError(t, err)

	client := resty.New()
	req := client.R()
	req.URL = "/relative/path"
	require.NoError(t, router.Middleware()(client, req))
	require.Equal(t, "/relative/path", req.URL)
}

func TestRedirectAllowed(t *testing.T) {
	router, err := NewRouter("https://relay.example.com")
	require.NoError(t, err)

	for target, want := range map[string]bool{
		"https://relay.example.com/common.do":  true,
		"https://www.dhlottery.co.kr/user.do":  true,
		"https://evil.example.net/phish":       false,
	} {
		u, err := url.Parse(target)
		require.NoError(t, err)
		require.Equal(t, want, router.RedirectAllowed(&http.Request{URL: u}), target)
	}
}
