package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"

	"dhlottery-backend/lib/scrapers/dhlottery/cipher"
	"dhlottery-backend/lib/testutil"
)

type site struct {
	key        *rsa.PrivateKey
	password   string
	warmupHits atomic.Int64
	keyFetches atomic.Int64
	loginBody  string // extra body served on the login response
	mainStatus int
}

func (s *site) decrypt(ciphertext string) (string, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	plain, err := rsa.DecryptPKCS1v15(nil, s.key, raw)
	return string(plain), err
}

func setup(t testing.TB) (*Manager, *site, func()) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{Name: "session"})

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	s := &site{key: key, password: "correct-horse", mainStatus: 200}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.warmupHits.Add(1)
	})
	mux.HandleFunc("/user.do", func(w http.ResponseWriter, r *http.Request) {
		s.warmupHits.Add(1)
	})
	mux.HandleFunc("/login/selectRsaModulus.do", func(w http.ResponseWriter, r *http.Request) {
		s.keyFetches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"rsaModulus":     key.N.Text(16),
			"publicExponent": fmt.Sprintf("%x", key.E),
		})
	})
	mux.HandleFunc("/login/securityLoginCheck.do", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if s.loginBody != "" {
			_, _ = w.Write([]byte(s.loginBody))
			return
		}
		password, err := s.decrypt(r.PostFormValue("userPswdEncn"))
		if err != nil || password != s.password {
			_, _ = w.Write([]byte("login failed"))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "DHJSESSIONID", Value: "SESS-" + r.PostFormValue("inpUserId"), Path: "/"})
		_, _ = w.Write([]byte("welcome"))
	})
	mux.HandleFunc("/common.do", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(s.mainStatus)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := resty.New().SetCookieJar(jar)

	m, err := NewManager(client, cipher.New(client, server.URL), server.URL,
		Credential{UserID: "tester", Password: "correct-horse"})
	require.NoError(t, err)

	return m, s, cleanup
}

func TestLogin(t *testing.T) {
	m, s, cleanup := setup(t)
	defer cleanup()

	require.NoError(t, m.Login(context.Background()))
	require.Equal(t, "SESS-tester", m.SessionID())
	// two rounds of main page + login page
	require.EqualValues(t, 4, s.warmupHits.Load())
}

func TestLoginBadCredentialsRetriesKeyOnce(t *testing.T) {
	m, s, cleanup := setup(t)
	defer cleanup()
	s.password = "something-else"

	err := m.Login(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ReasonBadCredentials, authErr.Reason)
	// the rejection triggers one key refetch and one resubmission
	require.EqualValues(t, 2, s.keyFetches.Load())
	require.Empty(t, m.SessionID())
}

func TestLoginVerificationRequired(t *testing.T) {
	m, s, cleanup := setup(t)
	defer cleanup()
	s.loginBody = "<html>보안문자를 입력해 주세요</html>"

	err := m.Login(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ReasonVerificationRequired, authErr.Reason)
	// verification pages are terminal, no key-refresh retry
	require.EqualValues(t, 1, s.keyFetches.Load())
}

func TestLoginMaintenance(t *testing.T) {
	m, s, cleanup := setup(t)
	defer cleanup()
	s.loginBody = "현재 시스템 점검 중입니다"

	err := m.Login(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, ReasonMaintenance, authErr.Reason)
}

func TestEnsureFresh(t *testing.T) {
	m, s, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, m.EnsureFresh(ctx))
	warmupsAfterLogin := s.warmupHits.Load()

	// fresh session, no second handshake
	require.NoError(t, m.EnsureFresh(ctx))
	require.Equal(t, warmupsAfterLogin, s.warmupHits.Load())

	// the request budget forces a re-login
	for i := 0; i < 100; i++ {
		m.CountRequest()
	}
	require.NoError(t, m.EnsureFresh(ctx))
	require.Greater(t, s.warmupHits.Load(), warmupsAfterLogin)
}

func TestEnsureFreshAgedSession(t *testing.T) {
	m, s, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, m.Login(ctx))
	before := s.warmupHits.Load()

	m.establishedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, m.EnsureFresh(ctx))
	require.Greater(t, s.warmupHits.Load(), before)
}

func TestInvalidateForcesRelogin(t *testing.T) {
	m, s, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, m.Login(ctx))
	before := s.warmupHits.Load()

	m.Invalidate()
	require.NoError(t, m.EnsureFresh(ctx))
	require.Greater(t, s.warmupHits.Load(), before)
}

func TestKeepaliveFailureMarksStale(t *testing.T) {
	m, s, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, m.Login(ctx))
	before := s.warmupHits.Load()

	s.mainStatus = 500
	m.Keepalive(ctx)

	require.NoError(t, m.EnsureFresh(ctx))
	require.Greater(t, s.warmupHits.Load(), before)
}

func TestKeepaliveSuccessKeepsSession(t *testing.T) {
	m, s, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, m.Login(ctx))
	before := s.warmupHits.Load()

	m.Keepalive(ctx)
	require.NoError(t, m.EnsureFresh(ctx))
	require.Equal(t, before, s.warmupHits.Load())
}
