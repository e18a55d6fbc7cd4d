// Package session owns the authenticated lottery session: the login
// handshake, freshness bookkeeping, and keepalive. Credentials live in
// process memory only and never reach logs or error strings.
package session

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"dhlottery-backend/lib/scrapers/dhlottery/cipher"
)

var tracer = otel.Tracer("scrapers/dhlottery/session")

const (
	loginPath     = "/login/securityLoginCheck.do"
	loginPagePath = "/user.do?method=login"
	mainPagePath  = "/common.do?method=main"

	sessionCookie         = "DHJSESSIONID"
	fallbackSessionCookie = "JSESSIONID"

	// a session older than this, or busier than maxRequests, gets
	// re-established before the next operation
	maxAge      = time.Hour
	maxRequests = 100
)

type Credential struct {
	UserID   string
	Password string
}

type AuthReason string

const (
	ReasonBadCredentials       AuthReason = "bad_credentials"
	ReasonVerificationRequired AuthReason = "verification_required"
	ReasonMaintenance          AuthReason = "maintenance"
)

// AuthError is a login rejection. It deliberately carries no request
// or credential material.
type AuthError struct {
	Reason AuthReason
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// markers on the login response body; the site serves these pages in
// Korean regardless of Accept-Language
var (
	verificationMarkers = []string{"보안문자", "captcha", "자동입력 방지"}
	maintenanceMarkers  = []string{"시스템 점검", "서비스 점검"}
)

// Manager tracks one account's session against the primary host.
type Manager struct {
	http       *resty.Client
	cipher     *cipher.Cipher
	baseURL    *url.URL
	cookieURL  *url.URL
	credential Credential

	mutex         sync.Mutex
	sessionID     string
	establishedAt time.Time
	requestCount  int
	stale         bool
}

func NewManager(http *resty.Client, cipher *cipher.Cipher, baseURL string, credential Credential) (*Manager, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	return &Manager{
		http:       http,
		cipher:     cipher,
		baseURL:    parsed,
		cookieURL:  parsed,
		credential: credential,
	}, nil
}

// SetCookieOrigin points session cookie lookups at a different origin.
// When traffic rides a relay, the login response is served from the
// relay host, so the jar stores the session cookie under that origin
// rather than the upstream one the request was addressed to.
func (m *Manager) SetCookieOrigin(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid cookie origin: %w", err)
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.cookieURL = parsed
	return nil
}

// Login performs the full handshake: warmup page loads the site's
// fingerprinting expects, RSA encryption of both credential fields,
// and the login POST. A rejection on the first try gets exactly one
// retry with a freshly fetched key, in case the cached one went stale
// server-side.
func (m *Manager) Login(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.loginLocked(ctx)
}

func (m *Manager) loginLocked(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	if err := m.warmup(ctx); err != nil {
		span.SetStatus(codes.Error, "warmup failed")
		return err
	}

	err := m.submitLogin(ctx)
	if authErr, ok := err.(*AuthError); ok && authErr.Reason == ReasonBadCredentials {
		// a missing session cookie can also mean the cached RSA key
		// went stale server-side, so retry once with a fresh key
		m.cipher.Invalidate()
		err = m.submitLogin(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login rejected")
		return err
	}

	m.establishedAt = time.Now()
	m.requestCount = 0
	m.stale = false
	return nil
}

func (m *Manager) warmup(ctx context.Context) error {
	for i := 0; i < 2; i++ {
		for _, path := range []string{"/", loginPagePath} {
			_, err := m.http.R().SetContext(ctx).Get(m.baseURL.String() + path)
			if err != nil {
				return fmt.Errorf("warmup page load: %w", err)
			}
		}
	}
	return nil
}

func (m *Manager) submitLogin(ctx context.Context) error {
	encUserID, err := m.cipher.EncryptCredential(ctx, m.credential.UserID)
	if err != nil {
		return err
	}
	encPassword, err := m.cipher.EncryptCredential(ctx, m.credential.Password)
	if err != nil {
		return err
	}

	res, err := m.http.R().
		SetContext(ctx).
		SetHeader("Origin", m.baseURL.String()).
		SetHeader("Referer", m.baseURL.String()+loginPagePath).
		SetFormData(map[string]string{
			"userId":       encUserID,
			"userPswdEncn": encPassword,
			"inpUserId":    m.credential.UserID,
		}).
		Post(m.baseURL.String() + loginPath)
	if err != nil {
		return err
	}

	body := res.String()
	for _, marker := range maintenanceMarkers {
		if strings.Contains(body, marker) {
			return &AuthError{Reason: ReasonMaintenance}
		}
	}
	for _, marker := range verificationMarkers {
		if strings.Contains(body, marker) {
			return &AuthError{Reason: ReasonVerificationRequired}
		}
	}

	sessionID := m.cookieValue(sessionCookie)
	if sessionID == "" {
		sessionID = m.cookieValue(fallbackSessionCookie)
	}
	if sessionID == "" {
		return &AuthError{Reason: ReasonBadCredentials}
	}
	m.sessionID = sessionID
	return nil
}

func (m *Manager) cookieValue(name string) string {
	jar := m.http.GetClient().Jar
	if jar == nil {
		return ""
	}
	for _, c := range jar.Cookies(m.cookieURL) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// EnsureFresh re-establishes the session when it has aged out, served
// too many requests, or was marked stale by a failed keepalive.
func (m *Manager) EnsureFresh(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.sessionID != "" && !m.stale &&
		time.Since(m.establishedAt) < maxAge &&
		m.requestCount < maxRequests {
		return nil
	}
	return m.loginLocked(ctx)
}

// Keepalive touches the main page to keep the server-side session
// warm. A failure marks the session stale rather than propagating;
// the next EnsureFresh call pays the re-login cost.
func (m *Manager) Keepalive(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "Keepalive")
	defer span.End()

	res, err := m.http.R().SetContext(ctx).Get(m.baseURL.String() + mainPagePath)

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err != nil || res.StatusCode() != 200 {
		span.SetStatus(codes.Error, "keepalive failed, session marked stale")
		m.stale = true
		return
	}
	if id := m.cookieValue(sessionCookie); id != "" {
		m.sessionID = id
	}
}

// SessionID returns the live session cookie value, used as the key
// code for encrypted purchase payloads.
func (m *Manager) SessionID() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.sessionID
}

// Invalidate forces the next EnsureFresh to log in again.
func (m *Manager) Invalidate() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.stale = true
}

// CountRequest records one authenticated request against the session
// budget.
func (m *Manager) CountRequest() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requestCount++
}
