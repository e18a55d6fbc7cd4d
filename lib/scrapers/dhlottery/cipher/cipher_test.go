package cipher

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func setupKeyServer(t testing.TB, nested bool) (*Cipher, *rsa.PrivateKey, *atomic.Int64) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var fetches atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("/login/selectRsaModulus.do", func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		fields := map[string]string{
			"rsaModulus":     priv.N.Text(16),
			"publicExponent": fmt.Sprintf("%x", priv.E),
		}
		var body any = fields
		if nested {
			body = map[string]any{"data": fields}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(body))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return New(resty.New(), server.URL), priv, &fetches
}

func TestEncryptCredentialRoundTrip(t *testing.T) {
	c, priv, _ := setupKeyServer(t, false)

	encrypted, err := c.EncryptCredential(context.Background(), "hunter2!@#한글")
	require.NoError(t, err)

	raw, err := hex.DecodeString(encrypted)
	require.NoError(t, err)

	plaintext, err := rsa.DecryptPKCS1v15(nil, priv, raw)
	require.NoError(t, err)
	require.Equal(t, "hunter2!@#한글", string(plaintext))
}

func TestPublicKeyCachedAndInvalidated(t *testing.T) {
	c, _, fetches := setupKeyServer(t, false)
	ctx := context.Background()

	_, err := c.PublicKey(ctx)
	require.NoError(t, err)
	_, err = c.PublicKey(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, fetches.Load())

	c.Invalidate()
	_, err = c.PublicKey(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, fetches.Load())
}

func TestPublicKeyNestedResponse(t *testing.T) {
	c, priv, _ := setupKeyServer(t, true)

	key, err := c.PublicKey(context.Background())
	require.NoError(t, err)
	require.Zero(t, key.N.Cmp(priv.N))
	require.Equal(t, priv.E, key.E)
}

func TestPublicKeyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(resty.New(), server.URL)
	_, err := c.PublicKey(context.Background())

	var cryptoErr *CryptoError
	require.ErrorAs(t, err, &cryptoErr)
	require.Equal(t, "fetch public key", cryptoErr.Op)
}

func TestPayloadRoundTrip(t *testing.T) {
	keyCode := "A3F2C4D5E6B7A8091122334455667788"
	plaintext := `{"oltInetBuyAcptNum":"12345","round":"240"}`

	wire, err := EncryptPayload(keyCode, plaintext)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(wire), minWireLen)

	decrypted, err := DecryptPayload(keyCode, wire)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestPayloadShortKeyCodePadded(t *testing.T) {
	// key codes shorter than 32 chars get right-padded before KDF
	wire, err := EncryptPayload("short", "payload body")
	require.NoError(t, err)

	decrypted, err := DecryptPayload("short", wire)
	require.NoError(t, err)
	require.Equal(t, "payload body", decrypted)
}

func TestPayloadWrongKeyFails(t *testing.T) {
	wire, err := EncryptPayload("A3F2C4D5E6B7A8091122334455667788", "secret body")
	require.NoError(t, err)

	decrypted, err := DecryptPayload("FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF", wire)
	if err == nil {
		// CBC with the wrong key almost always breaks the padding; on
		// the rare survival the plaintext still never matches.
		require.NotEqual(t, "secret body", decrypted)
	}
}

func TestDecryptPayloadMalformed(t *testing.T) {
	for name, wire := range map[string]string{
		"too short":  "abcdef",
		"bad salt":   strings.Repeat("zz", 48) + "AAAA",
		"bad base64": strings.Repeat("ab", 48) + "!!!not base64!!!",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecryptPayload("whatever", wire)
			var cryptoErr *CryptoError
			require.ErrorAs(t, err, &cryptoErr)
		})
	}
}
