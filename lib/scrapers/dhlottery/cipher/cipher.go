// Package cipher implements the two payload encryption schemes the
// lottery site expects: RSA (PKCS#1 v1.5) for login credentials, using
// a public key published by the server, and AES-CBC keyed off the
// session for the pension-lottery purchase payloads.
package cipher

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/dhlottery/cipher")

// CryptoError means no usable key material could be obtained, or an
// encryption/decryption step failed outright.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto %s: %s", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

const (
	publicKeyPath = "/login/selectRsaModulus.do"
	publicKeyTTL  = 5 * time.Minute
	cacheKey      = "rsa"
)

// Cipher fetches and caches the server's RSA public key and encrypts
// credential/transaction payloads with it.
type Cipher struct {
	http    *resty.Client
	baseURL string
	keys    *expirable.LRU[string, *rsa.PublicKey]
}

func New(http *resty.Client, baseURL string) *Cipher {
	return &Cipher{
		http:    http,
		baseURL: baseURL,
		keys:    expirable.NewLRU[string, *rsa.PublicKey](1, nil, publicKeyTTL),
	}
}

// Invalidate drops the cached public key so the next encryption fetches
// a fresh one. Called by the login flow when the server rejects a
// ciphertext in a way that points at a stale key.
func (c *Cipher) Invalidate() {
	c.keys.Remove(cacheKey)
}

type rsaModulusResponse struct {
	RsaModulus     string `json:"rsaModulus"`
	PublicExponent string `json:"publicExponent"`
	Data           *struct {
		RsaModulus     string `json:"rsaModulus"`
		PublicExponent string `json:"publicExponent"`
	} `json:"data"`
}

// PublicKey returns the server's login public key, fetching it when the
// 5-minute cache is cold.
func (c *Cipher) PublicKey(ctx context.Context) (*rsa.PublicKey, error) {
	if key, ok := c.keys.Get(cacheKey); ok {
		return key, nil
	}

	ctx, span := tracer.Start(ctx, "PublicKey")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetHeader("Referer", c.baseURL+"/user.do?method=login").
		Get(c.baseURL + publicKeyPath)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch rsa modulus")
		return nil, &CryptoError{Op: "fetch public key", Err: err}
	}
	if res.StatusCode() != 200 {
		err := fmt.Errorf("unexpected status %d", res.StatusCode())
		span.SetStatus(codes.Error, err.Error())
		return nil, &CryptoError{Op: "fetch public key", Err: err}
	}

	var body rsaModulusResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse rsa modulus response")
		return nil, &CryptoError{Op: "parse public key", Err: err}
	}
	modulus, exponent := body.RsaModulus, body.PublicExponent
	if body.Data != nil && body.Data.RsaModulus != "" {
		modulus, exponent = body.Data.RsaModulus, body.Data.PublicExponent
	}
	if modulus == "" || exponent == "" {
		err := fmt.Errorf("rsa modulus missing from response")
		span.SetStatus(codes.Error, err.Error())
		return nil, &CryptoError{Op: "parse public key", Err: err}
	}

	key, err := parsePublicKey(modulus, exponent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to construct rsa key")
		return nil, &CryptoError{Op: "parse public key", Err: err}
	}

	c.keys.Add(cacheKey, key)
	return key, nil
}

// the server publishes modulus and exponent as hex strings
func parsePublicKey(modulus, exponent string) (*rsa.PublicKey, error) {
	n, ok := new(big.Int).SetString(modulus, 16)
	if !ok {
		return nil, fmt.Errorf("invalid modulus hex")
	}
	e, ok := new(big.Int).SetString(exponent, 16)
	if !ok || !e.IsInt64() {
		return nil, fmt.Errorf("invalid exponent hex")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// EncryptCredential RSA-encrypts a login field (PKCS#1 v1.5) and
// returns the hex form the login endpoint expects.
func (c *Cipher) EncryptCredential(ctx context.Context, plaintext string) (string, error) {
	key, err := c.PublicKey(ctx)
	if err != nil {
		return "", err
	}
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, key, []byte(plaintext))
	if err != nil {
		return "", &CryptoError{Op: "encrypt credential", Err: err}
	}
	return hex.EncodeToString(ciphertext), nil
}
