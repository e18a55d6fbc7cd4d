package cipher

import (
	"bytes"
	"crypto/aes"
	cryptocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// AES-128-CBC transaction payloads. The key is derived from a
// per-session key code with PBKDF2 and a random salt. The wire format
// is hex(salt) || hex(iv) || base64(ciphertext): 64 hex chars of salt,
// 32 hex chars of IV, then the body.
const (
	aesSaltLen = 32
	aesIVLen   = 16
	aesKeyLen  = 16
	aesIters   = 1000
	keyCodeLen = 32
	minWireLen = 2*aesSaltLen + 2*aesIVLen
	keyCodePad = '0'
)

// padKeyCode truncates or right-pads the key code to exactly 32 bytes.
func padKeyCode(keyCode string) []byte {
	buf := make([]byte, keyCodeLen)
	copy(buf, keyCode)
	for i := len(keyCode); i < keyCodeLen; i++ {
		buf[i] = keyCodePad
	}
	return buf
}

func deriveKey(keyCode string, salt []byte) []byte {
	return pbkdf2.Key(padKeyCode(keyCode), salt, aesIters, aesKeyLen, sha256.New)
}

// EncryptPayload encrypts a transaction payload under the given key
// code, producing the salt+iv+ciphertext wire string.
func EncryptPayload(keyCode, plaintext string) (string, error) {
	salt := make([]byte, aesSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", &CryptoError{Op: "encrypt payload", Err: err}
	}
	iv := make([]byte, aesIVLen)
	if _, err := rand.Read(iv); err != nil {
		return "", &CryptoError{Op: "encrypt payload", Err: err}
	}

	block, err := aes.NewCipher(deriveKey(keyCode, salt))
	if err != nil {
		return "", &CryptoError{Op: "encrypt payload", Err: err}
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cryptocipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(salt) + hex.EncodeToString(iv) +
		base64.StdEncoding.EncodeToString(out), nil
}

// DecryptPayload reverses EncryptPayload.
func DecryptPayload(keyCode, wire string) (string, error) {
	if len(wire) < minWireLen {
		return "", &CryptoError{
			Op:  "decrypt payload",
			Err: fmt.Errorf("wire payload too short: %d bytes", len(wire)),
		}
	}
	salt, err := hex.DecodeString(wire[:2*aesSaltLen])
	if err != nil {
		return "", &CryptoError{Op: "decrypt payload", Err: err}
	}
	iv, err := hex.DecodeString(wire[2*aesSaltLen : minWireLen])
	if err != nil {
		return "", &CryptoError{Op: "decrypt payload", Err: err}
	}
	ciphertext, err := base64.StdEncoding.DecodeString(wire[minWireLen:])
	if err != nil {
		return "", &CryptoError{Op: "decrypt payload", Err: err}
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", &CryptoError{
			Op:  "decrypt payload",
			Err: fmt.Errorf("ciphertext length %d not a block multiple", len(ciphertext)),
		}
	}

	block, err := aes.NewCipher(deriveKey(keyCode, salt))
	if err != nil {
		return "", &CryptoError{Op: "decrypt payload", Err: err}
	}
	out := make([]byte, len(ciphertext))
	cryptocipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)

	unpadded, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", &CryptoError{Op: "decrypt payload", Err: err}
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding byte %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}
