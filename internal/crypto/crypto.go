// Package crypto provides the authenticated symmetric encryption used by
// the credential vault. Keys are derived from the machine hostname, so a
// vault file copied off the host that wrote it cannot be decrypted.
//
// The token format is fernet (AES-128-CBC + HMAC-SHA256 with an embedded
// timestamp), which means two encryptions of the same plaintext produce
// different tokens.
package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"os"
	"sync"

	"github.com/fernet/fernet-go"
)

// ErrInvalidToken is returned when a token fails authentication: wrong
// host key, truncated ciphertext, or corrupted data.
var ErrInvalidToken = errors.New("crypto: invalid token")

var (
	mu         sync.Mutex
	cachedHost string
	cachedKey  *fernet.Key
)

// hostKey returns the fernet key for the current hostname. The key is
// cached, but re-derived if the hostname observably changes between
// calls (e.g. a container whose hostname was fixed after first use).
func hostKey() (*fernet.Key, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()

	if cachedKey != nil && cachedHost == hostname {
		return cachedKey, nil
	}

	digest := sha256.Sum256([]byte(hostname))
	encoded := base64.URLEncoding.EncodeToString(digest[:])

	key, err := fernet.DecodeKey(encoded)
	if err != nil {
		return nil, err
	}
	cachedHost = hostname
	cachedKey = key
	return key, nil
}

// EncryptString encrypts plaintext under the host key and returns the
// fernet token. Tokens embed a random IV and a timestamp, so repeated
// calls with equal plaintexts yield distinct tokens.
func EncryptString(plaintext string) (string, error) {
	key, err := hostKey()
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return string(tok), nil
}

// DecryptString verifies and decrypts a token produced by EncryptString.
// Returns ErrInvalidToken if the token was not produced under this
// host's key or has been tampered with. Tokens do not expire.
func DecryptString(token string) (string, error) {
	key, err := hostKey()
	if err != nil {
		return "", err
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{key})
	if msg == nil {
		return "", ErrInvalidToken
	}
	return string(msg), nil
}

// EncryptBytes encrypts a raw byte payload (the vault file body).
func EncryptBytes(plaintext []byte) ([]byte, error) {
	key, err := hostKey()
	if err != nil {
		return nil, err
	}
	return fernet.EncryptAndSign(plaintext, key)
}

// DecryptBytes verifies and decrypts a payload from EncryptBytes.
func DecryptBytes(ciphertext []byte) ([]byte, error) {
	key, err := hostKey()
	if err != nil {
		return nil, err
	}
	msg := fernet.VerifyAndDecrypt(ciphertext, 0, []*fernet.Key{key})
	if msg == nil {
		return nil, ErrInvalidToken
	}
	return msg, nil
}
