// Package secret encrypts small values at rest, such as TOTP seeds, with
// AES-256-GCM.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// MinMasterKeyBytes is the shortest master key accepted by NewAESGCM.
	MinMasterKeyBytes = 32

	keyBytes      = 32
	versionPrefix = "v1."
	defaultInfo   = "stampauth/mfa-secret/v1"
)

var (
	// ErrShortKey is returned for master keys under MinMasterKeyBytes.
	ErrShortKey = errors.New("master key too short")
	// ErrMalformed is returned when a ciphertext cannot be decoded or opened.
	ErrMalformed = errors.New("malformed ciphertext")
)

// AESGCM seals strings with a key derived from a master key via HKDF-SHA256.
// Output is "v1." followed by base64url(nonce || ciphertext || tag).
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM derives the encryption key from masterKey. info separates keys
// used for different purposes; empty selects the MFA secret context.
func NewAESGCM(masterKey []byte, info string) (*AESGCM, error) {
	if len(masterKey) < MinMasterKeyBytes {
		return nil, ErrShortKey
	}
	if info == "" {
		info = defaultInfo
	}

	key := make([]byte, keyBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(info)), key); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *AESGCM) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return versionPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *AESGCM) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, versionPrefix) {
		return "", ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(ciphertext, versionPrefix))
	if err != nil {
		return "", ErrMalformed
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns+c.aead.Overhead() {
		return "", ErrMalformed
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrMalformed
	}
	return string(plain), nil
}
