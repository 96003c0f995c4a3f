package internal

import (
	"crypto/rand"
	"encoding/base64"
)

const securityStampSize = 32

// NewSecurityStamp returns a fresh opaque stamp: 32 random bytes, base64url
// without padding.
func NewSecurityStamp() (string, error) {
	var raw [securityStampSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}
