package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnsupportedHash is returned for hashes in no recognized format.
var ErrUnsupportedHash = errors.New("unsupported password hash format")

// dummyPassword seeds the hash verified when a login names no known user.
const dummyPassword = "stampauth-timing-equalizer"

// Hasher hashes with argon2id and verifies argon2id or bcrypt hashes.
type Hasher struct {
	argon *Argon2
	dummy string
}

// NewHasher builds a Hasher from argon2id parameters.
func NewHasher(cfg Config) (*Hasher, error) {
	argon, err := NewArgon2(cfg)
	if err != nil {
		return nil, err
	}
	dummy, err := argon.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}
	return &Hasher{argon: argon, dummy: dummy}, nil
}

// Hash returns a new argon2id hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	return h.argon.Hash(password)
}

// Verify reports whether password matches encodedHash.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, "$"+algorithmID+"$"):
		return h.argon.Verify(password, encodedHash)
	case isBcrypt(encodedHash):
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, ErrUnsupportedHash
	}
}

// VerifyDummy runs a full argon2id verification against a fixed hash and
// discards the result. Callers use it when no user matched so that the
// response time does not reveal whether the account exists.
func (h *Hasher) VerifyDummy(password string) {
	_, _ = h.argon.Verify(password, h.dummy)
}

// NeedsUpgrade reports whether encodedHash should be replaced by a fresh
// argon2id hash.
func (h *Hasher) NeedsUpgrade(encodedHash string) bool {
	if isBcrypt(encodedHash) {
		return true
	}
	upgrade, err := h.argon.NeedsUpgrade(encodedHash)
	return err == nil && upgrade
}

func isBcrypt(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}
