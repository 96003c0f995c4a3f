package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	algorithmID = "argon2id"

	// DefaultMaxPasswordBytes caps input length when Config.MaxPasswordBytes is zero.
	DefaultMaxPasswordBytes = 1024
)

// Lower bounds enforced on both configuration and stored hashes. A stored
// hash below them is treated as malformed, not as merely weak.
var floor = params{memory: 8 * 1024, time: 1, threads: 1, keyLen: 16}

const minSaltBytes = 16

var (
	// ErrEmptyPassword is returned by Hash for an empty password.
	ErrEmptyPassword = errors.New("password must not be empty")
	// ErrPasswordTooLong is returned when input exceeds MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	// ErrMalformedHash is returned for argon2id hashes that cannot be decoded.
	ErrMalformedHash = errors.New("malformed argon2id hash")
)

// Config carries argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	MaxPasswordBytes int
}

// DefaultConfig returns the parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// params is the cost tuple encoded in the PHC string.
type params struct {
	memory  uint32
	time    uint32
	threads uint8
	keyLen  uint32
}

func (p params) weakerThan(want params) bool {
	return p.memory < want.memory ||
		p.time < want.time ||
		p.threads < want.threads ||
		p.keyLen != want.keyLen
}

func (p params) belowFloor() bool {
	return p.memory < floor.memory || p.time < floor.time || p.threads < floor.threads
}

// Argon2 hashes passwords with argon2id and encodes them in PHC string form:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
type Argon2 struct {
	cost     params
	saltLen  uint32
	maxBytes int
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	cost := params{memory: cfg.Memory, time: cfg.Time, threads: cfg.Parallelism, keyLen: cfg.KeyLength}
	switch {
	case cost.memory < floor.memory:
		return nil, fmt.Errorf("password memory must be >= %d KB", floor.memory)
	case cost.time < floor.time:
		return nil, errors.New("password time must be >= 1")
	case cost.threads < floor.threads:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltBytes:
		return nil, fmt.Errorf("password salt length must be >= %d", minSaltBytes)
	case cost.keyLen < floor.keyLen:
		return nil, fmt.Errorf("password key length must be >= %d", floor.keyLen)
	}

	maxBytes := cfg.MaxPasswordBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPasswordBytes
	}
	return &Argon2{cost: cost, saltLen: cfg.SaltLength, maxBytes: maxBytes}, nil
}

// Hash derives a fresh salted hash. Password bytes are used as given, with no
// Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > a.maxBytes {
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, a.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := derive(password, salt, a.cost)
	return encodeHash(a.cost, salt, key), nil
}

// Verify reports whether password matches encodedHash in constant time.
// The stored parameters are used, not the configured ones.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	if len(password) > a.maxBytes {
		return false, ErrPasswordTooLong
	}
	stored, salt, key, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(derive(password, salt, stored), key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the current configuration.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	stored, _, _, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}
	return stored.weakerThan(a.cost), nil
}

func derive(password string, salt []byte, p params) []byte {
	return argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, p.keyLen)
}

func encodeHash(p params, salt, key []byte) string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version, p.memory, p.time, p.threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
}

func decodeHash(encoded string) (params, []byte, []byte, error) {
	var p params

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != algorithmID {
		return p, nil, nil, fmt.Errorf("%w: not a PHC argon2id string", ErrMalformedHash)
	}

	version, ok := strings.CutPrefix(fields[2], "v=")
	if !ok {
		return p, nil, nil, fmt.Errorf("%w: missing version", ErrMalformedHash)
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, version)
	}

	if err := decodeParams(fields[3], &p); err != nil {
		return p, nil, nil, err
	}

	salt, err := decodeB64(fields[4])
	if err != nil || len(salt) < minSaltBytes {
		return p, nil, nil, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	key, err := decodeB64(fields[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	p.keyLen = uint32(len(key))
	return p, salt, key, nil
}

// decodeParams parses "m=..,t=..,p=.." in any order; every key is required
// exactly once.
func decodeParams(field string, p *params) error {
	seen := make(map[string]bool, 3)
	for _, pair := range strings.Split(field, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || seen[name] {
			return fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, pair)
		}
		seen[name] = true

		bits := 32
		if name == "p" {
			bits = 8
		}
		n, err := strconv.ParseUint(value, 10, bits)
		if err != nil {
			return fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, pair)
		}
		switch name {
		case "m":
			p.memory = uint32(n)
		case "t":
			p.time = uint32(n)
		case "p":
			p.threads = uint8(n)
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, name)
		}
	}
	if len(seen) != 3 {
		return fmt.Errorf("%w: missing parameters", ErrMalformedHash)
	}
	if p.belowFloor() {
		return fmt.Errorf("%w: parameters below minimum", ErrMalformedHash)
	}
	return nil
}

// decodeB64 accepts both padded and unpadded standard base64, since PHC
// strings from other tools differ on padding.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
