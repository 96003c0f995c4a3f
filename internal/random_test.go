package internal

import (
	"encoding/base64"
	"testing"
)

func TestNewSecurityStampIsRandomAndDecodable(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		s, err := NewSecurityStamp()
		if err != nil {
			t.Fatalf("new stamp: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil || len(raw) != securityStampSize {
			t.Fatalf("stamp %q is not %d bytes of base64url: %v", s, securityStampSize, err)
		}
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate stamp %q", s)
		}
		seen[s] = struct{}{}
	}
}
