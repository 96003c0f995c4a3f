package secret

import (
	"bytes"
	"strings"
	"testing"
)

func masterKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, MinMasterKeyBytes)
}

func TestEncryptDecrypt(t *testing.T) {
	c, err := NewAESGCM(masterKey(1), "")
	if err != nil {
		t.Fatalf("NewAESGCM: %v", err)
	}
	ct, err := c.Encrypt("JBSWY3DPEHPK3PXP")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if strings.Contains(ct, "JBSWY3DPEHPK3PXP") {
		t.Fatal("ciphertext contains plaintext")
	}
	pt, err := c.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if pt != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("round trip mismatch: %q", pt)
	}

	again, _ := c.Encrypt("JBSWY3DPEHPK3PXP")
	if again == ct {
		t.Fatal("expected fresh nonce per encryption")
	}
}

func TestDecryptRejectsTamperingAndWrongKey(t *testing.T) {
	c, _ := NewAESGCM(masterKey(1), "")
	ct, _ := c.Encrypt("seed")

	other, _ := NewAESGCM(masterKey(2), "")
	if _, err := other.Decrypt(ct); err != ErrMalformed {
		t.Fatalf("expected wrong key to fail, got %v", err)
	}

	otherInfo, _ := NewAESGCM(masterKey(1), "another-purpose")
	if _, err := otherInfo.Decrypt(ct); err != ErrMalformed {
		t.Fatalf("expected different info context to fail, got %v", err)
	}

	tampered := ct[:len(ct)-2] + "AA"
	if tampered != ct {
		if _, err := c.Decrypt(tampered); err == nil {
			t.Fatal("expected tampered ciphertext to fail")
		}
	}

	for _, bad := range []string{"", "v1.", "v2.abcd", "v1.!!!"} {
		if _, err := c.Decrypt(bad); err != ErrMalformed {
			t.Fatalf("Decrypt(%q): expected ErrMalformed, got %v", bad, err)
		}
	}
}

func TestNewAESGCMRejectsShortKey(t *testing.T) {
	if _, err := NewAESGCM([]byte("short"), ""); err != ErrShortKey {
		t.Fatalf("expected ErrShortKey, got %v", err)
	}
}
