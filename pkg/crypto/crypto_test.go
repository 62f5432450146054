package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testEncryptor(t *testing.T) *Encryptor {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	raw, _ := base64.StdEncoding.DecodeString(key)
	e, err := NewEncryptor(raw)
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	return e
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	e := testEncryptor(t)
	for _, plain := range []string{"", "api-key-123", "secret with spaces", strings.Repeat("x", 4096)} {
		sealed, err := e.Encrypt(plain)
		if err != nil {
			t.Fatalf("encrypt %q: %v", plain, err)
		}
		if !strings.HasPrefix(sealed, "ENC:") {
			t.Fatalf("missing prefix: %q", sealed)
		}
		got, err := e.Decrypt(sealed)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if got != plain {
			t.Fatalf("round trip: got %q want %q", got, plain)
		}
	}
}

func TestEncryptIsNondeterministic(t *testing.T) {
	e := testEncryptor(t)
	a, _ := e.Encrypt("same input")
	b, _ := e.Encrypt("same input")
	if a == b {
		t.Fatal("two encryptions produced identical ciphertext")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	e := testEncryptor(t)
	sealed, _ := e.Encrypt("payload")

	if _, err := e.Decrypt("not-a-ciphertext"); err != ErrInvalidCiphertext {
		t.Fatalf("bad prefix: err = %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, "ENC:"))
	raw[len(raw)-1] ^= 0xff
	tampered := "ENC:" + base64.StdEncoding.EncodeToString(raw)
	if _, err := e.Decrypt(tampered); err != ErrDecryptionFailed {
		t.Fatalf("tampered: err = %v", err)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	a := testEncryptor(t)
	b := testEncryptor(t)
	sealed, _ := a.Encrypt("payload")
	if _, err := b.Decrypt(sealed); err != ErrDecryptionFailed {
		t.Fatalf("wrong key: err = %v", err)
	}
}

func TestNewEncryptorRejectsShortKey(t *testing.T) {
	if _, err := NewEncryptor([]byte("short")); err != ErrInvalidKey {
		t.Fatalf("err = %v", err)
	}
}
