package vault

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/louisbranch/ssobroker/internal/platform/errors"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	v, err := New(key)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return v
}

func TestSealOpenRoundTrip(t *testing.T) {
	v := testVault(t)

	plaintexts := []string{
		"a",
		"upstream-access-credential",
		strings.Repeat("long secret ", 50),
		"exactly sixteen!",
	}
	for _, plaintext := range plaintexts {
		sealed, err := v.Seal(plaintext)
		if err != nil {
			t.Fatalf("seal %q: %v", plaintext, err)
		}
		opened, err := v.Open(sealed)
		if err != nil {
			t.Fatalf("open %q: %v", plaintext, err)
		}
		if opened != plaintext {
			t.Fatalf("expected %q back, got %q", plaintext, opened)
		}
	}
}

func TestSealUsesFreshIV(t *testing.T) {
	v := testVault(t)

	first, err := v.Seal("same input")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	second, err := v.Seal("same input")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct ciphertexts for the same plaintext")
	}
}

func TestSealEmptyIsEmpty(t *testing.T) {
	v := testVault(t)
	sealed, err := v.Seal("")
	if err != nil || sealed != "" {
		t.Fatalf("expected empty blob, got %q err %v", sealed, err)
	}
	opened, err := v.Open("")
	if err != nil || opened != "" {
		t.Fatalf("expected empty plaintext, got %q err %v", opened, err)
	}
}

func TestOpenRejectsMalformedBlobs(t *testing.T) {
	v := testVault(t)

	sealed, err := v.Seal("secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	truncated := sealed[:len(sealed)-2]

	blobs := []string{
		"no-separator",
		"zz:0011",
		"00112233445566778899aabbccddeeff:not-hex",
		"00112233445566778899aabbccddeeff:0011",
		truncated,
	}
	for _, blob := range blobs {
		_, err := v.Open(blob)
		if !errors.Is(err, apperrors.New(apperrors.CodeDecryptError, "")) {
			t.Fatalf("expected DECRYPT_ERROR for %q, got %v", blob, err)
		}
	}
}

func TestOpenRejectsForeignKey(t *testing.T) {
	v := testVault(t)
	other, err := New(make([]byte, 32))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}

	sealed, err := other.Seal("secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	// CBC without authentication cannot always detect a wrong key, but it
	// must never yield the original plaintext.
	opened, err := v.Open(sealed)
	if err == nil && opened == "secret" {
		t.Fatal("expected foreign key to fail or garble, got original plaintext")
	}
}

func TestNewRequires32ByteKey(t *testing.T) {
	if _, err := New([]byte("short")); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestGenerateKeyShape(t *testing.T) {
	encoded, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	key, err := hex.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(key))
	}
}

func TestLoadFromEnv(t *testing.T) {
	encoded, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv("SSO_BROKER_ENCRYPTION_KEY", encoded)

	v, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load from env: %v", err)
	}
	sealed, err := v.Seal("secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	opened, err := v.Open(sealed)
	if err != nil || opened != "secret" {
		t.Fatalf("round trip failed: %q err %v", opened, err)
	}
}

func TestLoadFromEnvRequiresKey(t *testing.T) {
	t.Setenv("SSO_BROKER_ENCRYPTION_KEY", "")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for missing key")
	}
}
