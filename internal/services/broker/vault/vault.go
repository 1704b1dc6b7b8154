// Package vault seals upstream provider credentials before they reach
// persistent storage.
//
// Blobs are AES-256-CBC with a fresh random IV per call, serialized as
// "hexIV:hexCiphertext". The IV is not secret; storing it alongside the
// ciphertext lets Open reconstruct the cipher state. The key is process-wide
// and loaded once at startup; rotating it invalidates every previously
// sealed blob, which is an accepted operational constraint.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/louisbranch/ssobroker/internal/platform/config"
	apperrors "github.com/louisbranch/ssobroker/internal/platform/errors"
)

const keySize = 32

// vaultEnv holds raw env values before post-parse validation.
type vaultEnv struct {
	Key string `env:"SSO_BROKER_ENCRYPTION_KEY"`
}

// Vault encrypts and decrypts small secrets with a process-wide key.
type Vault struct {
	key []byte
}

// New builds a vault from a 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(key))
	}
	return &Vault{key: append([]byte(nil), key...)}, nil
}

// LoadFromEnv reads the hex-encoded key from SSO_BROKER_ENCRYPTION_KEY.
func LoadFromEnv() (*Vault, error) {
	var raw vaultEnv
	if err := config.ParseEnv(&raw); err != nil {
		return nil, err
	}
	encoded := strings.TrimSpace(raw.Key)
	if encoded == "" {
		return nil, fmt.Errorf("SSO_BROKER_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	return New(key)
}

// Seal encrypts plaintext into a storable blob. Empty plaintext seals to the
// empty string so optional credentials stay optional in storage.
func (v *Vault) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("build cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pad([]byte(plaintext))
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Open decrypts a blob produced by Seal. Malformed blobs and key mismatches
// fail with DECRYPT_ERROR.
func (v *Vault) Open(blob string) (string, error) {
	if blob == "" {
		return "", nil
	}

	ivHex, cipherHex, found := strings.Cut(blob, ":")
	if !found {
		return "", apperrors.New(apperrors.CodeDecryptError, "sealed blob is malformed")
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", apperrors.New(apperrors.CodeDecryptError, "sealed blob iv is malformed")
	}
	ciphertext, err := hex.DecodeString(cipherHex)
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", apperrors.New(apperrors.CodeDecryptError, "sealed blob ciphertext is malformed")
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeDecryptError, "build cipher", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := unpad(plaintext)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeDecryptError, "sealed blob padding is invalid", err)
	}
	return string(unpadded), nil
}

// GenerateKey returns a fresh hex-encoded key suitable for configuration.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// pad applies PKCS#7 padding up to the AES block size.
func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, fmt.Errorf("padding length %d out of range", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}
