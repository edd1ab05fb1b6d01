package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// SecretPrefix marks an obfuscated config value.
const SecretPrefix = "enc:v1:"

const nonceSize = 24

// ErrMissingSecret is returned when an obfuscated value is decoded without a secret.
var ErrMissingSecret = errors.New("AICALL_SECRET is not set")

// SecretFromEnv returns the obfuscation secret from AICALL_SECRET.
func SecretFromEnv() string {
	return os.Getenv("AICALL_SECRET")
}

func secretKey(secret string) *[32]byte {
	key := sha256.Sum256([]byte(secret))
	return &key
}

// EncodeSecret seals plaintext with a key derived from secret.
func EncodeSecret(plaintext, secret string) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, secretKey(secret))
	return SecretPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecodeSecret reverses EncodeSecret. Values without SecretPrefix are
// returned unchanged.
func DecodeSecret(value, secret string) (string, error) {
	if !strings.HasPrefix(value, SecretPrefix) {
		return value, nil
	}
	if secret == "" {
		return "", ErrMissingSecret
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, SecretPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode secret: %w", err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", errors.New("secret value is truncated")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	opened, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, secretKey(secret))
	if !ok {
		return "", errors.New("secret value could not be opened with the configured secret")
	}
	return string(opened), nil
}
