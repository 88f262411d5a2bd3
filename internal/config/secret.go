package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// MasterKeyEnv holds the AES-256 key for ENC[...] values, raw (32 bytes) or
// base64.
const MasterKeyEnv = "BLUE_MASTER_KEY"

var encValuePattern = regexp.MustCompile(`^ENC\[v1:aesgcm:([A-Za-z0-9+/=]+)\]$`)

func decryptSecrets(cfg *Config) error {
	fields := []struct {
		name string
		val  *string
	}{
		{"gateway.inst_id", &cfg.Gateway.InstID},
		{"gateway.api_id", &cfg.Gateway.APIID},
		{"gateway.api_password", &cfg.Gateway.APIPassword},
		{"callbacks.token", &cfg.Callbacks.Token},
	}
	for _, f := range fields {
		plain, err := decryptIfNeeded(strings.TrimSpace(*f.val))
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.val = plain
	}
	return nil
}

// IsEncrypted reports whether raw is an ENC[...] value.
func IsEncrypted(raw string) bool {
	return encValuePattern.MatchString(strings.TrimSpace(raw))
}

func decryptIfNeeded(raw string) (string, error) {
	m := encValuePattern.FindStringSubmatch(raw)
	if m == nil {
		return raw, nil
	}
	key, err := loadMasterKey()
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return "", fmt.Errorf("invalid base64 ciphertext: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, ct := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt failed: %w", err)
	}
	return string(pt), nil
}

// Encrypt seals plain into an ENC[v1:aesgcm:...] value with the master key.
func Encrypt(plain string) (string, error) {
	key, err := loadMasterKey()
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ct := gcm.Seal(nil, nonce, []byte(plain), nil)
	buf := make([]byte, 0, len(nonce)+len(ct))
	buf = append(buf, nonce...)
	buf = append(buf, ct...)
	return "ENC[v1:aesgcm:" + base64.StdEncoding.EncodeToString(buf) + "]", nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func loadMasterKey() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(MasterKeyEnv))
	if raw == "" {
		return nil, errors.New(MasterKeyEnv + " is required to decrypt ENC[...] values")
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(raw)
	}
	if err != nil {
		return nil, errors.New(MasterKeyEnv + " must be 32 bytes or base64-encoded 32 bytes")
	}
	if len(b) != 32 {
		return nil, errors.New(MasterKeyEnv + " must be 32 bytes (AES-256)")
	}
	return b, nil
}
