package roast

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

// CredentialKeyEnv names the variable holding the 32-byte key (raw or base64)
// used to seal the persisted credential override. Without it the override is
// stored as is.
const CredentialKeyEnv = "ROASTCHAT_APIKEY_KEY"

// sealedPrefix marks a stored value as ciphertext; anything else is plaintext.
const sealedPrefix = "enc:"

var errOpenFailed = errors.New("ciphertext does not open")

// credentialCipher seals values with AES-GCM, using the key-value slot name as
// additional data so a sealed value only opens under the key it was written to.
type credentialCipher struct {
	aead cipher.AEAD
}

func loadCredentialCipher() (*credentialCipher, error) {
	raw := strings.TrimSpace(os.Getenv(CredentialKeyEnv))
	if raw == "" {
		return nil, nil
	}
	key := []byte(raw)
	if len(key) != 32 {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("%s must be 32 bytes or base64 of 32 bytes", CredentialKeyEnv)
		}
		key = decoded
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &credentialCipher{aead: aead}, nil
}

func isSealed(stored string) bool {
	return strings.HasPrefix(stored, sealedPrefix)
}

// seal returns sealedPrefix + base64(nonce || ciphertext).
func (c *credentialCipher) seal(slot, plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := c.aead.Seal(nonce, nonce, []byte(plain), []byte(slot))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

func (c *credentialCipher) open(slot, stored string) (string, error) {
	data, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil || len(data) < c.aead.NonceSize() {
		return "", errOpenFailed
	}
	ns := c.aead.NonceSize()
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], []byte(slot))
	if err != nil {
		return "", errOpenFailed
	}
	return string(plain), nil
}
