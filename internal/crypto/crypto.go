// Package crypto implements the credential cipher: AES-256-GCM with a
// self-describing hex blob layout, so a stored secret can be decrypted
// with nothing but the process key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/sageinvest/kis-engine/internal/kiserr"
)

const (
	_keyLen  = 32
	_saltLen = 64
	_ivLen   = 16
	_tagLen  = 16
)

// Blob layout, hex-encoded: salt | iv | tag | payload. The salt is not
// fed into a KDF (the key comes from configuration); it is carried so
// every ciphertext is unique and the format stays self-contained.
const (
	_saltHexLen    = _saltLen * 2
	_ivHexEnd      = (_saltLen + _ivLen) * 2
	_tagHexEnd     = (_saltLen + _ivLen + _tagLen) * 2
	_minCiphertext = _tagHexEnd
)

type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher builds a cipher from a 64-character hex key (32 bytes).
func NewCipher(keyHex string) (*Cipher, error) {
	if keyHex == "" {
		return nil, fmt.Errorf("%w: encryption key is not set", kiserr.ErrConfiguration)
	}
	if len(keyHex) != _keyLen*2 {
		return nil, fmt.Errorf("%w: encryption key must be %d hex characters", kiserr.ErrConfiguration, _keyLen*2)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key is not valid hex", kiserr.ErrConfiguration)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: can't init cipher", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, _ivLen)
	if err != nil {
		return nil, fmt.Errorf("%w: can't init gcm", err)
	}

	return &Cipher{gcm: gcm}, nil
}

// Encrypt seals plaintext with a fresh random salt and IV. The same
// input produces a different blob on every call.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	buf := make([]byte, _saltLen+_ivLen)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("%w: can't draw random salt/iv", err)
	}
	salt, iv := buf[:_saltLen], buf[_saltLen:]

	// Seal returns payload||tag; the blob stores tag before payload.
	sealed := c.gcm.Seal(nil, iv, []byte(plaintext), nil)
	payload := sealed[:len(sealed)-_tagLen]
	tag := sealed[len(sealed)-_tagLen:]

	return hex.EncodeToString(salt) +
		hex.EncodeToString(iv) +
		hex.EncodeToString(tag) +
		hex.EncodeToString(payload), nil
}

// Decrypt reverses Encrypt. Malformed, truncated or tampered blobs fail
// with kiserr.ErrIntegrity.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if len(ciphertext) < _minCiphertext {
		return "", fmt.Errorf("%w: ciphertext too short", kiserr.ErrIntegrity)
	}

	iv, err := hex.DecodeString(ciphertext[_saltHexLen:_ivHexEnd])
	if err != nil {
		return "", fmt.Errorf("%w: malformed iv", kiserr.ErrIntegrity)
	}
	tag, err := hex.DecodeString(ciphertext[_ivHexEnd:_tagHexEnd])
	if err != nil {
		return "", fmt.Errorf("%w: malformed auth tag", kiserr.ErrIntegrity)
	}
	payload, err := hex.DecodeString(ciphertext[_tagHexEnd:])
	if err != nil {
		return "", fmt.Errorf("%w: malformed payload", kiserr.ErrIntegrity)
	}

	plaintext, err := c.gcm.Open(nil, iv, append(payload, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: auth tag mismatch", kiserr.ErrIntegrity)
	}

	return string(plaintext), nil
}
