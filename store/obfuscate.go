package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	autherrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"golang.org/x/crypto/argon2"
)

// Obfuscator is the reversible transform applied to sensitive keys.
type Obfuscator interface {
	Encode(plain string) (string, error)
	Decode(encoded string) (string, error)
}

// NewObfuscator returns an AES-GCM obfuscator when a user-scoped secret is
// available and the cosmetic encoding otherwise.
func NewObfuscator(secret string) (Obfuscator, error) {
	if secret == "" {
		return EncodingObfuscator{}, nil
	}
	return NewAESObfuscator(secret, nil)
}

const encodingPrefix = "o1:"

// EncodingObfuscator hides values from casual inspection of the store. It
// uses no key material and is not confidentiality.
type EncodingObfuscator struct{}

func (EncodingObfuscator) Encode(plain string) (string, error) {
	return encodingPrefix + base64.StdEncoding.EncodeToString(reverse([]byte(plain))), nil
}

func (EncodingObfuscator) Decode(encoded string) (string, error) {
	if !strings.HasPrefix(encoded, encodingPrefix) {
		return "", fmt.Errorf("[EncodingObfuscator Decode] missing prefix: %w", autherrors.ErrCorruptEntry)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, encodingPrefix))
	if err != nil {
		return "", fmt.Errorf("[EncodingObfuscator Decode] %v: %w", err, autherrors.ErrCorruptEntry)
	}
	return string(reverse(raw)), nil
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[len(b)-1-i] = c
	}
	return out
}

const (
	encryptedPrefix = "e1:"
	keySize         = 32

	// Argon2id parameters (OWASP minimum profile).
	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
)

var defaultSalt = []byte("go-auth-session/store/v1")

// AESObfuscator encrypts values with AES-256-GCM under a key derived from a
// user-scoped secret. Output: prefix || base64(nonce || ciphertext || tag).
type AESObfuscator struct {
	aead cipher.AEAD
}

func NewAESObfuscator(secret string, salt []byte) (*AESObfuscator, error) {
	if secret == "" {
		return nil, fmt.Errorf("[NewAESObfuscator] secret is required")
	}
	if len(salt) == 0 {
		salt = defaultSalt
	}
	key := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, keySize)
	defer zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("[NewAESObfuscator] aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("[NewAESObfuscator] gcm: %w", err)
	}
	return &AESObfuscator{aead: gcm}, nil
}

func (a *AESObfuscator) Encode(plain string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("[AESObfuscator Encode] nonce: %w", err)
	}
	sealed := a.aead.Seal(nonce, nonce, []byte(plain), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (a *AESObfuscator) Decode(encoded string) (string, error) {
	if !strings.HasPrefix(encoded, encryptedPrefix) {
		return "", fmt.Errorf("[AESObfuscator Decode] missing prefix: %w", autherrors.ErrCorruptEntry)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("[AESObfuscator Decode] %v: %w", err, autherrors.ErrCorruptEntry)
	}
	n := a.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("[AESObfuscator Decode] short ciphertext: %w", autherrors.ErrCorruptEntry)
	}
	plain, err := a.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("[AESObfuscator Decode] %v: %w", err, autherrors.ErrCorruptEntry)
	}
	return string(plain), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
