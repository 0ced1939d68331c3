package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"

	"github.com/krishiconnect/chat-service/pkg/apperrors"
)

// KeyProvider isolates key material from the codec so secret-store backed
// rotation never touches codec call sites.
type KeyProvider interface {
	Key() ([]byte, error)
}

type StaticKeyProvider struct{ key []byte }

// NewStaticKeyProvider parses a 32-byte hex key (AES-256).
func NewStaticKeyProvider(keyHex string) (*StaticKeyProvider, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, errors.New("AES-256 requires 32 bytes key")
	}
	return &StaticKeyProvider{key: key}, nil
}

func (p *StaticKeyProvider) Key() ([]byte, error) { return p.key, nil }

// Codec encrypts and decrypts stored message content with AES-256-GCM. The
// nonce is returned separately as the iv so the persisted shape keeps
// ciphertext and iv as distinct fields.
type Codec struct {
	provider KeyProvider
}

func NewCodec(p KeyProvider) *Codec {
	return &Codec{provider: p}
}

func (c *Codec) aead() (cipher.AEAD, error) {
	key, err := c.provider.Key()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt marshals payload to JSON and seals it with a fresh random nonce.
// Nonce reuse leaks plaintext relationships under GCM, so every call draws
// from crypto/rand.
func (c *Codec) Encrypt(payload any) (ciphertext, iv string, err error) {
	plain, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}
	aead, err := c.aead()
	if err != nil {
		return "", "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", err
	}
	ct := aead.Seal(nil, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(ct), base64.StdEncoding.EncodeToString(nonce), nil
}

// Decrypt opens the ciphertext with its iv. With asJSON the plaintext is
// unmarshalled; otherwise the raw string is returned. Tampered or corrupted
// input yields a DECRYPTION_FAILED error the caller can degrade on without
// failing a whole page.
func (c *Codec) Decrypt(ciphertext, iv string, asJSON bool) (any, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDecryptionFailed, "invalid ciphertext encoding", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDecryptionFailed, "invalid iv encoding", err)
	}
	aead, err := c.aead()
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, apperrors.ErrUndecryptable
	}
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDecryptionFailed, "stored content could not be decrypted", err)
	}
	if !asJSON {
		return string(plain), nil
	}
	var out any
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDecryptionFailed, "decrypted content is not valid JSON", err)
	}
	return out, nil
}
