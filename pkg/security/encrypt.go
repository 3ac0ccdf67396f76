package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Encryption error kinds.
var (
	ErrMissingKey     = errors.New("encryption key is required")
	ErrDecryptFailed  = errors.New("decryption failed")
	ErrInvalidPayload = errors.New("encrypted payload is malformed")
)

const (
	// keySalt domain-separates the derived key from other PBKDF2 uses.
	keySalt        = "arbiter_encryption_v1"
	pbkdf2Iters    = 480000
	tokenVersion   = byte(0x80)
	minTokenLength = 1 + aes.BlockSize + aes.BlockSize + sha256.Size
)

// Encryptor provides authenticated symmetric encryption: AES-256-CBC with
// an HMAC-SHA256 tag over version, IV and ciphertext (fernet-style token,
// base64url encoded).
type Encryptor struct {
	encKey []byte
	macKey []byte
}

// NewEncryptor stretches secret into the cipher and MAC keys. An empty
// secret is a fatal configuration error.
func NewEncryptor(secret string) (*Encryptor, error) {
	if secret == "" {
		return nil, ErrMissingKey
	}
	derived := pbkdf2.Key([]byte(secret), []byte(keySalt), pbkdf2Iters, 64, sha256.New)
	return &Encryptor{encKey: derived[:32], macKey: derived[32:]}, nil
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, ErrInvalidPayload
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, ErrInvalidPayload
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPayload
		}
	}
	return data[:len(data)-n], nil
}

// Encrypt returns a base64url token carrying version, IV, ciphertext and MAC.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(e.encKey)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pad([]byte(plaintext))
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	token := make([]byte, 0, 1+len(iv)+len(ciphertext)+sha256.Size)
	token = append(token, tokenVersion)
	token = append(token, iv...)
	token = append(token, ciphertext...)

	mac := hmac.New(sha256.New, e.macKey)
	mac.Write(token)
	token = append(token, mac.Sum(nil)...)

	return base64.URLEncoding.EncodeToString(token), nil
}

// Decrypt verifies the MAC then reverses Encrypt. Any tampering or a wrong
// key yields ErrDecryptFailed.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	token, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	if len(token) < minTokenLength || token[0] != tokenVersion {
		return "", fmt.Errorf("%w: bad token", ErrDecryptFailed)
	}

	body := token[:len(token)-sha256.Size]
	tag := token[len(token)-sha256.Size:]

	mac := hmac.New(sha256.New, e.macKey)
	mac.Write(body)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return "", fmt.Errorf("%w: authentication tag mismatch", ErrDecryptFailed)
	}

	iv := body[1 : 1+aes.BlockSize]
	ciphertext := body[1+aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: bad ciphertext length", ErrDecryptFailed)
	}

	block, err := aes.NewCipher(e.encKey)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	out, err := unpad(plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: padding", ErrDecryptFailed)
	}
	return string(out), nil
}
