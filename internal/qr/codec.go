package qr

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
)

// Decode failure taxonomy. Callers collapse all three into a single
// "not recognized" answer so a scanner cannot learn which check failed.
var (
	ErrMalformed        = errors.New("qr token malformed")
	ErrInvalidSignature = errors.New("qr token signature mismatch")
	ErrDecryptFailed    = errors.New("qr token decryption failed")
)

// CryptoContext holds the process-wide token key material. Built once at
// startup and passed explicitly into the codec; there is no package-level
// key state.
type CryptoContext struct {
	aeadKey [chacha20poly1305.KeySize]byte
	hmacKey []byte
}

// NewCryptoContext builds the context from a base64url-encoded 32-byte AEAD
// key and an HMAC secret.
func NewCryptoContext(encryptionKey, hmacSecret string) (*CryptoContext, error) {
	if encryptionKey == "" || hmacSecret == "" {
		return nil, errors.New("qr key material is required")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encryptionKey, "="))
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(raw) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(raw))
	}
	ctx := &CryptoContext{hmacKey: []byte(hmacSecret)}
	copy(ctx.aeadKey[:], raw)
	return ctx, nil
}

// GenerateKey returns a fresh base64url-encoded AEAD key. Used by dev tooling
// and tests; production keys come from the environment.
func GenerateKey() (string, error) {
	buf := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Codec encodes and decodes the opaque string embedded in the QR image.
//
// Token format: "{ciphertext}.{signature}". The ciphertext is the
// base64url-encoded XChaCha20-Poly1305 sealing of "{visit_id}|{RFC3339}"
// with the nonce prepended. The signature is a hex HMAC-SHA256 over the
// ciphertext string. Tokens already in the field carry both parts, so the
// format cannot change without reissuing every outstanding QR.
type Codec struct {
	crypto *CryptoContext
}

func NewCodec(crypto *CryptoContext) *Codec {
	return &Codec{crypto: crypto}
}

// Encode mints the token for a visit. The embedded expiration is advisory;
// scan-time checks always use the visit record, not the payload.
func (c *Codec) Encode(visitID uuid.UUID, expiresAt time.Time) (string, error) {
	aead, err := chacha20poly1305.NewX(c.crypto.aeadKey[:])
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	payload := visitID.String() + "|" + expiresAt.UTC().Format(time.RFC3339)
	sealed := aead.Seal(nonce, nonce, []byte(payload), nil)
	ciphertext := base64.RawURLEncoding.EncodeToString(sealed)

	return ciphertext + "." + c.sign(ciphertext), nil
}

// Decode verifies and opens a token, returning the visit id and the advisory
// expiration. It performs no expiration check: expiration is a property of
// the visit record, re-validated at scan time against the facility clock.
func (c *Codec) Decode(token string) (uuid.UUID, time.Time, error) {
	ciphertext, signature, found := strings.Cut(token, ".")
	if !found || ciphertext == "" || signature == "" {
		return uuid.Nil, time.Time{}, ErrMalformed
	}

	// Compare the hex strings themselves: decoding first would let a
	// case-flipped hex digit slip through as the same bytes.
	if !hmac.Equal([]byte(signature), []byte(c.sign(ciphertext))) {
		return uuid.Nil, time.Time{}, ErrInvalidSignature
	}

	sealed, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return uuid.Nil, time.Time{}, ErrMalformed
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return uuid.Nil, time.Time{}, ErrMalformed
	}

	aead, err := chacha20poly1305.NewX(c.crypto.aeadKey[:])
	if err != nil {
		return uuid.Nil, time.Time{}, fmt.Errorf("init aead: %w", err)
	}
	nonce, box := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	payload, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return uuid.Nil, time.Time{}, ErrDecryptFailed
	}

	idPart, expPart, found := strings.Cut(string(payload), "|")
	if !found {
		return uuid.Nil, time.Time{}, ErrMalformed
	}
	visitID, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, time.Time{}, ErrMalformed
	}
	expiresAt, err := time.Parse(time.RFC3339, expPart)
	if err != nil {
		return uuid.Nil, time.Time{}, ErrMalformed
	}

	return visitID, expiresAt, nil
}

func (c *Codec) sign(ciphertext string) string {
	mac := hmac.New(sha256.New, c.crypto.hmacKey)
	mac.Write([]byte(ciphertext))
	return hex.EncodeToString(mac.Sum(nil))
}
