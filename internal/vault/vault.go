package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"

	"llm-gateway/internal/apperr"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12

	// keyIDSeparator splits an optional key id from the base64 payload.
	// The standard base64 alphabet never contains it.
	keyIDSeparator = ":"

	fingerprintInfo = "llm-gateway api key fingerprint v1"
)

var (
	ErrInvalidKeyLength = errors.New("encryption key must decode to exactly 32 bytes")
	ErrMalformed        = errors.New("ciphertext is not valid base64")
	ErrTooShort         = errors.New("ciphertext too short")
	ErrUnknownKeyID     = errors.New("ciphertext references an unknown key id")
	ErrAuthFailed       = errors.New("decryption failed: wrong key or corrupted data")
)

// Config describes the key material. PrimaryKey and the values of
// PreviousKeys are base64-encoded 32-byte keys.
type Config struct {
	PrimaryKey   string
	PrimaryKeyID string
	PreviousKeys map[string]string
}

// Vault seals provider secrets and API keys with AES-256-GCM. It holds no
// mutable state after construction and is safe for concurrent use.
type Vault struct {
	primary     cipher.AEAD
	primaryID   string
	previous    map[string]cipher.AEAD
	fingerprint [][]byte // primary first, then previous keys
}

// New builds a Vault. It fails unless every key decodes to exactly 32 bytes.
func New(cfg Config) (*Vault, error) {
	primaryKey, err := decodeKey(cfg.PrimaryKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "invalid primary encryption key", err)
	}
	primary, err := newAEAD(primaryKey)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "failed to initialise cipher", err)
	}

	if cfg.PrimaryKeyID != "" && !validKeyID(cfg.PrimaryKeyID) {
		return nil, apperr.Config(fmt.Sprintf("invalid encryption key id %q", cfg.PrimaryKeyID))
	}

	v := &Vault{
		primary:   primary,
		primaryID: cfg.PrimaryKeyID,
		previous:  make(map[string]cipher.AEAD, len(cfg.PreviousKeys)),
	}

	var previousKeys [][]byte
	for id, encoded := range cfg.PreviousKeys {
		if !validKeyID(id) {
			return nil, apperr.Config(fmt.Sprintf("invalid encryption key id %q", id))
		}
		key, err := decodeKey(encoded)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, fmt.Sprintf("invalid encryption key %q", id), err)
		}
		aead, err := newAEAD(key)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, "failed to initialise cipher", err)
		}
		v.previous[id] = aead
		previousKeys = append(previousKeys, key)
	}

	for _, master := range append([][]byte{primaryKey}, previousKeys...) {
		fp, err := deriveFingerprintKey(master)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, "failed to derive fingerprint key", err)
		}
		v.fingerprint = append(v.fingerprint, fp)
	}

	return v, nil
}

// Encrypt seals plaintext with the primary key and a fresh random nonce.
// The result is base64(nonce || ciphertext+tag), prefixed with "<id>:"
// when a primary key id is configured.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperr.Encryption("failed to generate nonce", err)
	}

	sealed := v.primary.Seal(nonce, nonce, plaintext, nil)
	encoded := base64.StdEncoding.EncodeToString(sealed)

	if v.primaryID != "" {
		return v.primaryID + keyIDSeparator + encoded, nil
	}
	return encoded, nil
}

// Decrypt opens a blob produced by Encrypt. Unprefixed blobs are opened with
// the primary key.
func (v *Vault) Decrypt(blob string) ([]byte, error) {
	aead := v.primary
	payload := blob

	if id, rest, ok := strings.Cut(blob, keyIDSeparator); ok {
		aead = v.cipherFor(id)
		if aead == nil {
			return nil, apperr.Encryption("unknown key id", ErrUnknownKeyID)
		}
		payload = rest
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, apperr.Encryption("malformed ciphertext", ErrMalformed)
	}
	if len(data) < nonceSize {
		return nil, apperr.Encryption("malformed ciphertext", ErrTooShort)
	}

	plaintext, err := aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, apperr.Encryption("decryption failed", ErrAuthFailed)
	}
	return plaintext, nil
}

// EncryptString seals a UTF-8 string.
func (v *Vault) EncryptString(plaintext string) (string, error) {
	return v.Encrypt([]byte(plaintext))
}

// DecryptString opens a blob whose plaintext must be valid UTF-8.
func (v *Vault) DecryptString(blob string) (string, error) {
	plaintext, err := v.Decrypt(blob)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		return "", apperr.Encryption("decrypted value is not valid UTF-8", nil)
	}
	return string(plaintext), nil
}

// Fingerprint returns the hex HMAC-SHA256 of token under a key derived from
// the primary encryption key. Equal tokens give equal fingerprints.
func (v *Vault) Fingerprint(token string) string {
	return hex.EncodeToString(fingerprintMAC(v.fingerprint[0], token))
}

// Fingerprints returns the fingerprint of token under every configured key,
// primary first. Rows fingerprinted before a rotation match one of the
// later entries.
func (v *Vault) Fingerprints(token string) []string {
	out := make([]string, len(v.fingerprint))
	for i, key := range v.fingerprint {
		out[i] = hex.EncodeToString(fingerprintMAC(key, token))
	}
	return out
}

// MatchFingerprint compares a token against a stored fingerprint in
// constant time under each configured key.
func (v *Vault) MatchFingerprint(token, fingerprint string) bool {
	stored, err := hex.DecodeString(fingerprint)
	if err != nil {
		return false
	}
	matched := false
	for _, key := range v.fingerprint {
		if hmac.Equal(fingerprintMAC(key, token), stored) {
			matched = true
		}
	}
	return matched
}

func fingerprintMAC(key []byte, token string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(token))
	return mac.Sum(nil)
}

// KeyID returns the id stamped on new blobs, or "" for unversioned blobs.
func (v *Vault) KeyID() string {
	return v.primaryID
}

func (v *Vault) cipherFor(id string) cipher.AEAD {
	if id == v.primaryID && id != "" {
		return v.primary
	}
	return v.previous[id]
}

// GenerateKey returns a new random base64-encoded 32-byte key.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func decodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, ErrInvalidKeyLength
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(key) != keySize {
		return nil, ErrInvalidKeyLength
	}
	return key, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func deriveFingerprintKey(master []byte) ([]byte, error) {
	out := make([]byte, keySize)
	r := hkdf.New(sha256.New, master, nil, []byte(fingerprintInfo))
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func validKeyID(id string) bool {
	if id == "" || len(id) > 32 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
