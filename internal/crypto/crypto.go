// Package crypto seals the credentials file with a passphrase. Keys are
// derived with PBKDF2-SHA256 and data is encrypted with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length in bytes
	KeySize = 32
	// NonceSize is the standard GCM nonce length
	NonceSize = 12
	// SaltSize is the PBKDF2 salt length
	SaltSize = 32
	// DefaultIterations is the PBKDF2 work factor for new envelopes
	DefaultIterations = 100000

	// MinPassphraseLength is enforced when a passphrase is first set
	MinPassphraseLength = 12

	envelopeVersion = 1
)

// ErrDecrypt is returned when an envelope cannot be opened, usually because
// the passphrase is wrong.
var ErrDecrypt = errors.New("unable to decrypt credentials: wrong passphrase or corrupted data")

// Envelope is a sealed payload with everything needed to open it again
// except the passphrase. It is stored as JSON; byte fields are base64.
type Envelope struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Sealer encrypts and decrypts envelopes under one passphrase. The
// additional data binds envelopes to their purpose, so an envelope sealed
// for one file cannot be opened as another.
type Sealer struct {
	passphrase []byte
	aad        []byte
	iterations int
}

// NewSealer creates a sealer. aad may be empty.
func NewSealer(passphrase, aad string) *Sealer {
	return &Sealer{
		passphrase: []byte(passphrase),
		aad:        []byte(aad),
		iterations: DefaultIterations,
	}
}

// WithIterations returns a copy of s using n PBKDF2 iterations for new
// envelopes. Tests use it to keep key derivation fast.
func (s *Sealer) WithIterations(n int) *Sealer {
	c := *s
	c.iterations = n
	return &c
}

// Seal encrypts plaintext under a fresh salt and nonce.
func (s *Sealer) Seal(plaintext []byte) (*Envelope, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := s.aead(salt, s.iterations)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Version:    envelopeVersion,
		KDF:        "pbkdf2-sha256",
		Iterations: s.iterations,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, s.aad),
	}, nil
}

// Open decrypts env. Any authentication failure is reported as ErrDecrypt.
func (s *Sealer) Open(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("no envelope to open")
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if len(env.Salt) != SaltSize {
		return nil, fmt.Errorf("invalid salt size: expected %d, got %d", SaltSize, len(env.Salt))
	}
	if len(env.Nonce) != NonceSize {
		return nil, fmt.Errorf("invalid nonce size: expected %d, got %d", NonceSize, len(env.Nonce))
	}
	if env.Iterations <= 0 {
		return nil, fmt.Errorf("invalid iteration count %d", env.Iterations)
	}

	gcm, err := s.aead(env.Salt, env.Iterations)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, s.aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func (s *Sealer) aead(salt []byte, iterations int) (cipher.AEAD, error) {
	key := pbkdf2.Key(s.passphrase, salt, iterations, KeySize, sha256.New)
	defer Zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// CheckPassphrase enforces the minimum passphrase length.
func CheckPassphrase(passphrase string) error {
	if len(passphrase) < MinPassphraseLength {
		return fmt.Errorf("passphrase must be at least %d characters long", MinPassphraseLength)
	}
	return nil
}

// Zero overwrites b.
func Zero(b []byte) {
	clear(b)
}
