// Package cryptoutil provides the pure crypto primitives the ledger and
// monitor are built on: key derivation from a master secret and salt,
// authenticated payload encryption, and keyed hashing for chain links.
//
// Two independent keys are derived from the same master secret: a
// payload-encryption key and a chain-MAC key. Rotating the encryption
// key therefore never invalidates previously computed chain links.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the length of all derived keys (AES-256, HMAC-SHA256).
	KeySize = 32

	// SaltSize is the length of the PBKDF2 salt.
	SaltSize = 16

	pbkdf2Iterations = 210_000
)

// Derivation context strings. Changing either invalidates every stored
// ciphertext or chain link respectively.
const (
	infoPayload = "attestra/v1/payload-encryption"
	infoChain   = "attestra/v1/chain-mac"
)

// Keys holds the two derived keys used by the evidence ledger.
type Keys struct {
	Payload []byte // AES-256-GCM payload encryption
	Chain   []byte // HMAC-SHA256 chain links
}

// NewSecret returns a fresh random master secret.
func NewSecret() ([]byte, error) {
	secret := make([]byte, KeySize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generating master secret: %w", err)
	}
	return secret, nil
}

// NewSalt returns a fresh random derivation salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// DeriveKeys stretches secret+salt into the payload and chain keys.
// PBKDF2 hardens low-entropy (passphrase-derived) secrets; HKDF then
// splits the stretched key into two independent subkeys.
func DeriveKeys(secret, salt []byte) (Keys, error) {
	master := pbkdf2.Key(secret, salt, pbkdf2Iterations, KeySize, sha256.New)

	payload, err := expand(master, salt, infoPayload)
	if err != nil {
		return Keys{}, err
	}
	chain, err := expand(master, salt, infoChain)
	if err != nil {
		return Keys{}, err
	}
	return Keys{Payload: payload, Chain: chain}, nil
}

func expand(master, salt []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, master, salt, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("expanding %s key: %w", info, err)
	}
	return key, nil
}

// Encrypt seals plaintext under key with AES-256-GCM. The returned nonce
// is unique per call and must be stored alongside the ciphertext; it is
// never reused across records.
func Encrypt(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt opens ciphertext produced by Encrypt. A wrong key or tampered
// ciphertext fails authentication and returns an error rather than
// silently corrupted plaintext.
func Decrypt(key, ciphertext, nonce []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("opening ciphertext: %w", err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aead, nil
}

// ChainMAC returns the hex HMAC-SHA256 of data under the chain key.
func ChainMAC(chainKey, data []byte) string {
	mac := hmac.New(sha256.New, chainKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// MACEqual compares two hex MACs in constant time.
func MACEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
