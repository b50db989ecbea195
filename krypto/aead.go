package krypto

import (
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// CipherAlgorithm is the only AEAD a vault container may name.
	CipherAlgorithm = "chacha20poly1305"

	// NonceLengthBytes is the ChaCha20-Poly1305 nonce size.
	NonceLengthBytes = chacha20poly1305.NonceSize
	// TagLengthBytes is the Poly1305 tag appended to every ciphertext.
	TagLengthBytes = chacha20poly1305.Overhead
)

// CipherParams captures the AEAD identifier and nonce stored with each container.
type CipherParams struct {
	Algorithm string `json:"algorithm"`
	Nonce     []byte `json:"nonce"`
}

// NewCipherParams returns ChaCha20-Poly1305 parameters with a fresh random nonce.
func NewCipherParams() (CipherParams, error) {
	nonce, err := randomBytes(NonceLengthBytes)
	if err != nil {
		return CipherParams{}, fmt.Errorf("generate nonce: %w", err)
	}
	return CipherParams{Algorithm: CipherAlgorithm, Nonce: nonce}, nil
}

// Validate reports ErrParameter for an unknown algorithm or a malformed nonce.
func (p CipherParams) Validate() error {
	if p.Algorithm != CipherAlgorithm {
		return fmt.Errorf("%w: unsupported cipher %q", ErrParameter, p.Algorithm)
	}
	if len(p.Nonce) != NonceLengthBytes {
		return fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrParameter, NonceLengthBytes, len(p.Nonce))
	}
	return nil
}

// Encrypt seals plaintext with ChaCha20-Poly1305 under key and nonce.
// No associated data is used. The result is ciphertext followed by the tag.
func Encrypt(key *Key, nonce, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext with ChaCha20-Poly1305. Any tag mismatch yields
// ErrAuthentication; this is the only passphrase check the vault performs.
func Decrypt(key *Key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < TagLengthBytes {
		return nil, ErrAuthentication
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func newAEAD(key *Key, nonce []byte) (cipher.AEAD, error) {
	if !key.Alive() {
		return nil, fmt.Errorf("%w: key has been destroyed", ErrParameter)
	}
	if len(nonce) != NonceLengthBytes {
		return nil, fmt.Errorf("%w: invalid nonce size %d", ErrParameter, len(nonce))
	}
	aead, err := chacha20poly1305.New(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: create cipher: %v", ErrParameter, err)
	}
	return aead, nil
}
