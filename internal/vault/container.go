package vault

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Hussein-Mazeh/passmngr/krypto"
)

// FormatVersion is the only on-disk container version this build reads or writes.
const FormatVersion uint32 = 1

var (
	// ErrUnsupportedVersion is returned for any container whose version is not FormatVersion.
	ErrUnsupportedVersion = errors.New("unsupported vault version")

	// ErrSerialization indicates a malformed container or plaintext record.
	ErrSerialization = errors.New("malformed vault data")
)

// Container is the on-disk record. Salt and nonce are stored in the clear;
// only Ciphertext is protected.
type Container struct {
	Version    uint32              `json:"version"`
	KDF        krypto.KDFParams    `json:"kdf"`
	Cipher     krypto.CipherParams `json:"cipher"`
	Ciphertext []byte              `json:"ciphertext"`
}

// EncodeContainer renders c as indented JSON.
func EncodeContainer(c Container) ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encode container: %w", ErrSerialization, err)
	}
	return data, nil
}

// DecodeContainer parses data and checks the version before anything else,
// so an unknown version never reaches key derivation.
func DecodeContainer(data []byte) (Container, error) {
	var probe struct {
		Version *uint32 `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Container{}, fmt.Errorf("%w: decode container: %w", ErrSerialization, err)
	}
	if probe.Version == nil {
		return Container{}, fmt.Errorf("%w: container has no version", ErrSerialization)
	}
	if *probe.Version != FormatVersion {
		return Container{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, *probe.Version)
	}

	var c Container
	if err := json.Unmarshal(data, &c); err != nil {
		return Container{}, fmt.Errorf("%w: decode container: %w", ErrSerialization, err)
	}
	if c.KDF.Algorithm != krypto.KDFAlgorithm {
		return Container{}, fmt.Errorf("%w: unsupported kdf %q", ErrSerialization, c.KDF.Algorithm)
	}
	if len(c.KDF.Salt) != krypto.SaltLengthBytes {
		return Container{}, fmt.Errorf("%w: salt is %d bytes", ErrSerialization, len(c.KDF.Salt))
	}
	if c.Cipher.Algorithm != krypto.CipherAlgorithm {
		return Container{}, fmt.Errorf("%w: unsupported cipher %q", ErrSerialization, c.Cipher.Algorithm)
	}
	if len(c.Cipher.Nonce) != krypto.NonceLengthBytes {
		return Container{}, fmt.Errorf("%w: nonce is %d bytes", ErrSerialization, len(c.Cipher.Nonce))
	}
	if len(c.Ciphertext) < krypto.TagLengthBytes {
		return Container{}, fmt.Errorf("%w: ciphertext is %d bytes, shorter than the tag", ErrSerialization, len(c.Ciphertext))
	}
	return c, nil
}

// Marshal serializes the plaintext vault record.
func Marshal(v *Vault) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode vault: %w", ErrSerialization, err)
	}
	return data, nil
}

// Unmarshal parses a decrypted vault record.
func Unmarshal(data []byte) (*Vault, error) {
	var v Vault
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: decode vault: %w", ErrSerialization, err)
	}
	if v.Entries == nil {
		v.Entries = []Entry{}
	}
	return &v, nil
}
