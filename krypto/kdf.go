package krypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	// KDFAlgorithm is the only key-derivation algorithm a vault container may name.
	KDFAlgorithm = "argon2id"

	// SaltLengthBytes is the enforced salt length in bytes.
	SaltLengthBytes = 16
	// KeyLengthBytes is the size of every derived key.
	KeyLengthBytes = 32

	// DefaultTimeCost is the Argon2id iteration count.
	DefaultTimeCost = 3
	// DefaultMemoryCost is the Argon2id memory cost in KiB (64 MiB).
	DefaultMemoryCost = 64 * 1024
	// DefaultParallelism is the number of Argon2id lanes.
	DefaultParallelism = 4

	// Upper bounds applied to parameters read back from disk.
	maxTimeCost   = 1 << 12
	maxMemoryCost = 1 << 22
	maxLanes      = 255
)

// randReader is the entropy source for salts, nonces and generated passwords.
var randReader io.Reader = rand.Reader

// KDFParams captures the Argon2id parameters stored alongside each container.
type KDFParams struct {
	Algorithm   string `json:"algorithm"`
	Salt        []byte `json:"salt"`
	TimeCost    uint32 `json:"time_cost"`
	MemoryCost  uint32 `json:"memory_cost"`
	Parallelism uint32 `json:"parallelism"`
}

// NewKDFParams returns default Argon2id costs with a fresh random salt.
// A new value must be generated for every save.
func NewKDFParams() (KDFParams, error) {
	salt, err := randomBytes(SaltLengthBytes)
	if err != nil {
		return KDFParams{}, fmt.Errorf("generate salt: %w", err)
	}
	return KDFParams{
		Algorithm:   KDFAlgorithm,
		Salt:        salt,
		TimeCost:    DefaultTimeCost,
		MemoryCost:  DefaultMemoryCost,
		Parallelism: DefaultParallelism,
	}, nil
}

// Validate reports ErrParameter when the parameters are not self-consistent.
func (p KDFParams) Validate() error {
	if p.Algorithm != KDFAlgorithm {
		return fmt.Errorf("%w: unsupported kdf %q", ErrParameter, p.Algorithm)
	}
	if len(p.Salt) != SaltLengthBytes {
		return fmt.Errorf("%w: salt must be %d bytes, got %d", ErrParameter, SaltLengthBytes, len(p.Salt))
	}
	if p.TimeCost == 0 || p.TimeCost > maxTimeCost {
		return fmt.Errorf("%w: time cost %d out of range", ErrParameter, p.TimeCost)
	}
	if p.Parallelism == 0 || p.Parallelism > maxLanes {
		return fmt.Errorf("%w: parallelism %d out of range", ErrParameter, p.Parallelism)
	}
	// Argon2 needs at least 8 KiB per lane.
	if p.MemoryCost < 8*p.Parallelism {
		return fmt.Errorf("%w: memory cost %d KiB too low for %d lanes", ErrParameter, p.MemoryCost, p.Parallelism)
	}
	if p.MemoryCost > maxMemoryCost {
		return fmt.Errorf("%w: memory cost %d KiB exceeds limit", ErrParameter, p.MemoryCost)
	}
	return nil
}

// DeriveKey runs Argon2id over the passphrase and the salt in p and returns a
// 32-byte key. The caller owns the key and must Destroy it.
//
// The call is memory-hard and blocks for roughly 100-150ms with the default
// costs. It cannot be cancelled and reports no progress, so interactive
// callers should render a status line before invoking it.
func DeriveKey(passphrase []byte, p KDFParams) (key *Key, err error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			key = nil
			err = fmt.Errorf("%w: %v", ErrDerivation, r)
		}
	}()

	raw := argon2.IDKey(passphrase, p.Salt, p.TimeCost, p.MemoryCost, uint8(p.Parallelism), KeyLengthBytes)
	if len(raw) != KeyLengthBytes {
		wipeBytes(raw)
		return nil, fmt.Errorf("%w: derived key has unexpected length %d", ErrDerivation, len(raw))
	}
	return newKey(raw), nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRandom, err)
	}
	return b, nil
}
