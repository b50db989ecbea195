package krypto

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()-_=+[]{};:,.?"

	// DefaultPasswordLength matches the generator used by the entry editor.
	DefaultPasswordLength = 20
)

// GeneratePassword returns n characters drawn uniformly from a printable alphabet.
func GeneratePassword(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("%w: password length must be positive", ErrParameter)
	}
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(randReader, max)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrRandom, err)
		}
		out[i] = passwordAlphabet[idx.Int64()]
	}
	return string(out), nil
}
