package krypto

import "errors"

var (
	// ErrRandom indicates the system entropy source failed. It is not recoverable.
	ErrRandom = errors.New("entropy source unavailable")

	// ErrParameter indicates inconsistent or out-of-range KDF/cipher parameters.
	ErrParameter = errors.New("invalid crypto parameters")

	// ErrDerivation indicates the Argon2id primitive itself failed.
	ErrDerivation = errors.New("key derivation failed")

	// ErrAuthentication is returned when the AEAD tag does not verify. A wrong
	// passphrase and a tampered ciphertext both produce it and cannot be told apart.
	ErrAuthentication = errors.New("authentication failed: wrong passphrase or corrupted data")
)
