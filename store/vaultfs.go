package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Hussein-Mazeh/passmngr/internal/vault"
	"github.com/Hussein-Mazeh/passmngr/krypto"
)

const (
	defaultDirName  = "passmngr"
	defaultFileName = "vault.enc"
)

// ErrIO wraps every read, write, rename or directory failure.
var ErrIO = errors.New("vault file i/o failed")

// renameFile is swapped by tests to simulate a crash before the rename.
var renameFile = os.Rename

// Recorder tracks the salt and nonce of every save. Check runs after
// encryption and before anything touches disk; an error aborts the save.
// Record runs only once the new container has replaced the old one.
type Recorder interface {
	Check(path string, salt, nonce []byte) error
	Record(path string, salt, nonce []byte) error
}

// Options tunes Save. The zero value is valid.
type Options struct {
	Recorder Recorder
}

// DefaultPath resolves ~/.local/share/passmngr/vault.enc.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: resolve home directory: %w", ErrIO, err)
	}
	return filepath.Join(home, ".local", "share", defaultDirName, defaultFileName), nil
}

// Exists reports whether a container is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads the container at path, derives the key from its stored KDF
// parameters and passphrase, and decrypts the vault. A wrong passphrase and a
// corrupted file both surface as krypto.ErrAuthentication.
func Load(path string, passphrase []byte) (*vault.Vault, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read vault: %w", ErrIO, err)
	}

	c, err := vault.DecodeContainer(data)
	if err != nil {
		return nil, err
	}

	key, err := krypto.DeriveKey(passphrase, c.KDF)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer key.Destroy()

	plaintext, err := krypto.Decrypt(key, c.Cipher.Nonce, c.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt vault: %w", err)
	}
	defer krypto.Wipe(plaintext)

	return vault.Unmarshal(plaintext)
}

// Save encrypts v under a key derived from passphrase and atomically replaces
// the container at path.
func Save(path string, v *vault.Vault, passphrase []byte) error {
	return SaveWithOptions(path, v, passphrase, Options{})
}

// SaveWithOptions is Save with an optional parameter recorder.
//
// Every call generates a new salt and nonce and performs a full key
// derivation; keys are never cached between saves.
func SaveWithOptions(path string, v *vault.Vault, passphrase []byte, opts Options) error {
	if v == nil {
		return fmt.Errorf("%w: vault is nil", vault.ErrSerialization)
	}

	plaintext, err := vault.Marshal(v)
	if err != nil {
		return err
	}
	defer krypto.Wipe(plaintext)

	kdf, err := krypto.NewKDFParams()
	if err != nil {
		return err
	}
	cp, err := krypto.NewCipherParams()
	if err != nil {
		return err
	}

	key, err := krypto.DeriveKey(passphrase, kdf)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}
	defer key.Destroy()

	ciphertext, err := krypto.Encrypt(key, cp.Nonce, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt vault: %w", err)
	}

	if opts.Recorder != nil {
		if err := opts.Recorder.Check(path, kdf.Salt, cp.Nonce); err != nil {
			return fmt.Errorf("check save parameters: %w", err)
		}
	}

	data, err := vault.EncodeContainer(vault.Container{
		Version:    vault.FormatVersion,
		KDF:        kdf,
		Cipher:     cp,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return err
	}

	if err := writeAtomic(path, data); err != nil {
		return err
	}

	if opts.Recorder != nil {
		if err := opts.Recorder.Record(path, kdf.Salt, cp.Nonce); err != nil {
			return fmt.Errorf("vault written but save not recorded: %w", err)
		}
	}
	return nil
}

// writeAtomic writes data to a temp file beside path and renames it into
// place, so readers see either the old container or the new one.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: create vault directory: %w", ErrIO, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp vault: %w", ErrIO, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write temp vault: %w", ErrIO, err)
	}

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: chmod temp vault: %w", ErrIO, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: sync temp vault: %w", ErrIO, err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp vault: %w", ErrIO, err)
	}

	if err := renameFile(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: replace vault: %w", ErrIO, err)
	}

	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry after a rename. Not every platform
// supports fsync on directories, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
