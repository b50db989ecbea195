package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Hussein-Mazeh/passmngr/auth"
	"github.com/Hussein-Mazeh/passmngr/internal/config"
	"github.com/Hussein-Mazeh/passmngr/internal/vault"
	"github.com/Hussein-Mazeh/passmngr/krypto"
	"github.com/Hussein-Mazeh/passmngr/store"
)

var (
	// ErrLocked is returned by entry operations while no vault is unlocked.
	ErrLocked = errors.New("vault locked")
	// ErrUnlocked is returned when Unlock or Create is called on an open session.
	ErrUnlocked = errors.New("vault already unlocked")
	// ErrExists is returned by Create when a container is already on disk.
	ErrExists = errors.New("vault already exists; unlock instead")
	// ErrNotFound is returned for unknown entry IDs.
	ErrNotFound = errors.New("entry not found")
	// ErrPassphraseMismatch is returned by ChangePassphrase for a wrong current passphrase.
	ErrPassphraseMismatch = errors.New("current passphrase does not match")
)

// State is the session lock state.
type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// Service owns one vault session: the decrypted entries and the passphrase
// while unlocked, nothing while locked.
//
// A Service is not safe for concurrent use. Unlock, Save, Create and
// ChangePassphrase block for a full Argon2id derivation.
type Service struct {
	path        string
	recorder    store.Recorder
	policy      auth.ValidateOptions
	idleTimeout time.Duration
	now         func() time.Time
	log         zerolog.Logger

	state      State
	vault      *vault.Vault
	passphrase *krypto.Secret // held only while unlocked
	dirty      bool
	lastActive time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a logger. Secrets are never logged.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

// WithIdleTimeout overrides the inactivity lock timeout.
func WithIdleTimeout(d time.Duration) Option { return func(s *Service) { s.idleTimeout = d } }

// WithRecorder records the salt and nonce of every save (see journal.Journal).
func WithRecorder(r store.Recorder) Option { return func(s *Service) { s.recorder = r } }

// WithPolicy overrides the passphrase policy used by Create and ChangePassphrase.
func WithPolicy(p auth.ValidateOptions) Option { return func(s *Service) { s.policy = p } }

// WithClock replaces time.Now, for idle-lock tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New returns a locked service bound to the container at path.
func New(path string, opts ...Option) *Service {
	s := &Service{
		path:        path,
		policy:      auth.DefaultValidateOptions(),
		idleTimeout: config.DefaultIdleTimeout,
		now:         time.Now,
		log:         zerolog.Nop(),
		state:       Locked,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path is the container location.
func (s *Service) Path() string { return s.path }

// State reports whether the session is locked.
func (s *Service) State() State { return s.state }

// IsUnlocked is shorthand for State() == Unlocked.
func (s *Service) IsUnlocked() bool { return s.state == Unlocked }

// Dirty reports unsaved changes.
func (s *Service) Dirty() bool { return s.dirty }

// NeedsSetup reports whether no container exists yet.
func (s *Service) NeedsSetup() bool { return !store.Exists(s.path) }

// Create initialises a new empty vault protected by passphrase and leaves the
// session unlocked. The passphrase slice is wiped before returning.
func (s *Service) Create(ctx context.Context, passphrase []byte) error {
	defer krypto.Wipe(passphrase)

	if s.state == Unlocked {
		return ErrUnlocked
	}
	if store.Exists(s.path) {
		return ErrExists
	}
	if err := auth.ValidateMasterPasswordAdvanced(ctx, string(passphrase), s.policyFor()); err != nil {
		return fmt.Errorf("validate master password: %w", err)
	}

	v := vault.New()
	if err := store.SaveWithOptions(s.path, v, passphrase, store.Options{Recorder: s.recorder}); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("create vault failed")
		return fmt.Errorf("create vault: %w", err)
	}

	s.open(v, passphrase)
	s.log.Info().Str("path", s.path).Msg("vault created")
	return nil
}

// Unlock loads and decrypts the container with passphrase. On failure the
// session stays locked and nothing in memory changes; there is no lockout,
// so each attempt pays the full derivation cost. The passphrase slice is
// moved into guarded memory on success and wiped on failure.
func (s *Service) Unlock(passphrase []byte) error {
	if s.state == Unlocked {
		krypto.Wipe(passphrase)
		return ErrUnlocked
	}

	v, err := store.Load(s.path, passphrase)
	if err != nil {
		krypto.Wipe(passphrase)
		s.log.Warn().Err(err).Str("path", s.path).Msg("unlock failed")
		return fmt.Errorf("unlock: %w", err)
	}

	s.open(v, passphrase)
	s.log.Info().Str("path", s.path).Int("entries", len(v.Entries)).Msg("vault unlocked")
	return nil
}

func (s *Service) open(v *vault.Vault, passphrase []byte) {
	s.vault = v
	s.passphrase = krypto.NewSecret(passphrase)
	s.state = Unlocked
	s.dirty = false
	s.lastActive = s.now()
}

// Lock wipes the decrypted entries and the passphrase. Unsaved changes are
// discarded. Locking a locked session is a no-op.
func (s *Service) Lock() {
	s.lock("explicit")
}

func (s *Service) lock(reason string) {
	if s.state == Locked {
		return
	}
	if s.dirty {
		s.log.Warn().Str("path", s.path).Msg("discarding unsaved changes on lock")
	}
	if s.vault != nil {
		s.vault.Wipe()
		s.vault = nil
	}
	s.passphrase.Wipe()
	s.passphrase = nil
	s.dirty = false
	s.state = Locked
	s.log.Info().Str("path", s.path).Str("reason", reason).Msg("vault locked")
}

// Touch records user activity, postponing the idle lock.
func (s *Service) Touch() {
	s.lastActive = s.now()
}

// CheckIdle locks the session if it has been inactive for the idle timeout
// and reports whether it did.
func (s *Service) CheckIdle() bool {
	if s.state != Unlocked || s.idleTimeout <= 0 {
		return false
	}
	if s.now().Sub(s.lastActive) < s.idleTimeout {
		return false
	}
	s.lock("idle")
	return true
}

// Save re-encrypts the vault with fresh parameters and a fresh key.
func (s *Service) Save() error {
	if s.state != Unlocked {
		return ErrLocked
	}
	s.Touch()
	if err := store.SaveWithOptions(s.path, s.vault, s.passphrase.Bytes(), store.Options{Recorder: s.recorder}); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("save failed")
		return fmt.Errorf("save: %w", err)
	}
	s.dirty = false
	s.log.Info().Str("path", s.path).Int("entries", len(s.vault.Entries)).Msg("vault saved")
	return nil
}

// ChangePassphrase saves the vault under newPass after checking current
// against the session passphrase in memory. Both slices are wiped.
func (s *Service) ChangePassphrase(ctx context.Context, current, newPass []byte) error {
	defer krypto.Wipe(current)
	defer krypto.Wipe(newPass)

	if s.state != Unlocked {
		return ErrLocked
	}
	s.Touch()
	if !s.passphrase.Equal(current) {
		return ErrPassphraseMismatch
	}
	if err := auth.ValidateMasterPasswordAdvanced(ctx, string(newPass), s.policyFor()); err != nil {
		return fmt.Errorf("validate new master password: %w", err)
	}
	if err := store.SaveWithOptions(s.path, s.vault, newPass, store.Options{Recorder: s.recorder}); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("passphrase change failed")
		return fmt.Errorf("save with new passphrase: %w", err)
	}

	s.passphrase.Wipe()
	s.passphrase = krypto.NewSecret(newPass)
	s.dirty = false
	s.log.Info().Str("path", s.path).Msg("passphrase changed")
	return nil
}

func (s *Service) policyFor() auth.ValidateOptions {
	p := s.policy
	p.UserInputs = append(append([]string(nil), p.UserInputs...), s.path)
	return p
}

// Add appends a new entry and returns its ID.
func (s *Service) Add(e vault.Entry) (uuid.UUID, error) {
	if s.state != Unlocked {
		return uuid.Nil, ErrLocked
	}
	s.Touch()
	if e.ID == uuid.Nil {
		e = vault.NewEntry(e.Name, e.Username, e.Password, e.URL, e.Notes, e.Tags)
	}
	s.vault.Add(e)
	s.dirty = true
	return e.ID, nil
}

// Update applies fn to the entry with id and bumps its modified time.
func (s *Service) Update(id uuid.UUID, fn func(*vault.Entry)) error {
	if s.state != Unlocked {
		return ErrLocked
	}
	s.Touch()
	e, ok := s.vault.Get(id)
	if !ok {
		return ErrNotFound
	}
	fn(e)
	e.ID = id
	e.Touch()
	s.dirty = true
	return nil
}

// Delete removes the entry with id.
func (s *Service) Delete(id uuid.UUID) error {
	if s.state != Unlocked {
		return ErrLocked
	}
	s.Touch()
	if _, ok := s.vault.Remove(id); !ok {
		return ErrNotFound
	}
	s.dirty = true
	return nil
}

// Get returns a copy of the entry with id.
func (s *Service) Get(id uuid.UUID) (vault.Entry, error) {
	if s.state != Unlocked {
		return vault.Entry{}, ErrLocked
	}
	s.Touch()
	e, ok := s.vault.Get(id)
	if !ok {
		return vault.Entry{}, ErrNotFound
	}
	return *e, nil
}

// List returns every entry in vault order.
func (s *Service) List() ([]vault.Entry, error) {
	return s.Search("")
}

// Search returns entries matching query in vault order.
func (s *Service) Search(query string) ([]vault.Entry, error) {
	if s.state != Unlocked {
		return nil, ErrLocked
	}
	s.Touch()
	return s.vault.Search(query), nil
}
