package krypto

import "github.com/awnumar/memguard"

// Secret holds a passphrase for the lifetime of a session.
//
// Wipe overwrites the guarded copy. Copies the runtime made before the bytes
// reached NewSecret (string conversions, terminal buffers) cannot be reached
// from here, so scrubbing is best effort.
type Secret struct {
	buf *memguard.LockedBuffer
}

// NewSecret moves b into guarded memory and wipes b.
func NewSecret(b []byte) *Secret {
	return &Secret{buf: memguard.NewBufferFromBytes(b)}
}

// Bytes returns the passphrase bytes, or nil once wiped.
func (s *Secret) Bytes() []byte {
	if s == nil || s.buf == nil || !s.buf.IsAlive() {
		return nil
	}
	return s.buf.Bytes()
}

// Equal compares against b in constant time.
func (s *Secret) Equal(b []byte) bool {
	if s == nil || s.buf == nil {
		return len(b) == 0
	}
	if !s.buf.IsAlive() {
		return len(b) == 0
	}
	return s.buf.EqualTo(b)
}

// Wipe zero-fills and releases the passphrase. Safe to call more than once.
func (s *Secret) Wipe() {
	if s == nil || s.buf == nil {
		return
	}
	s.buf.Destroy()
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	wipeBytes(b)
}
