package krypto

import (
	"github.com/awnumar/memguard"
)

// Key is a derived 32-byte encryption key held in guarded memory.
//
// The backing buffer is locked against swapping, frozen read-only, and
// zero-filled by Destroy. A Key is never persisted and must be destroyed by
// whichever scope derived it, including on error paths.
type Key struct {
	buf *memguard.LockedBuffer
}

// newKey moves raw into a guarded buffer and wipes raw.
func newKey(raw []byte) *Key {
	buf := memguard.NewBufferFromBytes(raw)
	buf.Freeze()
	return &Key{buf: buf}
}

// Bytes exposes the key material. The slice is only valid until Destroy.
func (k *Key) Bytes() []byte {
	if !k.Alive() {
		return nil
	}
	return k.buf.Bytes()
}

// Alive reports whether the key still holds material.
func (k *Key) Alive() bool {
	return k != nil && k.buf != nil && k.buf.IsAlive()
}

// Destroy zero-fills and releases the key. It is safe to call more than once.
func (k *Key) Destroy() {
	if k == nil || k.buf == nil {
		return
	}
	k.buf.Destroy()
}

// wipeBytes overwrites sensitive byte slices in place.
func wipeBytes(b []byte) {
	memguard.WipeBytes(b)
}
