package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hussein-Mazeh/passmngr/auth"
	"github.com/Hussein-Mazeh/passmngr/internal/journal"
	"github.com/Hussein-Mazeh/passmngr/internal/service"
	"github.com/Hussein-Mazeh/passmngr/internal/vault"
	"github.com/Hussein-Mazeh/passmngr/krypto"
)

const master = "Glacier-Orbit-7-Lantern!"

func pw(s string) []byte { return []byte(s) }

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newService(t *testing.T, opts ...service.Option) *service.Service {
	t.Helper()
	return service.New(filepath.Join(t.TempDir(), "vault.enc"), opts...)
}

func createUnlocked(t *testing.T, opts ...service.Option) *service.Service {
	t.Helper()
	s := newService(t, opts...)
	require.True(t, s.NeedsSetup())
	require.NoError(t, s.Create(context.Background(), pw(master)))
	require.True(t, s.IsUnlocked())
	return s
}

func TestCreate(t *testing.T) {
	s := createUnlocked(t)
	assert.False(t, s.NeedsSetup())

	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, s.Create(context.Background(), pw(master)), service.ErrUnlocked)
	s.Lock()
	assert.ErrorIs(t, s.Create(context.Background(), pw(master)), service.ErrExists)
}

func TestCreateRejectsWeakPassphrase(t *testing.T) {
	s := newService(t)
	err := s.Create(context.Background(), pw("password"))
	assert.ErrorIs(t, err, auth.ErrWeakPassphrase)
	assert.True(t, s.NeedsSetup())
	assert.Equal(t, service.Locked, s.State())
}

func TestCreateWipesPassphrase(t *testing.T) {
	s := newService(t)
	in := pw(master)
	require.NoError(t, s.Create(context.Background(), in))
	assert.Equal(t, make([]byte, len(master)), in)
}

func TestLockedOperations(t *testing.T) {
	s := newService(t)
	assert.Equal(t, service.Locked, s.State())
	assert.Equal(t, "locked", s.State().String())

	_, err := s.List()
	assert.ErrorIs(t, err, service.ErrLocked)
	_, err = s.Add(vault.Entry{Name: "x"})
	assert.ErrorIs(t, err, service.ErrLocked)
	assert.ErrorIs(t, s.Save(), service.ErrLocked)
	assert.ErrorIs(t, s.Delete(uuid.New()), service.ErrLocked)
	_, err = s.Get(uuid.New())
	assert.ErrorIs(t, err, service.ErrLocked)
	assert.ErrorIs(t, s.Update(uuid.New(), func(*vault.Entry) {}), service.ErrLocked)
	assert.ErrorIs(t, s.ChangePassphrase(context.Background(), pw(master), pw(master)), service.ErrLocked)
	assert.NotPanics(t, s.Lock)
}

func TestSaveLockUnlockRoundTrip(t *testing.T) {
	s := createUnlocked(t)

	id, err := s.Add(vault.NewEntry("GitHub", "user@example.com", "x", "https://github.com", "", []string{"dev"}))
	require.NoError(t, err)
	assert.True(t, s.Dirty())
	want, err := s.Get(id)
	require.NoError(t, err)

	require.NoError(t, s.Save())
	assert.False(t, s.Dirty())

	s.Lock()
	assert.Equal(t, service.Locked, s.State())
	_, err = s.List()
	assert.ErrorIs(t, err, service.ErrLocked)

	in := pw(master)
	require.NoError(t, s.Unlock(in))
	assert.Equal(t, make([]byte, len(master)), in, "passphrase input must be wiped")
	assert.Equal(t, "unlocked", s.State().String())

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.Password, got.Password)
	assert.True(t, want.Created.Equal(got.Created))
	assert.True(t, want.Modified.Equal(got.Modified))

	assert.ErrorIs(t, s.Unlock(pw(master)), service.ErrUnlocked)
}

func TestUnlockWrongPassphraseStaysLocked(t *testing.T) {
	s := createUnlocked(t)
	s.Lock()

	for i := 0; i < 2; i++ {
		in := pw("Wrong-Passphrase-1!")
		err := s.Unlock(in)
		assert.ErrorIs(t, err, krypto.ErrAuthentication)
		assert.Equal(t, service.Locked, s.State())
		assert.Equal(t, make([]byte, len(in)), in)
	}

	require.NoError(t, s.Unlock(pw(master)))
}

func TestLockDiscardsUnsavedChanges(t *testing.T) {
	s := createUnlocked(t)
	_, err := s.Add(vault.NewEntry("Unsaved", "u", "p", "", "", nil))
	require.NoError(t, err)

	s.Lock()
	require.NoError(t, s.Unlock(pw(master)))
	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIdleLock(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := createUnlocked(t, service.WithClock(clock.Now), service.WithIdleTimeout(time.Minute))

	clock.Advance(50 * time.Second)
	assert.False(t, s.CheckIdle())

	s.Touch()
	clock.Advance(50 * time.Second)
	assert.False(t, s.CheckIdle())
	assert.True(t, s.IsUnlocked())

	clock.Advance(10 * time.Second)
	assert.True(t, s.CheckIdle())
	assert.Equal(t, service.Locked, s.State())
	assert.False(t, s.CheckIdle())
}

func TestEntryOperations(t *testing.T) {
	s := createUnlocked(t)

	id, err := s.Add(vault.Entry{Name: "GitLab", Username: "dev", Password: "p"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	_, err = s.Add(vault.NewEntry("GitHub", "user", "p", "", "", []string{"work"}))
	require.NoError(t, err)

	before, err := s.Get(id)
	require.NoError(t, err)
	require.NoError(t, s.Update(id, func(e *vault.Entry) {
		e.Password = "rotated"
		e.ID = uuid.New()
	}))
	after, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "rotated", after.Password)
	assert.False(t, after.Modified.Before(before.Modified))

	res, err := s.Search("work")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "GitHub", res[0].Name)

	require.NoError(t, s.Delete(id))
	assert.ErrorIs(t, s.Delete(id), service.ErrNotFound)
	_, err = s.Get(id)
	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.ErrorIs(t, s.Update(id, func(*vault.Entry) {}), service.ErrNotFound)

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestChangePassphrase(t *testing.T) {
	s := createUnlocked(t)
	_, err := s.Add(vault.NewEntry("GitHub", "user", "p", "", "", nil))
	require.NoError(t, err)

	const next = "Harbor-Quartz-42-Meadow?"
	err = s.ChangePassphrase(context.Background(), pw("not-the-master"), pw(next))
	assert.ErrorIs(t, err, service.ErrPassphraseMismatch)

	err = s.ChangePassphrase(context.Background(), pw(master), pw("weak"))
	assert.ErrorIs(t, err, auth.ErrWeakPassphrase)

	require.NoError(t, s.ChangePassphrase(context.Background(), pw(master), pw(next)))
	s.Lock()

	assert.ErrorIs(t, s.Unlock(pw(master)), krypto.ErrAuthentication)
	require.NoError(t, s.Unlock(pw(next)))
	entries, err := s.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// The session keeps saving under the new passphrase.
	require.NoError(t, s.Save())
	s.Lock()
	require.NoError(t, s.Unlock(pw(next)))
}

func TestSavesAreJournaled(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	s := createUnlocked(t, service.WithRecorder(j))
	require.NoError(t, s.Save())
	require.NoError(t, s.Save())

	hist, err := j.History(s.Path(), 0)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.NotEqual(t, hist[1].Salt, hist[2].Salt)
	assert.NotEqual(t, hist[1].Nonce, hist[2].Nonce)
}
