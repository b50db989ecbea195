package vault

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the plaintext vault record version.
const CurrentVersion = 1

// Entry is a single stored credential.
type Entry struct {
	ID       uuid.UUID `json:"id"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Name     string    `json:"name"`
	Username string    `json:"username"`
	Password string    `json:"password"`
	URL      string    `json:"url,omitempty"`
	Notes    string    `json:"notes,omitempty"`
	Tags     []string  `json:"tags"`
}

// NewEntry builds an entry with a random ID and both timestamps set to now.
func NewEntry(name, username, password, url, notes string, tags []string) Entry {
	now := time.Now().UTC()
	if tags == nil {
		tags = []string{}
	}
	return Entry{
		ID:       uuid.New(),
		Created:  now,
		Modified: now,
		Name:     name,
		Username: username,
		Password: password,
		URL:      url,
		Notes:    notes,
		Tags:     tags,
	}
}

// Touch bumps the modified timestamp.
func (e *Entry) Touch() {
	e.Modified = time.Now().UTC()
}

// Matches reports whether query occurs, case-insensitively, in the name,
// username, URL, notes or any tag. Passwords are never searched.
func (e Entry) Matches(query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(e.Name), q) ||
		strings.Contains(strings.ToLower(e.Username), q) ||
		strings.Contains(strings.ToLower(e.URL), q) ||
		strings.Contains(strings.ToLower(e.Notes), q) {
		return true
	}
	for _, tag := range e.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// Vault is the ordered collection of entries that gets encrypted as a whole.
type Vault struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// New returns an empty vault at the current version.
func New() *Vault {
	return &Vault{Version: CurrentVersion, Entries: []Entry{}}
}

// Add appends an entry, keeping insertion order.
func (v *Vault) Add(e Entry) {
	v.Entries = append(v.Entries, e)
}

// Remove deletes the entry with the given ID and returns it. The vacated
// slot past the new length is zeroed.
func (v *Vault) Remove(id uuid.UUID) (Entry, bool) {
	for i, e := range v.Entries {
		if e.ID == id {
			last := len(v.Entries) - 1
			copy(v.Entries[i:], v.Entries[i+1:])
			v.Entries[last] = Entry{}
			v.Entries = v.Entries[:last]
			return e, true
		}
	}
	return Entry{}, false
}

// Get returns a pointer into the vault so callers can edit in place.
func (v *Vault) Get(id uuid.UUID) (*Entry, bool) {
	for i := range v.Entries {
		if v.Entries[i].ID == id {
			return &v.Entries[i], true
		}
	}
	return nil, false
}

// Search returns entries matching query in vault order; an empty query matches all.
func (v *Vault) Search(query string) []Entry {
	out := make([]Entry, 0, len(v.Entries))
	for _, e := range v.Entries {
		if query == "" || e.Matches(query) {
			out = append(out, e)
		}
	}
	return out
}

// Wipe clears every entry, including the backing array, so no reference to
// entry secrets survives a lock.
func (v *Vault) Wipe() {
	backing := v.Entries[:cap(v.Entries)]
	for i := range backing {
		backing[i] = Entry{}
	}
	v.Entries = v.Entries[:0]
}
