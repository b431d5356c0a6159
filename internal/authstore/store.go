// Package authstore persists CTMS API credentials per profile and adapts
// them to the API client's token interface.
package authstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clinprecision/ctms-forms/internal/apiclient"
	"github.com/clinprecision/ctms-forms/internal/validation"
)

var (
	// ErrNotFound is returned when a profile has no stored credential.
	ErrNotFound = errors.New("profile not found")
	// ErrNoToken is returned when a profile exists but holds no token,
	// typically after the API rejected it.
	ErrNoToken = errors.New("no API token stored")
)

// Credential is one profile's API session.
type Credential struct {
	Name      string    `json:"name"`
	BaseURL   string    `json:"baseURL,omitempty"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store holds credentials by profile name.
type Store interface {
	Get(name string) (*Credential, error)
	Put(cred Credential) error
	Delete(name string) error
	List() ([]string, error)
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	creds     map[string]Credential
	validator *validation.InputValidator
	now       func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds:     make(map[string]Credential),
		validator: validation.NewInputValidator(),
		now:       time.Now,
	}
}

func (m *MemoryStore) Get(name string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cred, ok := m.creds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return &cred, nil
}

func (m *MemoryStore) Put(cred Credential) error {
	if err := m.validator.ValidateProfileName(cred.Name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creds[cred.Name] = stamp(cred, m.creds, m.now())
	return nil
}

func (m *MemoryStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.creds[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(m.creds, name)
	return nil
}

func (m *MemoryStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedNames(m.creds), nil
}

// stamp sets the timestamps of cred, keeping the creation time of an
// existing profile.
func stamp(cred Credential, existing map[string]Credential, now time.Time) Credential {
	cred.UpdatedAt = now
	if prev, ok := existing[cred.Name]; ok && !prev.CreatedAt.IsZero() {
		cred.CreatedAt = prev.CreatedAt
	} else if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	return cred
}

func sortedNames(creds map[string]Credential) []string {
	names := make([]string, 0, len(creds))
	for name := range creds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ensure ProfileTokens implements apiclient.TokenStore
var _ apiclient.TokenStore = ProfileTokens{}

// ProfileTokens serves one profile's token to the API client.
type ProfileTokens struct {
	store Store
	name  string
}

// NewProfileTokens binds store to profile name.
func NewProfileTokens(store Store, name string) ProfileTokens {
	return ProfileTokens{store: store, name: name}
}

// Token returns the stored token, or "" when the profile has none.
func (p ProfileTokens) Token(context.Context) (string, error) {
	cred, err := p.store.Get(p.name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

// Clear blanks the token and keeps the rest of the profile.
func (p ProfileTokens) Clear(context.Context) error {
	cred, err := p.store.Get(p.name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if cred.Token == "" {
		return nil
	}
	cred.Token = ""
	return p.store.Put(*cred)
}

// Credential returns the profile's credential, failing with ErrNoToken when
// it holds no token.
func (p ProfileTokens) Credential() (*Credential, error) {
	cred, err := p.store.Get(p.name)
	if err != nil {
		return nil, err
	}
	if cred.Token == "" {
		return cred, ErrNoToken
	}
	return cred, nil
}
