package authstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clinprecision/ctms-forms/internal/crypto"
	"github.com/clinprecision/ctms-forms/internal/validation"
)

// CredentialsFileName is the default file name inside the config directory.
const CredentialsFileName = "credentials.json"

// sealedFor binds envelopes to this file format.
const sealedFor = "ctms-forms/credentials/v1"

// Ensure FileStore implements Store
var _ Store = (*FileStore)(nil)

// FileStore keeps credentials in one JSON file. With a passphrase the
// profile map is sealed with AES-256-GCM; without one it is written in
// plaintext with 0600 permissions.
type FileStore struct {
	mu        sync.Mutex
	path      string
	sealer    *crypto.Sealer
	creds     map[string]Credential
	validator *validation.InputValidator
	now       func() time.Time
}

// credentialsFile is the on-disk layout.
type credentialsFile struct {
	Version   int                   `json:"version"`
	Encrypted bool                  `json:"encrypted"`
	Sealed    *crypto.Envelope      `json:"sealed,omitempty"`
	Profiles  map[string]Credential `json:"profiles,omitempty"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// OpenFileStore loads the credentials file at path, creating nothing until
// the first write. An empty passphrase selects plaintext storage.
func OpenFileStore(path, passphrase string) (*FileStore, error) {
	s := &FileStore{
		path:      path,
		creds:     make(map[string]Credential),
		validator: validation.NewInputValidator(),
		now:       time.Now,
	}
	if passphrase != "" {
		s.sealer = crypto.NewSealer(passphrase, sealedFor)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the credentials file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(name string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return &cred, nil
}

func (s *FileStore) Put(cred Credential) error {
	if err := s.validator.ValidateProfileName(cred.Name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.creds[cred.Name]
	s.creds[cred.Name] = stamp(cred, s.creds, s.now())
	if err := s.save(); err != nil {
		if existed {
			s.creds[cred.Name] = previous
		} else {
			delete(s.creds, cred.Name)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.creds[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.creds, name)
	if err := s.save(); err != nil {
		s.creds[name] = previous
		return err
	}
	return nil
}

func (s *FileStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedNames(s.creds), nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path) // #nosec G304 - path from validated config dir
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credentials file: %w", err)
	}

	var file credentialsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}

	switch {
	case file.Encrypted && s.sealer == nil:
		return fmt.Errorf("credentials file %s is encrypted: a passphrase is required", s.path)
	case file.Encrypted:
		plain, err := s.sealer.Open(file.Sealed)
		if err != nil {
			return fmt.Errorf("failed to open credentials file: %w", err)
		}
		defer crypto.Zero(plain)
		if err := json.Unmarshal(plain, &s.creds); err != nil {
			return fmt.Errorf("failed to parse credentials: %w", err)
		}
	case file.Profiles != nil:
		s.creds = file.Profiles
	}
	return nil
}

// save writes the file atomically: a temp file in the same directory is
// renamed over the old one.
func (s *FileStore) save() error {
	file := credentialsFile{Version: 1, UpdatedAt: s.now()}

	if s.sealer != nil {
		plain, err := json.Marshal(s.creds)
		if err != nil {
			return fmt.Errorf("failed to serialize credentials: %w", err)
		}
		env, err := s.sealer.Seal(plain)
		crypto.Zero(plain)
		if err != nil {
			return fmt.Errorf("failed to encrypt credentials: %w", err)
		}
		file.Encrypted = true
		file.Sealed = env
	} else {
		file.Profiles = s.creds
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credentials file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set credentials permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close credentials: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to atomically update credentials file: %w", err)
	}
	return nil
}
