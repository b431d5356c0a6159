package authstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestFileStore_Plaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", CredentialsFileName)
	s, err := OpenFileStore(path, "")
	require.NoError(t, err)
	testStore(t, s)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStore_Encrypted(t *testing.T) {
	path := filepath.Join(t.TempDir(), CredentialsFileName)
	passphrase := "correct horse battery staple"

	s, err := OpenFileStore(path, passphrase)
	require.NoError(t, err)
	require.NoError(t, s.Put(Credential{Name: "prod", BaseURL: "https://ctms.example.com", Token: "tok-123"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "tok-123")
	assert.NotContains(t, string(data), "ctms.example.com")

	var file credentialsFile
	require.NoError(t, json.Unmarshal(data, &file))
	assert.True(t, file.Encrypted)
	assert.Nil(t, file.Profiles)

	reopened, err := OpenFileStore(path, passphrase)
	require.NoError(t, err)
	cred, err := reopened.Get("prod")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cred.Token)

	_, err = OpenFileStore(path, "wrong passphrase entirely")
	assert.Error(t, err)

	_, err = OpenFileStore(path, "")
	assert.ErrorContains(t, err, "passphrase is required")
}

func TestFileStore_PersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), CredentialsFileName)

	s, err := OpenFileStore(path, "")
	require.NoError(t, err)
	require.NoError(t, s.Put(Credential{Name: "default", Token: "a"}))
	require.NoError(t, s.Put(Credential{Name: "staging", Token: "b"}))
	require.NoError(t, s.Delete("staging"))

	reopened, err := OpenFileStore(path, "")
	require.NoError(t, err)
	names, err := reopened.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, names)

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), CredentialsFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := OpenFileStore(path, "")
	assert.ErrorContains(t, err, "failed to parse credentials file")
}

// testStore exercises behavior shared by every Store.
func testStore(t *testing.T, s Store) {
	t.Helper()

	_, err := s.Get("default")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("default"), ErrNotFound)

	require.NoError(t, s.Put(Credential{Name: "default", BaseURL: "https://ctms.example.com", Token: "first"}))
	first, err := s.Get("default")
	require.NoError(t, err)
	assert.False(t, first.CreatedAt.IsZero())

	time.Sleep(time.Millisecond)
	require.NoError(t, s.Put(Credential{Name: "default", Token: "second"}))
	second, err := s.Get("default")
	require.NoError(t, err)
	assert.Equal(t, "second", second.Token)
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt), "creation time is kept on update")
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))

	for _, bad := range []string{"", "admin", "has space", "../x"} {
		assert.Error(t, s.Put(Credential{Name: bad, Token: "x"}), bad)
	}

	require.NoError(t, s.Put(Credential{Name: "b-profile", Token: "x"}))
	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b-profile", "default"}, names)
}

func TestProfileTokens(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tokens := NewProfileTokens(store, "default")

	token, err := tokens.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token, "missing profile means no token")
	require.NoError(t, tokens.Clear(ctx))

	require.NoError(t, store.Put(Credential{Name: "default", BaseURL: "https://ctms.example.com", Token: "abc"}))
	token, err = tokens.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	cred, err := tokens.Credential()
	require.NoError(t, err)
	assert.Equal(t, "https://ctms.example.com", cred.BaseURL)

	require.NoError(t, tokens.Clear(ctx))
	token, err = tokens.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	cred, err = tokens.Credential()
	assert.True(t, errors.Is(err, ErrNoToken))
	assert.Equal(t, "https://ctms.example.com", cred.BaseURL, "clearing keeps the profile")
}
