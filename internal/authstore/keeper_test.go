package authstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVault struct {
	values  []interface{}
	err     error
	lookups []string
}

func (f *fakeVault) GetNotation(notation string) ([]interface{}, error) {
	f.lookups = append(f.lookups, notation)
	return f.values, f.err
}

func TestKeeperTokenSource(t *testing.T) {
	ctx := context.Background()
	vault := &fakeVault{values: []interface{}{"vault-token"}}
	src := newKeeperTokenSource(vault, "keeper://AbCdEfGhIjKlMnOpQrSt/field/password", nil)

	token, err := src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vault-token", token)

	_, err = src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AbCdEfGhIjKlMnOpQrSt/field/password"}, vault.lookups, "token is memoized")

	require.NoError(t, src.Clear(ctx))
	vault.values = []interface{}{"rotated"}
	token, err = src.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rotated", token)
	assert.Len(t, vault.lookups, 2)
}

func TestKeeperTokenSource_Errors(t *testing.T) {
	ctx := context.Background()

	src := newKeeperTokenSource(&fakeVault{err: errors.New("record not found")}, "UID/field/password", nil)
	_, err := src.Token(ctx)
	assert.ErrorContains(t, err, "record not found")

	src = newKeeperTokenSource(&fakeVault{values: []interface{}{""}}, "UID/field/password", nil)
	_, err = src.Token(ctx)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestKeeperTokenSource_NestedValues(t *testing.T) {
	src := newKeeperTokenSource(&fakeVault{values: []interface{}{[]interface{}{"", "nested"}}}, "UID/field/password", nil)
	token, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nested", token)
}

func TestNewKeeperTokenSource_Config(t *testing.T) {
	dir := t.TempDir()

	_, err := NewKeeperTokenSource(filepath.Join(dir, "missing.json"), "UID/field/password", nil)
	assert.ErrorContains(t, err, "failed to read Keeper config")

	partial := filepath.Join(dir, "partial.json")
	require.NoError(t, os.WriteFile(partial, []byte(`{"clientId":"abc"}`), 0600))
	_, err = NewKeeperTokenSource(partial, "UID/field/password", nil)
	assert.ErrorContains(t, err, "missing privateKey")

	_, err = NewKeeperTokenSource(partial, "UID/file/token.txt", nil)
	assert.ErrorContains(t, err, "unsupported selector")
}

func TestParseNotation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    *Notation
		wantErr bool
	}{
		{
			name:  "uid with scheme",
			input: "keeper://AbCdEfGhIjKlMnOpQrSt/field/password",
			want:  &Notation{UID: "AbCdEfGhIjKlMnOpQrSt", Field: "password", Index: -1},
		},
		{
			name:  "title custom field",
			input: "CTMS API/custom_field/apiToken",
			want:  &Notation{Title: "CTMS API", Custom: true, Field: "apiToken", Index: -1},
		},
		{
			name:  "indexed",
			input: "CTMS API/field/password[1]",
			want:  &Notation{Title: "CTMS API", Field: "password", Index: 1},
		},
		{name: "empty", input: "", wantErr: true},
		{name: "too short", input: "UID/field", wantErr: true},
		{name: "file selector", input: "UID/file/token.txt", wantErr: true},
		{name: "empty record", input: "/field/password", wantErr: true},
		{name: "empty field", input: "UID/field/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNotation(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
