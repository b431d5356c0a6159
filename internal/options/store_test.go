package options

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clinprecision/ctms-forms/internal/forms"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// testStore runs the behavior every Store backend shares.
func testStore(t *testing.T, s Store) {
	ctx := context.Background()
	stored := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Clear(ctx))

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	entry := Entry{
		Options:  []forms.Option{{Value: "US", Label: "United States", Description: ""}},
		StoredAt: stored,
	}
	require.NoError(t, s.Set(ctx, "options_country_CODE_LIST_COUNTRY", entry))
	require.NoError(t, s.Set(ctx, "options_site_STUDY_DATA", Entry{
		Options:  []forms.Option{{Value: "S1", Label: "Site 1"}},
		StoredAt: stored,
	}))

	got, ok, err := s.Get(ctx, "options_country_CODE_LIST_COUNTRY")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "United States", got.Options[0].Label)
	assert.True(t, stored.Equal(got.StoredAt))

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"options_country_CODE_LIST_COUNTRY", "options_site_STUDY_DATA"}, keys)

	require.NoError(t, s.Delete(ctx, "options_site_STUDY_DATA"))
	require.NoError(t, s.Delete(ctx, "options_site_STUDY_DATA"))
	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"options_country_CODE_LIST_COUNTRY"}, keys)

	require.NoError(t, s.Clear(ctx))
	keys, err = s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStore_CopiesEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	opts := []forms.Option{{Value: "A", Label: "a"}}
	require.NoError(t, s.Set(ctx, "k", Entry{Options: opts}))
	opts[0].Label = "changed"

	got, _, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Options[0].Label)
}

func TestLevelStore(t *testing.T) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	s := NewLevelStore(db)
	defer s.Close()

	testStore(t, s)
}

func TestLevelStore_OpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache")
	ctx := context.Background()

	s, err := OpenLevelStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "k", Entry{Options: []forms.Option{{Value: 1.0, Label: "One"}}}))
	require.NoError(t, s.Close())

	// A second process sees the entry.
	s, err = OpenLevelStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Options[0].Value)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CTMS_FORMS_TEST_REDIS")
	if addr == "" {
		t.Skip("CTMS_FORMS_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	s := NewRedisStoreWithClient(client, "ctms-forms-test:", time.Minute)
	defer s.Close()

	testStore(t, s)
}
