package options

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const levelKeyPrefix = "opt_"

// Ensure LevelStore implements Store
var _ Store = (*LevelStore)(nil)

// LevelStore keeps cache entries on disk so separate CLI runs share them.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (or creates) the database at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open option cache %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

// NewLevelStore wraps an open database.
func NewLevelStore(db *leveldb.DB) *LevelStore {
	return &LevelStore{db: db}
}

func (l *LevelStore) Name() string { return "leveldb" }

func (l *LevelStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	data, err := l.db.Get([]byte(levelKeyPrefix+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("leveldb get %s: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return &entry, true, nil
}

func (l *LevelStore) Set(_ context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return l.db.Put([]byte(levelKeyPrefix+key), data, nil)
}

func (l *LevelStore) Delete(_ context.Context, key string) error {
	return l.db.Delete([]byte(levelKeyPrefix+key), nil)
}

// Keys returns keys in byte order, which LevelDB iterates natively.
func (l *LevelStore) Keys(_ context.Context) ([]string, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(levelKeyPrefix)), nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()[len(levelKeyPrefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("leveldb iterate: %w", err)
	}
	return keys, nil
}

func (l *LevelStore) Clear(ctx context.Context) error {
	keys, err := l.Keys(ctx)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	for _, k := range keys {
		batch.Delete([]byte(levelKeyPrefix + k))
	}
	return l.db.Write(batch, nil)
}

func (l *LevelStore) Ping(context.Context) error {
	_, err := l.db.GetProperty("leveldb.stats")
	return err
}

func (l *LevelStore) Close() error {
	return l.db.Close()
}
