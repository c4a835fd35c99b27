package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"atlasauth/pkg/logging"
)

// entry is the record persisted by BadgerStore.
type entry struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// BadgerStore keeps JSON-encoded values in an embedded Badger database.
type BadgerStore struct {
	store *badgerhold.Store
	path  string
}

// OpenBadgerStore opens (creating if needed) a Badger database in dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logging.Debug("KVStore", "Badger database initialized at %s", dir)
	return &BadgerStore{store: store, path: dir}, nil
}

func (b *BadgerStore) Get(key string, out any) (bool, error) {
	var e entry
	err := b.store.Get(key, &e)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get key: %w", err)
	}
	if err := json.Unmarshal(e.Value, out); err != nil {
		return true, fmt.Errorf("failed to decode value for %q: %w", key, err)
	}
	return true, nil
}

func (b *BadgerStore) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %q: %w", key, err)
	}
	e := entry{Key: key, Value: raw, UpdatedAt: time.Now()}
	if err := b.store.Upsert(key, &e); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (b *BadgerStore) Delete(key string) error {
	err := b.store.Delete(key, &entry{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (b *BadgerStore) Keys(prefix string) ([]string, error) {
	var entries []entry
	if err := b.store.Find(&entries, badgerhold.Where("Key").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if strings.HasPrefix(e.Key, prefix) {
			keys = append(keys, e.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *BadgerStore) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
