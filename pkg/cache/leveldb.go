package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"net/http"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBStorage keeps named caches in a local LevelDB database.
//
// Key layout:
//
//	n:<name>             cache name marker
//	e:<name>\x00<key>    gob-encoded Entry
type LevelDBStorage struct {
	db *leveldb.DB
}

// OpenLevelDBStorage opens (or creates) the database at path.
func OpenLevelDBStorage(path string) (*LevelDBStorage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDBStorage{db: db}, nil
}

func nameKey(name string) []byte { return []byte("n:" + name) }

func entryPrefix(name string) []byte { return []byte("e:" + name + "\x00") }

func (l *LevelDBStorage) Open(_ context.Context, name string) (Store, error) {
	if err := l.db.Put(nameKey(name), []byte{}, nil); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("leveldb put name: %w", err)
	}
	return &levelStore{db: l.db, name: name, prefix: entryPrefix(name)}, nil
}

func (l *LevelDBStorage) Has(_ context.Context, name string) (bool, error) {
	ok, err := l.db.Has(nameKey(name), nil)
	if err != nil {
		CacheErrors.WithLabelValues("has").Inc()
		return false, fmt.Errorf("leveldb has: %w", err)
	}
	return ok, nil
}

func (l *LevelDBStorage) Delete(_ context.Context, name string) (bool, error) {
	existed, err := l.db.Has(nameKey(name), nil)
	if err != nil {
		CacheErrors.WithLabelValues("delete_cache").Inc()
		return false, fmt.Errorf("leveldb has: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Delete(nameKey(name))
	it := l.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		CacheErrors.WithLabelValues("delete_cache").Inc()
		return false, fmt.Errorf("leveldb iterate: %w", err)
	}

	if err := l.db.Write(batch, nil); err != nil {
		CacheErrors.WithLabelValues("delete_cache").Inc()
		return false, fmt.Errorf("leveldb write: %w", err)
	}
	return existed, nil
}

func (l *LevelDBStorage) Names(_ context.Context) ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte("n:")), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), []byte("n:"))))
	}
	if err := it.Error(); err != nil {
		CacheErrors.WithLabelValues("names").Inc()
		return nil, fmt.Errorf("leveldb iterate: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (l *LevelDBStorage) Close() error {
	return l.db.Close()
}

type levelStore struct {
	db     *leveldb.DB
	name   string
	prefix []byte
}

func (s *levelStore) Name() string { return s.name }

func (s *levelStore) entryKey(key string) []byte {
	out := make([]byte, 0, len(s.prefix)+len(key))
	out = append(out, s.prefix...)
	return append(out, key...)
}

func (s *levelStore) Match(_ context.Context, key string) (*Entry, error) {
	b, err := s.db.Get(s.entryKey(key), nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("leveldb get: %w", err)
	}
	var entry Entry
	if err := decodeGob(b, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

func (s *levelStore) Put(_ context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	b, err := encodeGob(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("encode cache entry: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(nameKey(s.name), []byte{})
	batch.Put(s.entryKey(key), b)
	if err := s.db.Write(batch, nil); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("leveldb put: %w", err)
	}
	return nil
}

func (s *levelStore) Delete(_ context.Context, key string) error {
	if err := s.db.Delete(s.entryKey(key), nil); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("leveldb delete: %w", err)
	}
	return nil
}

func (s *levelStore) Keys(_ context.Context) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix(s.prefix), nil)
	defer it.Release()

	var keys []string
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), s.prefix)))
	}
	if err := it.Error(); err != nil {
		CacheErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("leveldb iterate: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *levelStore) Size(_ context.Context) (int64, error) {
	it := s.db.NewIterator(util.BytesPrefix(s.prefix), nil)
	defer it.Release()

	var total int64
	for it.Next() {
		var entry Entry
		if err := decodeGob(it.Value(), &entry); err != nil {
			continue
		}
		total += entry.Size()
	}
	if err := it.Error(); err != nil {
		CacheErrors.WithLabelValues("size").Inc()
		return 0, fmt.Errorf("leveldb iterate: %w", err)
	}
	return total, nil
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func init() {
	gob.Register(http.Header{})
}
