package resolution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/dwizi/media-relay/internal/media"
)

const badgerKeyPrefix = "resolved:"

// BadgerStorage is an embedded persistent backend for single-node deployments
// that want the cache to survive restarts without running a database server.
type BadgerStorage struct {
	db *badger.DB
}

func OpenBadgerStorage(path string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStorage{db: db}, nil
}

func (s *BadgerStorage) Get(_ context.Context, key string) (media.ResolvedMedia, bool, error) {
	var value media.ResolvedMedia
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerKeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &value)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return media.ResolvedMedia{}, false, nil
		}
		return media.ResolvedMedia{}, false, fmt.Errorf("badger get: %w", err)
	}
	return value, true, nil
}

func (s *BadgerStorage) Put(_ context.Context, key string, value media.ResolvedMedia) error {
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerKeyPrefix+key), buf)
	})
}

func (s *BadgerStorage) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(badgerKeyPrefix + key))
	})
}

func (s *BadgerStorage) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

// CollectGarbage runs one value log GC pass. badger.ErrNoRewrite means there
// was nothing worth rewriting.
func (s *BadgerStorage) CollectGarbage() error {
	err := s.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}
