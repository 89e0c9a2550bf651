package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"disot/internal/errors"
)

// Badger stores each path under "<namespace>/<path>" in a BadgerDB.
type Badger struct {
	db        *badger.DB
	namespace string
	owned     bool
}

// NewBadger wraps an already open database. Close leaves db open.
func NewBadger(db *badger.DB, namespace string) *Badger {
	return &Badger{db: db, namespace: namespace}
}

// OpenBadger opens (or creates) a database at dir owned by the provider.
func OpenBadger(dir, namespace string) (*Badger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return &Badger{db: db, namespace: namespace, owned: true}, nil
}

func (s *Badger) prefix() string {
	return s.namespace + "/"
}

func (s *Badger) makeKey(path string) []byte {
	return []byte(s.prefix() + path)
}

func (s *Badger) stripPrefix(key []byte) string {
	return strings.TrimPrefix(string(key), s.prefix())
}

func (s *Badger) Write(_ context.Context, path string, data []byte) error {
	if err := validatePath(path); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.makeKey(path), cloneBytes(data))
	})
	if err != nil {
		return errors.StorageError("writing "+path, err)
	}
	return nil
}

func (s *Badger) Read(_ context.Context, path string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(path))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, notFound(path)
	}
	if err != nil {
		return nil, errors.StorageError("reading "+path, err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *Badger) Exists(_ context.Context, path string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.makeKey(path))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.StorageError("checking "+path, err)
	}
	return true, nil
}

func (s *Badger) Delete(_ context.Context, path string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.makeKey(path))
	})
	if err != nil {
		return errors.StorageError("deleting "+path, err)
	}
	return nil
}

func (s *Badger) List(_ context.Context) ([]string, error) {
	var paths []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(s.prefix())
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			paths = append(paths, s.stripPrefix(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, errors.StorageError("listing paths", err)
	}
	return paths, nil
}

func (s *Badger) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
