package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"disot/internal/errors"
)

// Bolt keeps all paths of a namespace in one bbolt bucket of a single file.
type Bolt struct {
	db     *bbolt.DB
	bucket []byte
}

// OpenBolt opens or creates the bbolt file at dbPath.
// The parent directory is created if it does not exist.
func OpenBolt(dbPath, namespace string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("bolt: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt: open db: %w", err)
	}

	bucket := []byte(namespace)
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: create bucket %q: %w", namespace, err)
	}

	return &Bolt{db: db, bucket: bucket}, nil
}

func (s *Bolt) Write(_ context.Context, path string, data []byte) error {
	if err := validatePath(path); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(path), cloneBytes(data))
	})
	if err != nil {
		return errors.StorageError("writing "+path, err)
	}
	return nil
}

func (s *Bolt) Read(_ context.Context, path string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, ok := s.get(tx, path)
		if !ok {
			return notFound(path)
		}
		// bbolt values are only valid inside the transaction
		data = cloneBytes(v)
		return nil
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, err
		}
		return nil, errors.StorageError("reading "+path, err)
	}
	return data, nil
}

func (s *Bolt) Exists(_ context.Context, path string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, ok = s.get(tx, path)
		return nil
	})
	if err != nil {
		return false, errors.StorageError("checking "+path, err)
	}
	return ok, nil
}

// get uses a cursor so zero-length values are told apart from missing keys.
func (s *Bolt) get(tx *bbolt.Tx, path string) ([]byte, bool) {
	key := []byte(path)
	k, v := tx.Bucket(s.bucket).Cursor().Seek(key)
	if !bytes.Equal(k, key) {
		return nil, false
	}
	return v, true
}

func (s *Bolt) Delete(_ context.Context, path string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(path))
	})
	if err != nil {
		return errors.StorageError("deleting "+path, err)
	}
	return nil
}

func (s *Bolt) List(_ context.Context) ([]string, error) {
	var paths []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, _ []byte) error {
			paths = append(paths, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.StorageError("listing paths", err)
	}
	return paths, nil
}

func (s *Bolt) Close() error { return s.db.Close() }
