package storage

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"disot/internal/errors"
)

const indexFile = "index.log"

// FileStore keeps each value in a file named by the sha256 of its path,
// sharded by the first two hex characters: {root}/ab/abcd.... Paths are not
// recoverable from file names, so an append-only index.log records every put
// and delete; List replays it.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

type indexRecord struct {
	Op   string `json:"op"` // put, del
	Path string `json:"path"`
}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.ValidationError("root directory is required", nil)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	s := &FileStore{root: root}
	if err := s.compact(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) filePath(p string) string {
	sum := sha256.Sum256([]byte(p))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.root, name[:2], name)
}

func (s *FileStore) appendIndex(rec indexRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.root, indexFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// replay returns the live paths of the index and how many records it holds.
func (s *FileStore) replay() (map[string]bool, int, error) {
	live := make(map[string]bool)
	f, err := os.Open(filepath.Join(s.root, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return live, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()

	var records int
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec indexRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue // torn trailing write
		}
		records++
		switch rec.Op {
		case "put":
			live[rec.Path] = true
		case "del":
			delete(live, rec.Path)
		}
	}
	return live, records, sc.Err()
}

// compact rewrites the index with one put per live path when it holds
// superseded records.
func (s *FileStore) compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	live, records, err := s.replay()
	if err != nil {
		return errors.StorageError("reading index", err)
	}
	if records == len(live) {
		return nil
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-index-*")
	if err != nil {
		return errors.StorageError("compacting index", err)
	}
	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for p := range live {
		if err := enc.Encode(indexRecord{Op: "put", Path: p}); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return errors.StorageError("compacting index", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.StorageError("compacting index", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.StorageError("compacting index", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.root, indexFile)); err != nil {
		os.Remove(tmp.Name())
		return errors.StorageError("compacting index", err)
	}
	return nil
}

func (s *FileStore) Write(_ context.Context, p string, data []byte) error {
	if err := validatePath(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	full := s.filePath(p)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return errors.StorageError("creating directory for "+p, err)
	}

	// index first: a put whose file never landed is dropped by List
	if _, err := os.Stat(full); os.IsNotExist(err) {
		if err := s.appendIndex(indexRecord{Op: "put", Path: p}); err != nil {
			return errors.StorageError("indexing "+p, err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return errors.StorageError("writing "+p, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.StorageError("writing "+p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.StorageError("writing "+p, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return errors.StorageError("writing "+p, err)
	}
	return nil
}

func (s *FileStore) Read(_ context.Context, p string) ([]byte, error) {
	if err := validatePath(p); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.filePath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(p)
		}
		return nil, errors.StorageError("reading "+p, err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, p string) (bool, error) {
	if validatePath(p) != nil {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.filePath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.StorageError("checking "+p, err)
	}
	return true, nil
}

func (s *FileStore) Delete(_ context.Context, p string) error {
	if validatePath(p) != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(p)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.StorageError("deleting "+p, err)
	}
	if err := s.appendIndex(indexRecord{Op: "del", Path: p}); err != nil {
		return errors.StorageError("indexing "+p, err)
	}
	return nil
}

// List replays the index, so paths written by another process sharing the
// directory are included.
func (s *FileStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live, _, err := s.replay()
	if err != nil {
		return nil, errors.StorageError("listing paths", err)
	}
	paths := make([]string, 0, len(live))
	for p := range live {
		if _, err := os.Stat(s.filePath(p)); err == nil {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func (s *FileStore) Close() error { return nil }
