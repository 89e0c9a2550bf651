// Package watch turns files written under a directory into ledger entries.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"disot/internal/cas"
	"disot/internal/hash"
	"disot/internal/ledger"
)

var defaultIgnoreDirs = []string{".git", ".disot", "node_modules", "vendor"}

const defaultDebounce = 100 * time.Millisecond

type Options struct {
	// PrivateKey signs every entry the watcher creates.
	PrivateKey string
	// IgnoreDirs are directory names skipped at any depth, in addition to
	// the defaults.
	IgnoreDirs []string
	// InitialScan ingests files already present when Run starts.
	InitialScan bool
	// OnEntry is called after each entry is created.
	OnEntry func(path string, e *ledger.Entry)
	// Debounce is how long a file must stay quiet after a create or write
	// event before it is ingested. Zero means 100ms.
	Debounce time.Duration
}

type Watcher struct {
	root       string
	box        ledger.Box
	hasher     hash.Hasher
	opts       Options
	watcher    *fsnotify.Watcher
	ignoreDirs map[string]bool
	logger     *zap.Logger

	mu      sync.Mutex
	seen    map[string]string      // relative path -> last ingested digest
	pending map[string]*time.Timer // relative path -> debounce timer
}

func New(root string, box ledger.Box, hasher hash.Hasher, opts Options, logger *zap.Logger) (*Watcher, error) {
	if opts.PrivateKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	ignore := make(map[string]bool)
	for _, d := range append(defaultIgnoreDirs, opts.IgnoreDirs...) {
		ignore[d] = true
	}

	return &Watcher{
		root:       abs,
		box:        box,
		hasher:     hasher,
		opts:       opts,
		watcher:    fw,
		ignoreDirs: ignore,
		logger:     logger,
		seen:       make(map[string]string),
		pending:    make(map[string]*time.Timer),
	}, nil
}

// Run watches until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.addTree(ctx, w.root, w.opts.InitialScan); err != nil {
		return err
	}
	w.logger.Info("watching", zap.String("root", w.root))
	defer w.cancelPending()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

// addTree registers every directory under dir and optionally ingests the
// files it finds.
func (w *Watcher) addTree(ctx context.Context, dir string, ingest bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return fmt.Errorf("getting relative path: %w", err)
		}

		if d.IsDir() {
			if rel != "." && w.ShouldIgnore(rel) {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				return fmt.Errorf("adding directory to watcher: %w", err)
			}
			return nil
		}

		if ingest && d.Type().IsRegular() && !w.ShouldIgnore(rel) {
			if _, err := w.Ingest(ctx, path); err != nil {
				w.logger.Error("ingesting file", zap.String("path", rel), zap.Error(err))
			}
		}
		return nil
	})
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		w.logger.Error("getting relative path", zap.Error(err))
		return
	}
	if w.ShouldIgnore(rel) {
		return
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil {
			return // already gone
		}
		if info.IsDir() {
			if event.Has(fsnotify.Create) {
				if err := w.addTree(ctx, event.Name, true); err != nil {
					w.logger.Error("watching new directory", zap.String("path", rel), zap.Error(err))
				}
			}
			return
		}
		if !info.Mode().IsRegular() {
			return
		}
		w.schedule(ctx, event.Name, rel)

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// stored content and entries are immutable; only forget the path
		w.mu.Lock()
		delete(w.seen, rel)
		if t, ok := w.pending[rel]; ok {
			t.Stop()
			delete(w.pending, rel)
		}
		w.mu.Unlock()
	}
}

// schedule ingests path once it has had no events for the debounce window,
// so a file written in several chunks yields one entry for its final bytes.
func (w *Watcher) schedule(ctx context.Context, path, rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[rel]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		if w.pending[rel] == t {
			delete(w.pending, rel)
		}
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if _, err := w.Ingest(ctx, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Error("ingesting file", zap.String("path", rel), zap.Error(err))
		}
	})
	w.pending[rel] = t
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for rel, t := range w.pending {
		t.Stop()
		delete(w.pending, rel)
	}
}

// Ingest stores the file and creates an entry for it. It returns a nil
// entry when the file's bytes match what was last ingested for its path.
func (w *Watcher) Ingest(ctx context.Context, path string) (*ledger.Entry, error) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return nil, fmt.Errorf("getting relative path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	h, err := w.hasher.Hash(data)
	if err != nil {
		return nil, fmt.Errorf("hashing file: %w", err)
	}

	w.mu.Lock()
	unchanged := w.seen[rel] == h.Value
	w.mu.Unlock()
	if unchanged {
		return nil, nil
	}

	mimeType := mimetype.Detect(data).String()
	e, err := w.box.CreateEntry(ctx, ledger.CreateRequest{
		Content: &cas.Content{
			Data:     data,
			Metadata: &cas.ContentMetadata{Name: filepath.Base(path)},
		},
		Type:       entryTypeFor(mimeType),
		PrivateKey: w.opts.PrivateKey,
		Metadata:   map[string]any{"path": filepath.ToSlash(rel)},
	})
	if err != nil {
		return nil, fmt.Errorf("creating entry: %w", err)
	}

	w.mu.Lock()
	w.seen[rel] = h.Value
	w.mu.Unlock()

	w.logger.Info("file ingested",
		zap.String("path", rel),
		zap.String("entry", e.ID),
		zap.String("hash", e.ContentHash.String()),
	)
	if w.opts.OnEntry != nil {
		w.opts.OnEntry(rel, e)
	}
	return e, nil
}

func entryTypeFor(mimeType string) ledger.EntryType {
	if strings.HasPrefix(mimeType, "image/") {
		return ledger.TypeImage
	}
	return ledger.TypeDocument
}

// ShouldIgnore reports whether a root-relative path lies in an ignored
// directory.
func (w *Watcher) ShouldIgnore(rel string) bool {
	if rel == "" || rel == "." {
		return true
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if w.ignoreDirs[part] {
			return true
		}
	}
	return false
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
