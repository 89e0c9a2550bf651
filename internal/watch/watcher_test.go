package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disot/internal/cas"
	"disot/internal/hash"
	"disot/internal/ledger"
	"disot/internal/signature"
	"disot/internal/storage"
)

// pngHeader is enough for content sniffing to report image/png.
var pngHeader = []byte("\x89PNG\x0D\x0A\x1A\x0A")

func setupLedger(t *testing.T) (*ledger.Ledger, signature.KeyPair) {
	t.Helper()
	provider := storage.NewMemory()
	hasher := hash.NewHasher()
	signer := signature.NewMockSigner()
	l, err := ledger.Open(context.Background(), provider, cas.NewStore(provider, hasher, nil), hasher, signer, nil)
	require.NoError(t, err)
	keys, err := signer.GenerateKeyPair()
	require.NoError(t, err)
	return l, keys
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l, keys := setupLedger(t)

	w, err := New(root, l, hash.NewHasher(), Options{PrivateKey: keys.PrivateKey}, nil)
	require.NoError(t, err)
	defer w.Close()

	notes := filepath.Join(root, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("first draft"), 0644))

	e, err := w.Ingest(ctx, notes)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, ledger.TypeDocument, e.Type)
	assert.Equal(t, "notes.txt", e.Metadata["path"])
	assert.True(t, l.VerifyEntry(e))

	// unchanged bytes produce no new entry
	again, err := w.Ingest(ctx, notes)
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, os.WriteFile(notes, []byte("second draft"), 0644))
	e2, err := w.Ingest(ctx, notes)
	require.NoError(t, err)
	require.NotNil(t, e2)
	assert.NotEqual(t, e.ContentHash, e2.ContentHash)

	img := filepath.Join(root, "pic.png")
	require.NoError(t, os.WriteFile(img, pngHeader, 0644))
	e3, err := w.Ingest(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeImage, e3.Type)

	svg := filepath.Join(root, "logo.svg")
	require.NoError(t, os.WriteFile(svg, []byte(`<svg xmlns="http://www.w3.org/2000/svg"></svg>`), 0644))
	e4, err := w.Ingest(ctx, svg)
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeImage, e4.Type)
}

func TestShouldIgnore(t *testing.T) {
	l, keys := setupLedger(t)
	w, err := New(t.TempDir(), l, hash.NewHasher(), Options{PrivateKey: keys.PrivateKey, IgnoreDirs: []string{"tmp"}}, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.True(t, w.ShouldIgnore(""))
	assert.True(t, w.ShouldIgnore(filepath.Join(".git", "HEAD")))
	assert.True(t, w.ShouldIgnore(filepath.Join("a", "tmp", "x")))
	assert.False(t, w.ShouldIgnore(filepath.Join("docs", "readme.md")))
}

func TestNewRequiresKey(t *testing.T) {
	l, _ := setupLedger(t)
	_, err := New(t.TempDir(), l, hash.NewHasher(), Options{}, nil)
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	root := t.TempDir()
	l, keys := setupLedger(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "existing.md"), []byte("# already here"), 0644))

	created := make(chan string, 16)
	w, err := New(root, l, hash.NewHasher(), Options{
		PrivateKey:  keys.PrivateKey,
		InitialScan: true,
		OnEntry:     func(path string, e *ledger.Entry) { created <- path },
	}, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor := func(want string) {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case got := <-created:
				if got == want {
					return
				}
			case <-timeout:
				t.Fatalf("no entry for %s", want)
			}
		}
	}

	waitFor("existing.md")

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.txt"), []byte("fresh"), 0644))
	waitFor("new.txt")

	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0755))
	// give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "deep.txt"), []byte("nested"), 0644))
	waitFor(filepath.Join("sub", "deep.txt"))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	docs, err := l.ListEntries(context.Background(), ledger.Filter{Type: ledger.TypeDocument})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(docs), 3)
}

func TestRunDebouncesChunkedWrites(t *testing.T) {
	root := t.TempDir()
	l, keys := setupLedger(t)
	hasher := hash.NewHasher()

	created := make(chan *ledger.Entry, 16)
	w, err := New(root, l, hasher, Options{
		PrivateKey: keys.PrivateKey,
		Debounce:   300 * time.Millisecond,
		OnEntry:    func(path string, e *ledger.Entry) { created <- e },
	}, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)
	// give the watcher a moment to register the root
	time.Sleep(100 * time.Millisecond)

	f, err := os.Create(filepath.Join(root, "chunked.txt"))
	require.NoError(t, err)
	for _, chunk := range []string{"first chunk, ", "second chunk, ", "last chunk"} {
		_, err := f.WriteString(chunk)
		require.NoError(t, err)
		require.NoError(t, f.Sync())
	}
	require.NoError(t, f.Close())

	want, err := hasher.Hash([]byte("first chunk, second chunk, last chunk"))
	require.NoError(t, err)

	select {
	case e := <-created:
		assert.Equal(t, want, e.ContentHash)
	case <-time.After(5 * time.Second):
		t.Fatal("no entry for chunked.txt")
	}

	select {
	case e := <-created:
		t.Fatalf("unexpected second entry %s", e.ID)
	case <-time.After(600 * time.Millisecond):
	}
}
