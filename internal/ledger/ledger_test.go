package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"disot/internal/cas"
	"disot/internal/errors"
	"disot/internal/hash"
	"disot/internal/signature"
	"disot/internal/storage"
)

type testLedger struct {
	*Ledger
	provider storage.Provider
	keys     signature.KeyPair
}

func setupLedger(t *testing.T, provider storage.Provider) *testLedger {
	t.Helper()
	if provider == nil {
		provider = storage.NewMemory()
	}
	hasher := hash.NewHasher()
	signer := signature.NewMockSigner()

	l, err := Open(context.Background(), provider, cas.NewStore(provider, hasher, nil), hasher, signer, nil)
	require.NoError(t, err)

	// deterministic ids and an advancing clock
	var n int
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	l.newID = func() string {
		n++
		return fmt.Sprintf("entry-%d", n)
	}
	l.now = func() time.Time { return base.Add(time.Duration(n) * time.Minute) }

	keys, err := signer.GenerateKeyPair()
	require.NoError(t, err)
	return &testLedger{Ledger: l, provider: provider, keys: keys}
}

func TestCreateEntry(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t, nil)

	t.Run("FromContent", func(t *testing.T) {
		e, err := l.CreateEntry(ctx, CreateRequest{
			Content:    &cas.Content{Data: []byte("hello")},
			Type:       TypeDocument,
			PrivateKey: l.keys.PrivateKey,
		})
		require.NoError(t, err)

		assert.NotEmpty(t, e.ID)
		assert.Equal(t, TypeDocument, e.Type)
		assert.Equal(t, l.keys.PublicKey, e.Signature.PublicKey)
		assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", e.ContentHash.Value)
		assert.True(t, l.VerifyEntry(e))

		ok, err := l.store.Exists(ctx, e.ContentHash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("FromHash", func(t *testing.T) {
		h, err := hash.NewHasher().Hash([]byte("already stored elsewhere"))
		require.NoError(t, err)

		e, err := l.CreateEntry(ctx, CreateRequest{
			Hash:       &h,
			Type:       TypeImage,
			PrivateKey: l.keys.PrivateKey,
			Metadata:   map[string]any{"caption": "sunset", "width": 1920},
		})
		require.NoError(t, err)
		assert.Equal(t, h, e.ContentHash)
		assert.Equal(t, float64(1920), e.Metadata["width"])
		assert.True(t, l.VerifyEntry(e))
	})

	t.Run("Invalid", func(t *testing.T) {
		h, _ := hash.NewHasher().Hash([]byte("x"))
		cases := map[string]CreateRequest{
			"neither":   {Type: TypeDocument, PrivateKey: l.keys.PrivateKey},
			"both":      {Content: &cas.Content{Data: []byte("x")}, Hash: &h, Type: TypeDocument, PrivateKey: l.keys.PrivateKey},
			"bad type":  {Hash: &h, Type: "podcast", PrivateKey: l.keys.PrivateKey},
			"no key":    {Hash: &h, Type: TypeDocument},
			"bad hash":  {Hash: &hash.ContentHash{Algorithm: "sha256", Value: "zz"}, Type: TypeDocument, PrivateKey: l.keys.PrivateKey},
			"bad key":   {Hash: &h, Type: TypeDocument, PrivateKey: "not-hex"},
			"bad metas": {Hash: &h, Type: TypeDocument, PrivateKey: l.keys.PrivateKey, Metadata: map[string]any{"ch": make(chan int)}},
		}
		for name, req := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := l.CreateEntry(ctx, req)
				assert.True(t, errors.IsValidation(err), "got %v", err)
			})
		}
	})
}

func TestVerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t, nil)

	e, err := l.CreateEntry(ctx, CreateRequest{
		Content:    &cas.Content{Data: []byte("original")},
		Type:       TypeDocument,
		PrivateKey: l.keys.PrivateKey,
		Metadata:   map[string]any{"title": "Draft"},
	})
	require.NoError(t, err)
	require.True(t, l.VerifyEntry(e))

	other, _ := hash.NewHasher().Hash([]byte("forged"))

	tamper := map[string]func(e *Entry){
		"hash":      func(e *Entry) { e.ContentHash = other },
		"type":      func(e *Entry) { e.Type = TypeImage },
		"timestamp": func(e *Entry) { e.Timestamp = e.Timestamp.Add(time.Nanosecond) },
		"metadata":  func(e *Entry) { e.Metadata = map[string]any{"title": "Final"} },
		"publicKey": func(e *Entry) { e.Signature.PublicKey = strings.Repeat("0", 64) },
		"algorithm": func(e *Entry) { e.Signature.Algorithm = "rot13" },
		"value":     func(e *Entry) { e.Signature.Value = "" },
	}
	for name, fn := range tamper {
		t.Run(name, func(t *testing.T) {
			copied := *e
			fn(&copied)
			assert.False(t, l.VerifyEntry(&copied))
		})
	}

	assert.False(t, l.VerifyEntry(nil))
	assert.True(t, l.VerifyEntry(e), "original must be untouched")
}

func TestVerifyProperty(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t, nil)
	types := []EntryType{TypeDocument, TypeImage, TypeBlogPost, TypeSignature, TypeMetadata}

	rapid.Check(t, func(rt *rapid.T) {
		data := rapid.SliceOf(rapid.Byte()).Draw(rt, "data")
		typ := rapid.SampledFrom(types).Draw(rt, "type")

		e, err := l.CreateEntry(ctx, CreateRequest{
			Content:    &cas.Content{Data: data},
			Type:       typ,
			PrivateKey: l.keys.PrivateKey,
		})
		if err != nil {
			rt.Fatal(err)
		}
		if !l.VerifyEntry(e) {
			rt.Fatalf("fresh entry %s failed verification", e.ID)
		}
	})
}

func TestVerifySecp256k1(t *testing.T) {
	ctx := context.Background()
	provider := storage.NewMemory()
	hasher := hash.NewHasher()
	signer := signature.NewSecp256k1Signer()

	l, err := Open(ctx, provider, cas.NewStore(provider, hasher, nil), hasher, signer, nil)
	require.NoError(t, err)
	keys, err := signer.GenerateKeyPair()
	require.NoError(t, err)

	e, err := l.CreateEntry(ctx, CreateRequest{
		Content:    &cas.Content{Data: []byte("signed for real")},
		Type:       TypeSignature,
		PrivateKey: keys.PrivateKey,
	})
	require.NoError(t, err)
	assert.Equal(t, signature.AlgorithmSecp256k1, e.Signature.Algorithm)
	assert.True(t, l.VerifyEntry(e))

	e.Type = TypeDocument
	assert.False(t, l.VerifyEntry(e))
}

func TestGetEntry(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t, nil)

	created, err := l.CreateEntry(ctx, CreateRequest{
		Content:    &cas.Content{Data: []byte("x")},
		Type:       TypeDocument,
		PrivateKey: l.keys.PrivateKey,
	})
	require.NoError(t, err)

	got, err := l.GetEntry(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = l.GetEntry(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))

	_, err = l.GetEntry(ctx, "../cas")
	assert.True(t, errors.IsNotFound(err))

	_, err = l.GetEntry(ctx, "")
	assert.True(t, errors.IsValidation(err))
}

func TestListEntries(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t, nil)

	otherKeys, err := signature.NewMockSigner().GenerateKeyPair()
	require.NoError(t, err)

	specs := []struct {
		typ EntryType
		key string
	}{
		{TypeDocument, l.keys.PrivateKey},
		{TypeImage, l.keys.PrivateKey},
		{TypeDocument, otherKeys.PrivateKey},
		{TypeBlogPost, otherKeys.PrivateKey},
		{TypeDocument, l.keys.PrivateKey},
	}
	var created []*Entry
	for i, s := range specs {
		e, err := l.CreateEntry(ctx, CreateRequest{
			Content:    &cas.Content{Data: []byte(fmt.Sprintf("item %d", i))},
			Type:       s.typ,
			PrivateKey: s.key,
		})
		require.NoError(t, err)
		created = append(created, e)
	}

	ids := func(entries []*Entry) []string {
		var out []string
		for _, e := range entries {
			out = append(out, e.ID)
		}
		return out
	}

	t.Run("All", func(t *testing.T) {
		all, err := l.ListEntries(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"entry-5", "entry-4", "entry-3", "entry-2", "entry-1"}, ids(all))
	})

	t.Run("ByType", func(t *testing.T) {
		docs, err := l.ListEntries(ctx, Filter{Type: TypeDocument})
		require.NoError(t, err)
		assert.Equal(t, []string{"entry-5", "entry-3", "entry-1"}, ids(docs))
		for _, e := range docs {
			assert.Equal(t, TypeDocument, e.Type)
		}
	})

	t.Run("Combined", func(t *testing.T) {
		got, err := l.ListEntries(ctx, Filter{Type: TypeDocument, PublicKey: otherKeys.PublicKey})
		require.NoError(t, err)
		assert.Equal(t, []string{"entry-3"}, ids(got))
	})

	t.Run("TimeRange", func(t *testing.T) {
		got, err := l.ListEntries(ctx, Filter{From: created[1].Timestamp, To: created[3].Timestamp})
		require.NoError(t, err)
		assert.Equal(t, []string{"entry-4", "entry-3", "entry-2"}, ids(got))
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := l.ListEntries(ctx, Filter{Type: "podcast"})
		assert.True(t, errors.IsValidation(err))

		_, err = l.ListEntries(ctx, Filter{From: created[3].Timestamp, To: created[1].Timestamp})
		assert.True(t, errors.IsValidation(err))
	})
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t, nil)

	e, err := l.CreateEntry(ctx, CreateRequest{
		Content:    &cas.Content{Data: []byte("original")},
		Type:       TypeDocument,
		PrivateKey: l.keys.PrivateKey,
		Metadata:   map[string]any{"tags": []any{"a"}, "nested": map[string]any{"k": "v"}},
	})
	require.NoError(t, err)

	e.Type = TypeImage
	e.Metadata["tags"].([]any)[0] = "changed"
	e.Metadata["extra"] = true

	got, err := l.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeDocument, got.Type)
	assert.Equal(t, []any{"a"}, got.Metadata["tags"])
	assert.NotContains(t, got.Metadata, "extra")
	assert.True(t, l.VerifyEntry(got))

	got.Metadata["nested"].(map[string]any)["k"] = "other"
	got.Signature.Value = "00"

	docs, err := l.ListEntries(ctx, Filter{Type: TypeDocument})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, map[string]any{"k": "v"}, docs[0].Metadata["nested"])
	assert.True(t, l.VerifyEntry(docs[0]))

	docs[0].Type = TypeBlogPost
	again, err := l.ListEntries(ctx, Filter{Type: TypeDocument})
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestConcurrentUse(t *testing.T) {
	ctx := context.Background()

	compressed, err := storage.NewCompressed(storage.NewMemory(), storage.CompressionOptions{MinSize: 4, Level: 3})
	require.NoError(t, err)
	provider, err := storage.NewCached(compressed, 8)
	require.NoError(t, err)
	defer provider.Close()

	hasher := hash.NewHasher()
	signer := signature.NewMockSigner()
	store := cas.NewStore(provider, hasher, nil)
	l, err := Open(ctx, provider, store, hasher, signer, nil)
	require.NoError(t, err)
	keys, err := signer.GenerateKeyPair()
	require.NoError(t, err)

	const workers, distinct = 32, 4
	var wg sync.WaitGroup
	errs := make(chan error, workers*3)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.CreateEntry(ctx, CreateRequest{
				Content:    &cas.Content{Data: []byte(fmt.Sprintf("shared content %d", i%distinct))},
				Type:       TypeDocument,
				PrivateKey: keys.PrivateKey,
				Metadata:   map[string]any{"worker": i},
			})
			errs <- err

			_, err = l.ListEntries(ctx, Filter{Type: TypeDocument})
			errs <- err
			_, err = store.GetAllContent(ctx)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := l.ListEntries(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, workers)
	for _, e := range all {
		assert.True(t, l.VerifyEntry(e), "entry %s", e.ID)
	}

	content, err := store.GetAllContent(ctx)
	require.NoError(t, err)
	assert.Len(t, content, distinct)

	reopened, err := Open(ctx, provider, store, hasher, signer, nil)
	require.NoError(t, err)
	persisted, err := reopened.ListEntries(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, persisted, workers)
}

func TestLedgerPersists(t *testing.T) {
	ctx := context.Background()
	provider := storage.NewMemory()
	l := setupLedger(t, provider)

	e, err := l.CreateEntry(ctx, CreateRequest{
		Content:    &cas.Content{Data: []byte("durable")},
		Type:       TypeBlogPost,
		PrivateKey: l.keys.PrivateKey,
		Metadata:   map[string]any{"tags": []string{"go", "cas"}, "draft": false},
	})
	require.NoError(t, err)

	ok, err := provider.Exists(ctx, "entries/"+e.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	hasher := hash.NewHasher()
	reopened, err := Open(ctx, provider, cas.NewStore(provider, hasher, nil), hasher, signature.NewMockSigner(), nil)
	require.NoError(t, err)

	got, err := reopened.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.True(t, e.Timestamp.Equal(got.Timestamp))
	assert.True(t, reopened.VerifyEntry(got), "signature must survive a reload")

	all, err := reopened.ListEntries(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestOpenRejectsCorruptEntry(t *testing.T) {
	ctx := context.Background()
	provider := storage.NewMemory()
	require.NoError(t, provider.Write(ctx, "entries/bad", []byte("{not json")))

	hasher := hash.NewHasher()
	_, err := Open(ctx, provider, cas.NewStore(provider, hasher, nil), hasher, signature.NewMockSigner(), nil)
	assert.True(t, errors.IsStorage(err))
}

func TestMetadataEntries(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t, nil)

	doc, err := l.CreateEntry(ctx, CreateRequest{
		Content:    &cas.Content{Data: []byte("chapter one")},
		Type:       TypeDocument,
		PrivateKey: l.keys.PrivateKey,
	})
	require.NoError(t, err)

	content := MetadataContent{
		Title:      "Novel",
		Tags:       []string{"fiction"},
		References: []ContentReference{{Hash: doc.ContentHash, Relationship: "chapter"}},
		Authors:    []AuthorReference{{EntryID: doc.ID, Role: "writer"}},
		Version:    &VersionInfo{Version: "1.0"},
	}
	e, err := l.CreateMetadataEntry(ctx, content, l.keys.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, TypeMetadata, e.Type)
	assert.True(t, l.VerifyEntry(e))

	payload, err := json.Marshal(content)
	require.NoError(t, err)
	want, _ := hash.NewHasher().Hash(payload)
	assert.Equal(t, want, e.ContentHash)

	// metadata payloads are carried inline, not stored
	ok, err := l.store.Exists(ctx, e.ContentHash)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := l.GetMetadataContent(e)
	require.NoError(t, err)
	assert.Equal(t, content, *got)

	_, err = l.GetMetadataContent(doc)
	assert.True(t, errors.IsValidation(err))

	_, err = l.CreateMetadataEntry(ctx, MetadataContent{
		References: []ContentReference{{Hash: doc.ContentHash}},
	}, l.keys.PrivateKey)
	assert.True(t, errors.IsValidation(err))

	_, err = l.CreateMetadataEntry(ctx, content, "")
	assert.True(t, errors.IsValidation(err))
}

func TestVersionHistory(t *testing.T) {
	ctx := context.Background()
	l := setupLedger(t, nil)

	v1, err := l.CreateMetadataEntry(ctx, MetadataContent{
		Title:   "Roadmap",
		Version: &VersionInfo{Version: "1"},
	}, l.keys.PrivateKey)
	require.NoError(t, err)
	require.Equal(t, "entry-1", v1.ID)

	v2, err := l.CreateMetadataEntry(ctx, MetadataContent{
		Title:   "Roadmap",
		Version: &VersionInfo{Version: "2", PreviousVersion: "entry-1"},
	}, l.keys.PrivateKey)
	require.NoError(t, err)
	require.Equal(t, "entry-2", v2.ID)

	history, err := l.GetVersionHistory(ctx, "entry-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"entry-2", "entry-1"}, history)

	history, err = l.GetVersionHistory(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"entry-1"}, history)

	t.Run("Dangling", func(t *testing.T) {
		e, err := l.CreateMetadataEntry(ctx, MetadataContent{
			Version: &VersionInfo{Version: "9", PreviousVersion: "deleted-long-ago"},
		}, l.keys.PrivateKey)
		require.NoError(t, err)

		history, err := l.GetVersionHistory(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{e.ID}, history)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := l.GetVersionHistory(ctx, "nope")
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("Cycle", func(t *testing.T) {
		provider := storage.NewMemory()
		for id, prev := range map[string]string{"a": "b", "b": "a"} {
			e := Entry{
				ID:   id,
				Type: TypeMetadata,
				Metadata: map[string]any{
					metadataKey: map[string]any{
						"version": map[string]any{"version": id, "previousVersion": prev},
					},
				},
			}
			data, err := json.Marshal(e)
			require.NoError(t, err)
			require.NoError(t, provider.Write(ctx, "entries/"+id, data))
		}

		cyclic := setupLedger(t, provider)
		_, err := cyclic.GetVersionHistory(ctx, "a")
		assert.True(t, errors.IsValidation(err))
	})
}
