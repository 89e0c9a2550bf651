package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"disot/client"
	"disot/internal/api"
	"disot/internal/cas"
	"disot/internal/config"
	"disot/internal/hash"
	"disot/internal/ledger"
	"disot/internal/node"
	"disot/internal/signature"
)

// backend is what the commands need, served either by an in-process node
// or by a remote server through the HTTP client.
type backend interface {
	GenerateKeys(ctx context.Context) (*signature.KeyPair, error)
	StoreContent(ctx context.Context, data []byte, name string) (*api.ContentSummary, error)
	GetContent(ctx context.Context, h string) ([]byte, error)
	ListContent(ctx context.Context) ([]api.ContentSummary, error)

	CreateEntry(ctx context.Context, req api.CreateEntryRequest) (*ledger.Entry, error)
	CreateMetadataEntry(ctx context.Context, mc ledger.MetadataContent, privateKey string) (*ledger.Entry, error)
	GetEntry(ctx context.Context, id string) (*ledger.Entry, error)
	ListEntries(ctx context.Context, f ledger.Filter) ([]*ledger.Entry, error)
	VerifyEntry(ctx context.Context, id string) (bool, error)
	VersionHistory(ctx context.Context, id string) ([]string, error)

	Close() error
}

func openBackend(ctx context.Context, server, configPath string, logger *zap.Logger) (backend, error) {
	if server != "" {
		return remote{client.New(server)}, nil
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	n, err := node.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return local{n}, nil
}

// loadConfig swaps the memory provider for bolt: each CLI invocation is a
// separate process and would otherwise start from an empty store.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Provider == "memory" {
		cfg.Storage.Provider = "bolt"
	}
	if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return cfg, nil
}

type local struct {
	*node.Node
}

func (l local) GenerateKeys(context.Context) (*signature.KeyPair, error) {
	keys, err := l.Signer.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &keys, nil
}

func (l local) StoreContent(ctx context.Context, data []byte, name string) (*api.ContentSummary, error) {
	h, err := l.CAS.Store(ctx, &cas.Content{Data: data, Metadata: &cas.ContentMetadata{Name: name}})
	if err != nil {
		return nil, err
	}
	meta, err := l.CAS.GetMetadata(ctx, h)
	if err != nil {
		return nil, err
	}
	return &api.ContentSummary{Hash: h, Metadata: meta}, nil
}

func (l local) GetContent(ctx context.Context, s string) ([]byte, error) {
	h, err := hash.Parse(s)
	if err != nil {
		return nil, err
	}
	c, err := l.CAS.Retrieve(ctx, h)
	if err != nil {
		return nil, err
	}
	return c.Data, nil
}

func (l local) ListContent(ctx context.Context) ([]api.ContentSummary, error) {
	all, err := l.CAS.GetAllContent(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]api.ContentSummary, 0, len(all))
	for _, item := range all {
		result = append(result, api.ContentSummary{Hash: item.Hash, Metadata: item.Content.Metadata})
	}
	return result, nil
}

func (l local) CreateEntry(ctx context.Context, req api.CreateEntryRequest) (*ledger.Entry, error) {
	create := ledger.CreateRequest{
		Hash:       req.ContentHash,
		Type:       req.Type,
		PrivateKey: req.PrivateKey,
		Metadata:   req.Metadata,
	}
	if req.Content != nil {
		create.Content = &cas.Content{Data: req.Content, Metadata: &cas.ContentMetadata{Name: req.Name}}
	}
	return l.Ledger.CreateEntry(ctx, create)
}

func (l local) CreateMetadataEntry(ctx context.Context, mc ledger.MetadataContent, privateKey string) (*ledger.Entry, error) {
	return l.Ledger.CreateMetadataEntry(ctx, mc, privateKey)
}

func (l local) GetEntry(ctx context.Context, id string) (*ledger.Entry, error) {
	return l.Ledger.GetEntry(ctx, id)
}

func (l local) ListEntries(ctx context.Context, f ledger.Filter) ([]*ledger.Entry, error) {
	return l.Ledger.ListEntries(ctx, f)
}

func (l local) VerifyEntry(ctx context.Context, id string) (bool, error) {
	e, err := l.Ledger.GetEntry(ctx, id)
	if err != nil {
		return false, err
	}
	return l.Ledger.VerifyEntry(e), nil
}

func (l local) VersionHistory(ctx context.Context, id string) ([]string, error) {
	return l.Ledger.GetVersionHistory(ctx, id)
}

type remote struct {
	*client.Client
}

func (r remote) StoreContent(ctx context.Context, data []byte, name string) (*api.ContentSummary, error) {
	return r.Client.StoreContent(ctx, data, name, "")
}

func (r remote) GetContent(ctx context.Context, h string) ([]byte, error) {
	data, _, err := r.Client.GetContent(ctx, h)
	return data, err
}

func (remote) Close() error { return nil }
