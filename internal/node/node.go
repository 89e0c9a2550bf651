// Package node wires the storage provider, content store, signer and ledger
// together from a config.Config.
package node

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"disot/internal/cas"
	"disot/internal/config"
	"disot/internal/hash"
	"disot/internal/ledger"
	"disot/internal/signature"
	"disot/internal/storage"
)

type Node struct {
	Provider storage.Provider
	Hasher   hash.Hasher
	Signer   signature.Signer
	CAS      *cas.Store
	Ledger   *ledger.Ledger

	logger *zap.Logger
}

// New opens storage and loads the ledger. Close releases the provider.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	provider, err := OpenProvider(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	signer, err := signature.New(cfg.Signature.Algorithm)
	if err != nil {
		provider.Close()
		return nil, err
	}

	hasher := hash.NewHasher()
	store := cas.NewStore(provider, hasher, logger.Named("cas"))
	l, err := ledger.Open(ctx, provider, store, hasher, signer, logger.Named("ledger"))
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("opening ledger: %w", err)
	}

	logger.Info("node ready",
		zap.String("provider", cfg.Storage.Provider),
		zap.String("signature", signer.Algorithm()),
		zap.Bool("compress", cfg.Storage.Compress),
		zap.Int("cache_size", cfg.Storage.CacheSize),
	)

	return &Node{
		Provider: provider,
		Hasher:   hasher,
		Signer:   signer,
		CAS:      store,
		Ledger:   l,
		logger:   logger,
	}, nil
}

// OpenProvider builds the configured backend and wraps it with compression
// and caching when enabled. Compression sits below the cache so cached
// values are already decoded.
func OpenProvider(cfg config.Storage) (storage.Provider, error) {
	var (
		p   storage.Provider
		err error
	)
	switch cfg.Provider {
	case "memory":
		p = storage.NewMemory()
	case "badger":
		p, err = storage.OpenBadger(filepath.Join(cfg.Path, "badger"), cfg.Namespace)
	case "bolt":
		p, err = storage.OpenBolt(filepath.Join(cfg.Path, "disot.db"), cfg.Namespace)
	case "fs":
		p, err = storage.NewFileStore(filepath.Join(cfg.Path, "objects"))
	case "ipfs":
		p = storage.NewIPFS(cfg.IPFSURL, cfg.Namespace)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Compress {
		c, err := storage.NewCompressed(p, storage.DefaultCompressionOptions())
		if err != nil {
			p.Close()
			return nil, err
		}
		p = c
	}
	if cfg.CacheSize > 0 {
		c, err := storage.NewCached(p, cfg.CacheSize)
		if err != nil {
			p.Close()
			return nil, err
		}
		p = c
	}
	return p, nil
}

func (n *Node) Close() error {
	n.logger.Debug("closing node")
	return n.Provider.Close()
}
