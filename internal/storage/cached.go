package storage

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached keeps recently read or written values in an LRU cache in front of
// another provider.
type Cached struct {
	Provider
	cache *lru.Cache[string, []byte]
}

func NewCached(inner Provider, size int) (*Cached, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	return &Cached{Provider: inner, cache: cache}, nil
}

func (c *Cached) Write(ctx context.Context, path string, data []byte) error {
	if err := c.Provider.Write(ctx, path, data); err != nil {
		c.cache.Remove(path)
		return err
	}
	c.cache.Add(path, cloneBytes(data))
	return nil
}

func (c *Cached) Read(ctx context.Context, path string) ([]byte, error) {
	if data, ok := c.cache.Get(path); ok {
		return cloneBytes(data), nil
	}
	data, err := c.Provider.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	c.cache.Add(path, cloneBytes(data))
	return data, nil
}

func (c *Cached) Exists(ctx context.Context, path string) (bool, error) {
	if c.cache.Contains(path) {
		return true, nil
	}
	return c.Provider.Exists(ctx, path)
}

func (c *Cached) Delete(ctx context.Context, path string) error {
	c.cache.Remove(path)
	return c.Provider.Delete(ctx, path)
}

func (c *Cached) IsHealthy(ctx context.Context) bool {
	return IsHealthy(ctx, c.Provider)
}

// Len reports how many values are cached.
func (c *Cached) Len() int {
	return c.cache.Len()
}
