// Package storage provides the key/value byte stores the content store and
// entry ledger are built on. Every variant satisfies Provider independently;
// the concrete one is picked from configuration.
package storage

import (
	"context"
	"fmt"
	"strings"

	"disot/internal/errors"
)

// Provider is durable key/value byte storage keyed by slash separated paths.
// Writes are upserts with last-writer-wins semantics.
type Provider interface {
	Write(ctx context.Context, path string, data []byte) error
	// Read fails with a NotFound error when path is absent.
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	// Delete is a no-op when path is absent.
	Delete(ctx context.Context, path string) error
	// List returns every stored path, in no particular order.
	List(ctx context.Context) ([]string, error)
	Close() error
}

// HealthChecker is implemented by providers backed by a remote service.
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// IsHealthy reports p's health; local providers are always healthy.
func IsHealthy(ctx context.Context, p Provider) bool {
	if hc, ok := p.(HealthChecker); ok {
		return hc.IsHealthy(ctx)
	}
	return true
}

// ListPrefix filters List to the paths under prefix.
func ListPrefix(ctx context.Context, p Provider, prefix string) ([]string, error) {
	paths, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	var result []string
	for _, path := range paths {
		if strings.HasPrefix(path, prefix) {
			result = append(result, path)
		}
	}
	return result, nil
}

func validatePath(path string) error {
	if path == "" {
		return errors.ValidationError("path cannot be empty", nil)
	}
	if strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return errors.ValidationError(fmt.Sprintf("path %q must be relative and name a file", path), nil)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return errors.ValidationError(fmt.Sprintf("invalid path segment in %q", path), nil)
		}
	}
	return nil
}

func notFound(path string) error {
	return errors.NotFoundf("path not found: %s", path)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
