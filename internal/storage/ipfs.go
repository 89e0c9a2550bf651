package storage

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"disot/internal/errors"
)

// mfsDirectory is the files/ls entry type of a directory.
const mfsDirectory = 1

// IPFS stores paths in the mutable file system (MFS) of a remote IPFS node
// through its HTTP RPC API, rooted at /<namespace>.
type IPFS struct {
	sh   *shell.Shell
	root string
}

func NewIPFS(baseURL, namespace string) *IPFS {
	client := &http.Client{
		Timeout: time.Second * 30,
	}
	return &IPFS{
		sh:   shell.NewShellWithClient(strings.TrimSuffix(baseURL, "/"), client),
		root: "/" + namespace,
	}
}

func (s *IPFS) mfsPath(p string) string {
	return s.root + "/" + p
}

// wrap turns an RPC failure into a typed error. The node reports missing
// MFS paths only through the error message.
func wrap(cmd string, err error) error {
	var rpcErr *shell.Error
	if stderrors.As(err, &rpcErr) && isIPFSNotExist(rpcErr.Message) {
		return errors.NotFound(rpcErr.Message)
	}
	return errors.StorageError("ipfs "+cmd, err)
}

func isIPFSNotExist(msg string) bool {
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found")
}

func (s *IPFS) Write(ctx context.Context, p string, data []byte) error {
	if err := validatePath(p); err != nil {
		return err
	}
	err := s.sh.FilesWrite(ctx, s.mfsPath(p), bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Truncate(true),
		shell.FilesWrite.Parents(true),
	)
	if err != nil {
		return wrap("files/write", err)
	}
	return nil
}

func (s *IPFS) Read(ctx context.Context, p string) ([]byte, error) {
	rc, err := s.sh.FilesRead(ctx, s.mfsPath(p))
	if err != nil {
		err = wrap("files/read", err)
		if errors.IsNotFound(err) {
			return nil, notFound(p)
		}
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.StorageError("ipfs files/read: reading response", err)
	}
	return data, nil
}

func (s *IPFS) Exists(ctx context.Context, p string) (bool, error) {
	if _, err := s.sh.FilesStat(ctx, s.mfsPath(p)); err != nil {
		err = wrap("files/stat", err)
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *IPFS) Delete(ctx context.Context, p string) error {
	if err := s.sh.FilesRm(ctx, s.mfsPath(p), true); err != nil {
		if err = wrap("files/rm", err); !errors.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// List walks the MFS tree below the namespace root.
func (s *IPFS) List(ctx context.Context) ([]string, error) {
	var paths []string
	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := s.sh.FilesLs(ctx, s.root+dir, shell.FilesLs.Stat(true))
		if err != nil {
			return wrap("files/ls", err)
		}
		for _, e := range entries {
			child := dir + "/" + e.Name
			if e.Type == mfsDirectory {
				if err := walk(child); err != nil {
					return err
				}
				continue
			}
			paths = append(paths, strings.TrimPrefix(child, "/"))
		}
		return nil
	}

	if err := walk(""); err != nil {
		if errors.IsNotFound(err) {
			return nil, nil // nothing written yet
		}
		return nil, err
	}
	return paths, nil
}

// IsHealthy asks the node for its identity.
func (s *IPFS) IsHealthy(ctx context.Context) bool {
	return s.sh.Request("id").Exec(ctx, nil) == nil
}

func (s *IPFS) Close() error { return nil }
