// Package blob stores immutable content objects by key.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("blob not found")

// Backend stores content objects.
type Backend interface {
	// Write stores the content of r under key and returns the number of
	// bytes written.
	Write(ctx context.Context, key string, r io.Reader) (int64, error)

	// Open returns a reader for key. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// LocalBackend stores objects as files below a root directory.
type LocalBackend struct {
	fs     afero.Fs
	logger hclog.Logger
}

// NewLocalBackend returns a LocalBackend rooted at root on the OS file
// system, creating root if needed.
func NewLocalBackend(root string, logger hclog.Logger) (*LocalBackend, error) {
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("error creating storage root %q: %w", root, err)
	}
	return NewFsBackend(afero.NewBasePathFs(osFs, root), logger), nil
}

// NewFsBackend returns a LocalBackend on fs.
func NewFsBackend(fs afero.Fs, logger hclog.Logger) *LocalBackend {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LocalBackend{
		fs:     fs,
		logger: logger.Named("blob"),
	}
}

// Write implements Backend. Content is written to a temporary file and
// renamed into place, so a failed write never leaves a partial object.
func (b *LocalBackend) Write(ctx context.Context, key string, r io.Reader) (int64, error) {
	p, err := cleanKey(key)
	if err != nil {
		return 0, err
	}
	if err := b.fs.MkdirAll(path.Dir(p), 0o750); err != nil {
		return 0, fmt.Errorf("error creating directory for %q: %w", key, err)
	}

	tmp, err := afero.TempFile(b.fs, path.Dir(p), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("error creating temporary file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = b.fs.Rename(tmpName, p)
	}
	if err != nil {
		if rerr := b.fs.Remove(tmpName); rerr != nil && !os.IsNotExist(rerr) {
			b.logger.Warn("error removing temporary file", "path", tmpName, "error", rerr)
		}
		return 0, fmt.Errorf("error writing %q: %w", key, err)
	}

	b.logger.Trace("wrote blob", "key", key, "bytes", n)
	return n, nil
}

// Open implements Backend.
func (b *LocalBackend) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	f, err := b.fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return f, nil
}

// Delete implements Backend.
func (b *LocalBackend) Delete(_ context.Context, key string) error {
	p, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := b.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// cleanKey turns key into a relative slash path that cannot leave the root.
func cleanKey(key string) (string, error) {
	p := path.Clean("/" + key)
	if p == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return strings.TrimPrefix(p, "/"), nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
