package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore keeps uploads on the local disk. The server mounts dir at the
// path part of baseURL (normally /static) so the returned URLs resolve.
type LocalStore struct {
	dir     string
	baseURL string
}

var _ Uploader = (*LocalStore)(nil)

// NewLocalStore creates dir if needed.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: creating %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, baseURL: baseURL}, nil
}

// Dir is the directory files are written to.
func (s *LocalStore) Dir() string { return s.dir }

// Upload copies f into a new file and returns its public URL.
func (s *LocalStore) Upload(ctx context.Context, f *File) (*Result, error) {
	if f == nil || f.Body == nil {
		return nil, ErrEmptyFile
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := objectKey(f.Name)
	path := filepath.Join(s.dir, key)

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("media: creating %s: %w", key, err)
	}

	n, err := io.Copy(out, f.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("media: writing %s: %w", key, err)
	}
	if n == 0 {
		os.Remove(path)
		return nil, ErrEmptyFile
	}

	return &Result{URL: joinURL(s.baseURL, key), Key: key, Size: n}, nil
}

// Delete removes the file stored under key.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	if key == "" || key != filepath.Base(key) {
		return fmt.Errorf("media: invalid key %q", key)
	}
	err := os.Remove(filepath.Join(s.dir, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("media: deleting %s: %w", key, err)
	}
	return nil
}
