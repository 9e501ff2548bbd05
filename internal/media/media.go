// Package media stores uploaded images (avatars, cover images) and hands
// back a public URL for each.
//
// Two backends implement Uploader:
//
//	LocalStore  writes to a directory the server exposes under /static
//	S3Store     puts objects into an S3-compatible bucket (AWS, R2, MinIO)
//
// The service layer only sees the interface, so tests use a fake and the
// backend is picked by configuration at startup.
package media

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/xid"
)

// ErrEmptyFile is returned when Upload is called without a body.
var ErrEmptyFile = errors.New("media: empty file")

// File is one uploaded file as received from a multipart form.
type File struct {
	Name        string // original client file name, only used for its extension
	ContentType string
	Size        int64
	Body        io.Reader
}

// Result describes a stored object.
type Result struct {
	URL  string // public URL persisted on the user record
	Key  string // backend key, used by Delete
	Size int64
}

// Uploader is implemented by every media backend.
type Uploader interface {
	Upload(ctx context.Context, f *File) (*Result, error)
	// Delete removes a previously uploaded object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// objectKey returns a fresh, collision-free key that keeps the original
// extension so browsers and CDNs can guess the type.
func objectKey(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) > 8 || strings.ContainsAny(ext, `/\`) {
		ext = ""
	}
	return xid.New().String() + ext
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
