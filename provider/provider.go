package provider

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// FileInfo represents the standard metadata for a file or a directory
// across different storage abstractions.
type FileInfo interface {
	Name() string
	Size() int64
	IsDir() bool
	ModTime() time.Time
}

// Provider is the source side of a sync run: the tree being mirrored.
// A typical Provider might be local storage or S3.
type Provider interface {
	// Stat returns the FileInfo for the given path. A missing path yields an
	// error matching fs.ErrNotExist.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns the contents of the given directory.
	List(ctx context.Context, path string) ([]FileInfo, error)

	// OpenRead opens a file for streaming reads.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)
}

// RealPather is implemented by providers whose paths can alias each other
// through links. RealPath returns the canonical form of path.
type RealPather interface {
	RealPath(ctx context.Context, path string) (string, error)
}

// FromURI picks the provider for a -source argument and returns the root to
// walk inside it. "s3://bucket/prefix" selects S3 (root ""); anything else is
// a local path used as-is.
func FromURI(ctx context.Context, uri string, log logrus.FieldLogger) (Provider, string, error) {
	if rest, ok := strings.CutPrefix(uri, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		p, err := NewS3Provider(ctx, bucket, prefix)
		if err != nil {
			return nil, "", err
		}
		return p, "", nil
	}
	return NewLocalProvider("").WithLogger(log), uri, nil
}
