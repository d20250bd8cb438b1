package provider

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// ensure interface is implemented
var _ Provider = (*LocalProvider)(nil)
var _ RealPather = (*LocalProvider)(nil)

type localFileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

func (l *localFileInfo) Name() string       { return l.name }
func (l *localFileInfo) Size() int64        { return l.size }
func (l *localFileInfo) IsDir() bool        { return l.isDir }
func (l *localFileInfo) ModTime() time.Time { return l.modTime }

func wrapOSFileInfo(info os.FileInfo) FileInfo {
	return &localFileInfo{
		name:    info.Name(),
		size:    info.Size(),
		isDir:   info.IsDir(),
		modTime: info.ModTime(),
	}
}

// LocalProvider implements the Provider interface for posix-compliant local filesystems.
type LocalProvider struct {
	basePath string
	log      logrus.FieldLogger
}

// NewLocalProvider creates a new LocalProvider rooted at basePath.
// If basePath is empty, it acts upon absolute or relative paths directly.
func NewLocalProvider(basePath string) *LocalProvider {
	return &LocalProvider{basePath: basePath, log: logrus.StandardLogger()}
}

// WithLogger sets the logger for entries skipped while listing.
func (p *LocalProvider) WithLogger(log logrus.FieldLogger) *LocalProvider {
	if log != nil {
		p.log = log
	}
	return p
}

// RealPath resolves every symlink in path. Walkers use it to notice a
// directory they have already visited through another link.
func (p *LocalProvider) RealPath(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(p.resolve(path))
	if err != nil {
		return "", err
	}
	return filepath.Abs(resolved)
}

func (p *LocalProvider) resolve(path string) string {
	if p.basePath == "" {
		return path
	}
	return filepath.Join(p.basePath, filepath.Clean(path))
}

// Stat follows symlinks, so a link to a directory is walked as one.
func (p *LocalProvider) Stat(ctx context.Context, path string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(p.resolve(path))
	if err != nil {
		return nil, err
	}
	return wrapOSFileInfo(info), nil
}

func (p *LocalProvider) List(ctx context.Context, path string) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath := p.resolve(path)
	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, err
	}

	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		// Stat rather than entry.Info so symlinks report their target.
		info, err := os.Stat(filepath.Join(fullPath, entry.Name()))
		if err != nil {
			// vanished since ReadDir, or a dangling symlink
			p.log.WithError(err).WithField("path", filepath.Join(fullPath, entry.Name())).Warn("skipping unreadable entry")
			continue
		}
		infos = append(infos, wrapOSFileInfo(info))
	}
	return infos, nil
}

func (p *LocalProvider) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(p.resolve(path))
}
