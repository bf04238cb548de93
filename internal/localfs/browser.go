package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rescale/duopane/internal/logging"
	"github.com/rescale/duopane/internal/models"
)

// FS is the local file-system backend.
type FS struct {
	opts   ListOptions
	logger *logging.Logger
	copier *Copier
}

// New creates a local backend. Copies publish progress through copier.
func New(opts ListOptions, copier *Copier) *FS {
	return &FS{
		opts:   opts,
		logger: logging.NewLogger("localfs"),
		copier: copier,
	}
}

// List returns one directory level sorted directories first, then by
// case-insensitive name. An empty path lists the home directory.
func (f *FS) List(ctx context.Context, path string) ([]models.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == "" {
		home, err := f.HomeDirectory()
		if err != nil {
			return nil, err
		}
		path = home
	}
	entries, err := ListDirectory(path, f.opts)
	if err != nil {
		return nil, err
	}
	f.logger.Debug().Str("path", path).Int("entries", len(entries)).Msg("listed directory")
	return entries, nil
}

// HomeDirectory returns the user's home directory.
func (f *FS) HomeDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return home, nil
}

// CopyToLocal copies src into destDir.
func (f *FS) CopyToLocal(ctx context.Context, src, destDir string) (string, error) {
	return f.copier.CopyInto(ctx, src, destDir)
}

// ListDirectory returns the contents of a directory, filtered by options and
// sorted directories first.
func ListDirectory(path string, opts ListOptions) ([]models.Entry, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("path does not exist: %s", path)
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", path)
	}

	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}

	result := make([]models.Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		name := d.Name()
		if !opts.IncludeHidden && IsHiddenName(name) {
			continue
		}

		info, err := d.Info()
		if err != nil {
			// vanished or unreadable between ReadDir and Info
			continue
		}

		entry := models.Entry{
			Name:        name,
			Path:        filepath.Join(path, name),
			IsDir:       d.IsDir(),
			Modified:    info.ModTime(),
			Permissions: info.Mode().Perm().String(),
		}
		if !d.IsDir() {
			entry.Size = models.SizePtr(uint64(info.Size()))
		}
		result = append(result, entry)
	}

	models.SortEntries(result)
	return result, nil
}
