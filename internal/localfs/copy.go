package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/logging"
	"github.com/rescale/duopane/internal/progress"
)

// ErrSameLocation is returned when a copy would overwrite its own source.
var ErrSameLocation = errors.New("source and destination are the same")

// Copier performs local copies, publishing one progress stream per file.
type Copier struct {
	bus    *events.EventBus
	logger *logging.Logger
}

// NewCopier creates a copier publishing on bus (nil bus disables events).
func NewCopier(bus *events.EventBus) *Copier {
	return &Copier{bus: bus, logger: logging.NewLogger("localfs")}
}

// CopyInto copies src (a file or a directory tree) into destDir, keeping its
// base name. Existing files are overwritten.
func (c *Copier) CopyInto(ctx context.Context, src, destDir string) (string, error) {
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("cannot read %s: %w", src, err)
	}

	dest := filepath.Join(destDir, filepath.Base(src))
	if sameOrInside(src, dest) {
		return "", fmt.Errorf("copy %s into %s: %w", src, destDir, ErrSameLocation)
	}

	if !info.IsDir() {
		if err := c.copyFile(ctx, src, dest, info); err != nil {
			return "", err
		}
		return fmt.Sprintf("Copied %s to %s", filepath.Base(src), destDir), nil
	}

	files := 0
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			c.logger.Debug().Str("path", path).Msg("skipping non-regular file")
			return nil
		}
		files++
		return c.copyFile(ctx, path, target, info)
	})
	if err != nil {
		return "", fmt.Errorf("copy folder %s: %w", src, err)
	}
	return fmt.Sprintf("Copied folder %s (%d files) to %s", filepath.Base(src), files, destDir), nil
}

func (c *Copier) copyFile(ctx context.Context, src, dest string, info fs.FileInfo) error {
	tracker := progress.NewTracker(c.bus, constants.TransferPrefixCopy, filepath.Base(src), uint64(info.Size()), constants.StatusCopying)

	if err := copyContents(ctx, src, dest, info.Mode().Perm(), tracker); err != nil {
		tracker.Fail()
		os.Remove(dest)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	tracker.Complete()
	c.logger.Debug().Str("src", src).Str("dest", dest).Uint64("bytes", tracker.Done()).Msg("copied file")
	return nil
}

func copyContents(ctx context.Context, src, dest string, perm fs.FileMode, tracker *progress.Tracker) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	buf := make([]byte, constants.CopyBufferSize)
	if _, err := io.CopyBuffer(out, tracker.Reader(progress.ContextReader(ctx, in)), buf); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// sameOrInside reports whether dest is src itself or lies inside src.
func sameOrInside(src, dest string) bool {
	absSrc, err1 := filepath.Abs(src)
	absDest, err2 := filepath.Abs(dest)
	if err1 != nil || err2 != nil {
		return false
	}
	if absSrc == absDest {
		return true
	}
	return strings.HasPrefix(absDest, absSrc+string(filepath.Separator))
}
