// Package backend defines the boundary between the pane engines and the
// concrete local, FTP and cloud implementations.
package backend

import (
	"context"
	"errors"

	"github.com/rescale/duopane/internal/models"
)

// RootFolderID addresses the top of a cloud drive.
const RootFolderID = "root"

// Sentinel errors. Backends wrap them with %w so callers can use errors.Is.
var (
	// ErrNotSupported marks an operation the active provider cannot perform.
	// It is never retried.
	ErrNotSupported = errors.New("not supported for this provider")

	// ErrMissingID is returned for cloud entries without an identifier.
	// No backend call is made.
	ErrMissingID = errors.New("entry has no cloud identifier")

	// ErrNoConnection is returned when a remote operation is requested with no active connection.
	ErrNoConnection = errors.New("no active connection")
)

// IsLocalFailure reports whether err was raised before any backend call
// (capability or validation errors).
func IsLocalFailure(err error) bool {
	return errors.Is(err, ErrNotSupported) || errors.Is(err, ErrMissingID) || errors.Is(err, ErrNoConnection)
}

// Lister lists one directory level. The tree engine only needs this.
type Lister interface {
	List(ctx context.Context, path string) ([]models.Entry, error)
}

// LocalFS is the local file-system backend.
type LocalFS interface {
	Lister
	HomeDirectory() (string, error)
	// CopyToLocal copies src (file or directory) into destDir and returns a
	// human-readable result message.
	CopyToLocal(ctx context.Context, src, destDir string) (string, error)
}

// FTP is a single FTP/FTPS control connection. Paths are absolute.
type FTP interface {
	List(ctx context.Context, dir string) ([]models.Entry, error)
	CurrentDir(ctx context.Context) (string, error)
	ChangeDir(ctx context.Context, dir string) error
	ChangeDirUp(ctx context.Context) error

	Download(ctx context.Context, remotePath, localDir string) (string, error)
	DownloadFolder(ctx context.Context, remoteDir, localDir string) (string, error)
	Upload(ctx context.Context, localPath, remoteDir string) (string, error)

	Delete(ctx context.Context, remotePath string) error
	RemoveDir(ctx context.Context, remotePath string) error
	Rename(ctx context.Context, from, to string) error
	MakeDir(ctx context.Context, remotePath string) error

	Close() error
}

// Capabilities advertises which per-entry operations a cloud provider implements.
type Capabilities struct {
	Rename         bool
	Copy           bool
	Delete         bool
	MakeDir        bool
	DownloadFolder bool
}

// Cloud is one cloud-drive account. Folders and files are addressed by ID;
// RootFolderID addresses the top level.
type Cloud interface {
	Provider() string
	Capabilities() Capabilities

	List(ctx context.Context, folderID string) ([]models.Entry, error)
	Download(ctx context.Context, entry models.Entry, localDir string) (string, error)
	DownloadFolder(ctx context.Context, entry models.Entry, localDir string) (string, error)
	Upload(ctx context.Context, localPath, parentID string) (string, error)

	Delete(ctx context.Context, entry models.Entry) error
	Rename(ctx context.Context, entry models.Entry, newName string) error
	Copy(ctx context.Context, entry models.Entry, newName string) error
	MakeDir(ctx context.Context, parentID, name string) error
}
