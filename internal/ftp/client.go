// Package ftp implements the FTP/FTPS backend on top of jlaffaye/ftp.
//
// One Client owns one control connection. Every command is serialized on an
// internal mutex, so callers may share a Client between goroutines.
package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/jlaffaye/ftp"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/logging"
	"github.com/rescale/duopane/internal/models"
	"github.com/rescale/duopane/internal/progress"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("ftp connection closed")

// conn is the subset of *ftp.ServerConn the client uses.
type conn interface {
	List(dir string) ([]*ftp.Entry, error)
	CurrentDir() (string, error)
	ChangeDir(dir string) error
	ChangeDirToParent() error
	FileSize(p string) (int64, error)
	Retr(p string) (io.ReadCloser, error)
	Stor(p string, r io.Reader) error
	Delete(p string) error
	RemoveDir(p string) error
	Rename(from, to string) error
	MakeDir(p string) error
	Quit() error
}

type serverConn struct {
	*ftp.ServerConn
}

func (s serverConn) Retr(p string) (io.ReadCloser, error) {
	resp, err := s.ServerConn.Retr(p)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

var _ backend.FTP = (*Client)(nil)

// Client is a logged-in FTP session.
type Client struct {
	desc   models.FTPDescriptor
	bus    *events.EventBus
	logger *logging.Logger

	mu sync.Mutex
	c  conn
}

// Dial connects and logs in. Secure descriptors upgrade the control
// connection with AUTH TLS before sending credentials.
func Dial(ctx context.Context, desc models.FTPDescriptor, bus *events.EventBus) (*Client, error) {
	logger := logging.NewLogger("ftp")

	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(constants.FTPDialTimeout),
	}
	if desc.Secure {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: desc.Host,
			MinVersion: tls.VersionTLS12,
		}))
	}

	sc, err := ftp.Dial(desc.Address(), opts...)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}

	user := desc.Username
	if user == "" {
		user = "anonymous"
	}
	if err := sc.Login(user, desc.Password); err != nil {
		sc.Quit()
		if desc.Secure {
			return nil, fmt.Errorf("secure login failed: %w", err)
		}
		return nil, fmt.Errorf("login failed: %w", err)
	}

	logger.Info().Str("host", desc.Host).Bool("secure", desc.Secure).Msg("connected")
	return newClient(desc, serverConn{sc}, bus), nil
}

func newClient(desc models.FTPDescriptor, c conn, bus *events.EventBus) *Client {
	return &Client{
		desc:   desc,
		bus:    bus,
		logger: logging.NewLogger("ftp"),
		c:      c,
	}
}

// Descriptor returns the descriptor the session was dialed with.
func (cl *Client) Descriptor() models.FTPDescriptor {
	return cl.desc
}

// lock acquires the session and checks ctx and liveness. The caller must unlock.
func (cl *Client) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cl.mu.Lock()
	if cl.c == nil {
		cl.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// List returns the sorted entries of dir, without "." and "..".
func (cl *Client) List(ctx context.Context, dir string) ([]models.Entry, error) {
	if err := cl.lock(ctx); err != nil {
		return nil, err
	}
	defer cl.mu.Unlock()
	return cl.list(dir)
}

func (cl *Client) list(dir string) ([]models.Entry, error) {
	raw, err := cl.c.List(dir)
	if err != nil {
		return nil, fmt.Errorf("LIST %s failed: %w", dir, err)
	}
	return convertEntries(dir, raw), nil
}

func convertEntries(dir string, raw []*ftp.Entry) []models.Entry {
	entries := make([]models.Entry, 0, len(raw))
	for _, r := range raw {
		if r == nil || r.Name == "." || r.Name == ".." || r.Name == "" {
			continue
		}
		// some servers return full paths from LIST
		name := path.Base(r.Name)
		e := models.Entry{
			Name:     name,
			Path:     path.Join(dir, name),
			IsDir:    r.Type == ftp.EntryTypeFolder,
			Modified: r.Time,
		}
		if !e.IsDir {
			e.Size = models.SizePtr(r.Size)
		}
		if r.Type == ftp.EntryTypeLink && r.Target != "" {
			e.Permissions = "l"
		}
		entries = append(entries, e)
	}
	models.SortEntries(entries)
	return entries
}

// CurrentDir returns the server's working directory (PWD).
func (cl *Client) CurrentDir(ctx context.Context) (string, error) {
	if err := cl.lock(ctx); err != nil {
		return "", err
	}
	defer cl.mu.Unlock()
	dir, err := cl.c.CurrentDir()
	if err != nil {
		return "", fmt.Errorf("PWD failed: %w", err)
	}
	return dir, nil
}

// ChangeDir changes the working directory (CWD).
func (cl *Client) ChangeDir(ctx context.Context, dir string) error {
	if err := cl.lock(ctx); err != nil {
		return err
	}
	defer cl.mu.Unlock()
	if err := cl.c.ChangeDir(dir); err != nil {
		return fmt.Errorf("CWD %s failed: %w", dir, err)
	}
	return nil
}

// ChangeDirUp moves to the parent directory (CDUP).
func (cl *Client) ChangeDirUp(ctx context.Context) error {
	if err := cl.lock(ctx); err != nil {
		return err
	}
	defer cl.mu.Unlock()
	if err := cl.c.ChangeDirToParent(); err != nil {
		return fmt.Errorf("CDUP failed: %w", err)
	}
	return nil
}

// Download retrieves remotePath into localDir under its base name.
func (cl *Client) Download(ctx context.Context, remotePath, localDir string) (string, error) {
	if err := cl.lock(ctx); err != nil {
		return "", err
	}
	defer cl.mu.Unlock()

	name := path.Base(remotePath)
	if _, err := cl.retrieve(ctx, remotePath, filepath.Join(localDir, name), 0); err != nil {
		return "", err
	}
	return fmt.Sprintf("Downloaded %s", name), nil
}

// retrieve streams one file to dest. size 0 asks the server (SIZE).
func (cl *Client) retrieve(ctx context.Context, remotePath, dest string, size uint64) (uint64, error) {
	name := path.Base(remotePath)
	if size == 0 {
		if n, err := cl.c.FileSize(remotePath); err == nil && n > 0 {
			size = uint64(n)
		}
	}
	tracker := progress.NewTracker(cl.bus, constants.TransferPrefixDownload, name, size, constants.StatusDownloading)

	fail := func(err error) (uint64, error) {
		tracker.Fail()
		return tracker.Done(), fmt.Errorf("download %s failed: %w", name, err)
	}

	resp, err := cl.c.Retr(remotePath)
	if err != nil {
		return fail(err)
	}

	out, err := os.Create(dest)
	if err != nil {
		resp.Close()
		return fail(err)
	}

	buf := make([]byte, constants.CopyBufferSize)
	_, copyErr := io.CopyBuffer(out, tracker.Reader(progress.ContextReader(ctx, resp)), buf)
	closeErr := resp.Close()
	if err := out.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(dest)
		return fail(copyErr)
	}

	tracker.Complete()
	cl.logger.Debug().Str("remote", remotePath).Str("local", dest).Uint64("bytes", tracker.Done()).Msg("downloaded")
	return tracker.Done(), nil
}

// DownloadFolder recursively retrieves remoteDir into localDir/<base name>.
func (cl *Client) DownloadFolder(ctx context.Context, remoteDir, localDir string) (string, error) {
	if err := cl.lock(ctx); err != nil {
		return "", err
	}
	defer cl.mu.Unlock()

	name := path.Base(remoteDir)
	total, err := cl.retrieveTree(ctx, remoteDir, filepath.Join(localDir, name))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Downloaded folder '%s' (%d bytes)", name, total), nil
}

func (cl *Client) retrieveTree(ctx context.Context, remoteDir, localDir string) (uint64, error) {
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create local dir: %w", err)
	}
	entries, err := cl.list(remoteDir)
	if err != nil {
		return 0, err
	}

	var total uint64
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		dest := filepath.Join(localDir, e.Name)
		if e.IsDir {
			n, err := cl.retrieveTree(ctx, e.Path, dest)
			total += n
			if err != nil {
				return total, err
			}
			continue
		}
		n, err := cl.retrieve(ctx, e.Path, dest, e.SizeOrZero())
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Upload stores localPath into remoteDir under its base name.
func (cl *Client) Upload(ctx context.Context, localPath, remoteDir string) (string, error) {
	in, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("read failed: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("upload %s: is a directory", localPath)
	}

	if err := cl.lock(ctx); err != nil {
		return "", err
	}
	defer cl.mu.Unlock()

	name := filepath.Base(localPath)
	target := path.Join(remoteDir, name)
	tracker := progress.NewTracker(cl.bus, constants.TransferPrefixUpload, name, uint64(info.Size()), constants.StatusUploading)

	if err := cl.c.Stor(target, tracker.Reader(progress.ContextReader(ctx, in))); err != nil {
		tracker.Fail()
		return "", fmt.Errorf("upload %s failed: %w", name, err)
	}
	tracker.Complete()
	cl.logger.Debug().Str("local", localPath).Str("remote", target).Uint64("bytes", tracker.Done()).Msg("uploaded")
	return fmt.Sprintf("Uploaded %s", name), nil
}

// Delete removes a file (DELE).
func (cl *Client) Delete(ctx context.Context, remotePath string) error {
	if err := cl.lock(ctx); err != nil {
		return err
	}
	defer cl.mu.Unlock()
	if err := cl.c.Delete(remotePath); err != nil {
		return fmt.Errorf("delete %s failed: %w", remotePath, err)
	}
	return nil
}

// RemoveDir removes an empty directory (RMD).
func (cl *Client) RemoveDir(ctx context.Context, remotePath string) error {
	if err := cl.lock(ctx); err != nil {
		return err
	}
	defer cl.mu.Unlock()
	if err := cl.c.RemoveDir(remotePath); err != nil {
		return fmt.Errorf("delete %s failed (directory must be empty): %w", remotePath, err)
	}
	return nil
}

// Rename moves from to to (RNFR/RNTO).
func (cl *Client) Rename(ctx context.Context, from, to string) error {
	if err := cl.lock(ctx); err != nil {
		return err
	}
	defer cl.mu.Unlock()
	if err := cl.c.Rename(from, to); err != nil {
		return fmt.Errorf("rename %s failed: %w", from, err)
	}
	return nil
}

// MakeDir creates a directory (MKD).
func (cl *Client) MakeDir(ctx context.Context, remotePath string) error {
	if err := cl.lock(ctx); err != nil {
		return err
	}
	defer cl.mu.Unlock()
	if err := cl.c.MakeDir(remotePath); err != nil {
		return fmt.Errorf("mkdir %s failed: %w", remotePath, err)
	}
	return nil
}

// Close sends QUIT. Later calls return ErrClosed.
func (cl *Client) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.c == nil {
		return nil
	}
	err := cl.c.Quit()
	cl.c = nil
	cl.logger.Info().Str("host", cl.desc.Host).Msg("disconnected")
	return err
}
