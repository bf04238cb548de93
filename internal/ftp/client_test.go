package ftp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/models"
)

// memServer is an in-memory FTP server keyed by absolute path.
type memServer struct {
	mu    sync.Mutex
	cwd   string
	dirs  map[string]bool
	files map[string][]byte
	quit  bool
}

func newMemServer() *memServer {
	return &memServer{cwd: "/", dirs: map[string]bool{"/": true}, files: map[string][]byte{}}
}

func (m *memServer) mkdirs(p string) {
	for p != "/" {
		m.dirs[p] = true
		p = path.Dir(p)
	}
}

func (m *memServer) put(p, content string) {
	m.mkdirs(path.Dir(p))
	m.files[p] = []byte(content)
}

func (m *memServer) List(dir string) ([]*ftp.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirs[dir] {
		return nil, errors.New("550 no such directory")
	}
	out := []*ftp.Entry{{Name: ".", Type: ftp.EntryTypeFolder}, {Name: "..", Type: ftp.EntryTypeFolder}}
	for d := range m.dirs {
		if d != "/" && path.Dir(d) == dir {
			out = append(out, &ftp.Entry{Name: path.Base(d), Type: ftp.EntryTypeFolder})
		}
	}
	for f, data := range m.files {
		if path.Dir(f) == dir {
			out = append(out, &ftp.Entry{Name: path.Base(f), Type: ftp.EntryTypeFile, Size: uint64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

func (m *memServer) CurrentDir() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cwd, nil
}

func (m *memServer) ChangeDir(dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !path.IsAbs(dir) {
		dir = path.Join(m.cwd, dir)
	}
	if !m.dirs[dir] {
		return errors.New("550 no such directory")
	}
	m.cwd = dir
	return nil
}

func (m *memServer) ChangeDirToParent() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cwd = path.Dir(m.cwd)
	return nil
}

func (m *memServer) FileSize(p string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return 0, errors.New("550 not a file")
	}
	return int64(len(data)), nil
}

func (m *memServer) Retr(p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil, errors.New("550 file unavailable")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memServer) Stor(p string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirs[path.Dir(p)] {
		return errors.New("553 could not create file")
	}
	m.files[p] = data
	return nil
}

func (m *memServer) Delete(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[p]; !ok {
		return errors.New("550 no such file")
	}
	delete(m.files, p)
	return nil
}

func (m *memServer) RemoveDir(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for f := range m.files {
		if strings.HasPrefix(f, p+"/") {
			return errors.New("550 directory not empty")
		}
	}
	delete(m.dirs, p)
	return nil
}

func (m *memServer) Rename(from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[from]
	if !ok {
		return errors.New("550 no such file")
	}
	delete(m.files, from)
	m.files[to] = data
	return nil
}

func (m *memServer) MakeDir(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirs[p] {
		return errors.New("550 exists")
	}
	m.dirs[p] = true
	return nil
}

func (m *memServer) Quit() error {
	m.quit = true
	return nil
}

func newTestClient(t *testing.T, bus *events.EventBus) (*Client, *memServer) {
	t.Helper()
	srv := newMemServer()
	srv.put("/pub/readme.txt", "hello")
	srv.put("/pub/Data/a.bin", "aaaa")
	srv.put("/pub/Data/deep/b.bin", "bb")
	srv.mkdirs("/pub/empty")
	return newClient(models.FTPDescriptor{Host: "ftp.example.com"}, srv, bus), srv
}

func TestListSkipsDotEntriesAndSorts(t *testing.T) {
	cl, _ := newTestClient(t, nil)

	entries, err := cl.List(context.Background(), "/pub")
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Data", "empty", "readme.txt"}, names)
	assert.Equal(t, "/pub/Data", entries[0].Path)
	assert.Nil(t, entries[0].Size)
	require.NotNil(t, entries[2].Size)
	assert.EqualValues(t, 5, *entries[2].Size)
}

func TestConvertEntriesUsesBaseName(t *testing.T) {
	entries := convertEntries("/x", []*ftp.Entry{
		{Name: "/x/full/path.txt", Type: ftp.EntryTypeFile, Size: 3},
		nil,
		{Name: "", Type: ftp.EntryTypeFile},
	})
	require.Len(t, entries, 1)
	assert.Equal(t, "path.txt", entries[0].Name)
	assert.Equal(t, "/x/path.txt", entries[0].Path)
}

func TestListErrorIsWrapped(t *testing.T) {
	cl, _ := newTestClient(t, nil)
	_, err := cl.List(context.Background(), "/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "550")
}

func TestNavigationCommands(t *testing.T) {
	cl, _ := newTestClient(t, nil)
	ctx := context.Background()

	require.NoError(t, cl.ChangeDir(ctx, "/pub/Data"))
	dir, err := cl.CurrentDir(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/pub/Data", dir)

	require.NoError(t, cl.ChangeDirUp(ctx))
	dir, _ = cl.CurrentDir(ctx)
	assert.Equal(t, "/pub", dir)

	assert.Error(t, cl.ChangeDir(ctx, "/nowhere"))
}

func TestDownloadPublishesProgress(t *testing.T) {
	bus := events.NewEventBus(100)
	defer bus.Close()
	ch := bus.Subscribe(events.EventTransferProgress)

	cl, _ := newTestClient(t, bus)
	dir := t.TempDir()

	msg, err := cl.Download(context.Background(), "/pub/readme.txt", dir)
	require.NoError(t, err)
	assert.Equal(t, "Downloaded readme.txt", msg)

	data, err := os.ReadFile(filepath.Join(dir, "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	var last *events.TransferProgressEvent
	for len(ch) > 0 {
		last = (<-ch).(*events.TransferProgressEvent)
	}
	require.NotNil(t, last)
	assert.Equal(t, "complete", last.Status)
	assert.True(t, strings.HasPrefix(last.TransferID, "dl-"))
	assert.EqualValues(t, 5, last.Progress)
	assert.EqualValues(t, 5, last.Total)
}

func TestDownloadMissingFileRemovesNothingAndFails(t *testing.T) {
	cl, _ := newTestClient(t, nil)
	dir := t.TempDir()

	_, err := cl.Download(context.Background(), "/pub/ghost.txt", dir)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "ghost.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadFolderRecurses(t *testing.T) {
	cl, _ := newTestClient(t, nil)
	dir := t.TempDir()

	msg, err := cl.DownloadFolder(context.Background(), "/pub/Data", dir)
	require.NoError(t, err)
	assert.Equal(t, "Downloaded folder 'Data' (6 bytes)", msg)

	b, err := os.ReadFile(filepath.Join(dir, "Data", "deep", "b.bin"))
	require.NoError(t, err)
	assert.Equal(t, "bb", string(b))
}

func TestUploadStoresUnderBaseName(t *testing.T) {
	bus := events.NewEventBus(100)
	defer bus.Close()
	ch := bus.Subscribe(events.EventTransferProgress)

	cl, srv := newTestClient(t, bus)
	local := filepath.Join(t.TempDir(), "notes.md")
	require.NoError(t, os.WriteFile(local, []byte("# notes"), 0644))

	msg, err := cl.Upload(context.Background(), local, "/pub/empty")
	require.NoError(t, err)
	assert.Equal(t, "Uploaded notes.md", msg)
	assert.Equal(t, "# notes", string(srv.files["/pub/empty/notes.md"]))

	first := (<-ch).(*events.TransferProgressEvent)
	assert.True(t, strings.HasPrefix(first.TransferID, "ul-"))
	assert.Equal(t, "uploading", first.Status)
}

func TestUploadRejectsDirectory(t *testing.T) {
	cl, _ := newTestClient(t, nil)
	_, err := cl.Upload(context.Background(), t.TempDir(), "/pub")
	assert.Error(t, err)
}

func TestEntryOperations(t *testing.T) {
	cl, srv := newTestClient(t, nil)
	ctx := context.Background()

	require.NoError(t, cl.Rename(ctx, "/pub/readme.txt", "/pub/README"))
	assert.Contains(t, srv.files, "/pub/README")

	require.NoError(t, cl.MakeDir(ctx, "/pub/new"))
	assert.True(t, srv.dirs["/pub/new"])

	err := cl.RemoveDir(ctx, "/pub/Data")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory must be empty")

	require.NoError(t, cl.Delete(ctx, "/pub/README"))
	assert.NotContains(t, srv.files, "/pub/README")
}

func TestClosedClientRejectsCommands(t *testing.T) {
	cl, srv := newTestClient(t, nil)
	require.NoError(t, cl.Close())
	assert.True(t, srv.quit)
	require.NoError(t, cl.Close())

	_, err := cl.List(context.Background(), "/")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCancelledContextStopsBeforeCommand(t *testing.T) {
	cl, _ := newTestClient(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cl.List(ctx, "/pub")
	assert.ErrorIs(t, err, context.Canceled)
}
