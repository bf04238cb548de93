package remote

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/models"
)

// --- cloud fake ---

type fakeCloud struct {
	mu      sync.Mutex
	caps    backend.Capabilities
	folders map[string][]models.Entry
	fail    map[string]error
	calls   []string
	gate    map[string]chan struct{}
	started chan string
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		caps: backend.Capabilities{Rename: true, Copy: true, Delete: true, MakeDir: true, DownloadFolder: true},
		folders: map[string][]models.Entry{
			backend.RootFolderID: {
				{Name: "Projects", ID: "p1", IsDir: true},
				{Name: "notes.txt", ID: "n1"},
			},
			"p1": {
				{Name: "2024", ID: "y1", IsDir: true},
				{Name: "plan.pdf", ID: "f1"},
			},
			"y1": {},
		},
		fail:    map[string]error{},
		gate:    map[string]chan struct{}{},
		started: make(chan string, 32),
	}
}

func (f *fakeCloud) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeCloud) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCloud) Provider() string                   { return "fake" }
func (f *fakeCloud) Capabilities() backend.Capabilities { return f.caps }

func (f *fakeCloud) List(ctx context.Context, folderID string) ([]models.Entry, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "list "+folderID)
	gate := f.gate[folderID]
	err := f.fail[folderID]
	entries := append([]models.Entry(nil), f.folders[folderID]...)
	f.mu.Unlock()

	f.started <- folderID
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (f *fakeCloud) Download(ctx context.Context, entry models.Entry, localDir string) (string, error) {
	f.record("download " + entry.ID)
	return "Downloaded " + entry.Name, nil
}

func (f *fakeCloud) DownloadFolder(ctx context.Context, entry models.Entry, localDir string) (string, error) {
	f.record("download-folder " + entry.ID)
	return "Downloaded folder '" + entry.Name + "'", nil
}

func (f *fakeCloud) Upload(ctx context.Context, localPath, parentID string) (string, error) {
	f.record("upload " + parentID)
	return "Uploaded", nil
}

func (f *fakeCloud) Delete(ctx context.Context, entry models.Entry) error {
	f.record("delete " + entry.ID)
	return nil
}

func (f *fakeCloud) Rename(ctx context.Context, entry models.Entry, newName string) error {
	f.record("rename " + entry.ID + " " + newName)
	return errors.New("quota exceeded")
}

func (f *fakeCloud) Copy(ctx context.Context, entry models.Entry, newName string) error {
	f.record("copy " + entry.ID + " " + newName)
	return nil
}

func (f *fakeCloud) MakeDir(ctx context.Context, parentID, name string) error {
	f.record("mkdir " + parentID + " " + name)
	return nil
}

func openCloud(t *testing.T, fc *fakeCloud) *Engine {
	t.Helper()
	e := NewCloud(fc, nil)
	require.NoError(t, e.Open(context.Background()))
	<-fc.started
	return e
}

func names(entries []models.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestCloudNavigateAndGoUp(t *testing.T) {
	fc := newFakeCloud()
	e := openCloud(t, fc)
	ctx := context.Background()

	assert.Equal(t, backend.RootFolderID, e.Location())
	assert.Equal(t, []string{"Projects", "notes.txt"}, names(e.Entries()))

	projects, ok := e.Entry("Projects")
	require.True(t, ok)
	require.NoError(t, e.NavigateInto(ctx, projects))
	<-fc.started
	assert.Equal(t, "p1", e.Location())
	assert.Equal(t, "/Projects", e.DisplayPath())
	assert.Equal(t, []string{"2024", "plan.pdf"}, names(e.Entries()))

	require.NoError(t, e.GoUp(ctx))
	<-fc.started
	assert.Equal(t, backend.RootFolderID, e.Location())
	assert.Equal(t, []Crumb{{ID: backend.RootFolderID, Name: "/"}}, e.Breadcrumbs())

	before := len(fc.callLog())
	require.NoError(t, e.GoUp(ctx))
	assert.Equal(t, backend.RootFolderID, e.Location())
	assert.Len(t, e.Breadcrumbs(), 1)
	assert.Len(t, fc.callLog(), before, "going up at the root must not list")
	assert.Equal(t, []string{"Projects", "notes.txt"}, names(e.Entries()))
}

func TestCloudNavigateIntoFile(t *testing.T) {
	e := openCloud(t, newFakeCloud())
	err := e.NavigateInto(context.Background(), models.Entry{Name: "notes.txt", ID: "n1"})
	assert.ErrorIs(t, err, ErrNotFolder)
}

func TestListingFailureKeepsPreviousState(t *testing.T) {
	fc := newFakeCloud()
	fc.fail["p1"] = errors.New("503 backend unavailable")
	e := openCloud(t, fc)

	err := e.NavigateInto(context.Background(), models.Entry{Name: "Projects", ID: "p1", IsDir: true})
	<-fc.started
	require.Error(t, err)

	assert.Contains(t, e.Err(), "503 backend unavailable")
	assert.Equal(t, backend.RootFolderID, e.Location())
	assert.Equal(t, []string{"Projects", "notes.txt"}, names(e.Entries()))
	assert.False(t, e.Loading())

	require.NoError(t, e.Refresh(context.Background()))
	<-fc.started
	assert.Empty(t, e.Err())
}

func TestStaleListingIsDiscarded(t *testing.T) {
	fc := newFakeCloud()
	e := openCloud(t, fc)
	ctx := context.Background()

	gate := make(chan struct{})
	fc.mu.Lock()
	fc.gate["p1"] = gate
	fc.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- e.NavigateInto(ctx, models.Entry{Name: "Projects", ID: "p1", IsDir: true})
	}()
	require.Equal(t, "p1", <-fc.started)

	// a newer refresh of the root completes first
	require.NoError(t, e.Refresh(ctx))
	<-fc.started

	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, backend.RootFolderID, e.Location())
	assert.Equal(t, []string{"Projects", "notes.txt"}, names(e.Entries()))
	assert.False(t, e.Loading())
}

func TestCloudOperationsRelist(t *testing.T) {
	fc := newFakeCloud()
	e := openCloud(t, fc)
	ctx := context.Background()
	notes := models.Entry{Name: "notes.txt", ID: "n1"}

	require.NoError(t, e.Delete(ctx, notes))
	<-fc.started
	require.NoError(t, e.CopyAs(ctx, notes, "notes (copy).txt"))
	<-fc.started

	// a failing backend call still re-lists
	err := e.Rename(ctx, notes, "renamed.txt")
	<-fc.started
	assert.EqualError(t, err, "quota exceeded")

	require.NoError(t, e.MakeDir(ctx, "new"))
	<-fc.started

	assert.Equal(t, []string{
		"list root",
		"delete n1", "list root",
		"copy n1 notes (copy).txt", "list root",
		"rename n1 renamed.txt", "list root",
		"mkdir root new", "list root",
	}, fc.callLog())
}

func TestCloudCapabilityAndValidationErrors(t *testing.T) {
	fc := newFakeCloud()
	fc.caps = backend.Capabilities{Delete: true}
	e := openCloud(t, fc)
	ctx := context.Background()
	before := len(fc.callLog())

	err := e.Rename(ctx, models.Entry{Name: "notes.txt", ID: "n1"}, "x.txt")
	assert.ErrorIs(t, err, backend.ErrNotSupported)
	assert.Contains(t, err.Error(), "not supported for this provider")

	assert.ErrorIs(t, e.CopyAs(ctx, models.Entry{Name: "notes.txt", ID: "n1"}, "x.txt"), backend.ErrNotSupported)
	assert.ErrorIs(t, e.MakeDir(ctx, "new"), backend.ErrNotSupported)
	_, err = e.DownloadFolder(ctx, models.Entry{Name: "Projects", ID: "p1", IsDir: true}, t.TempDir())
	assert.ErrorIs(t, err, backend.ErrNotSupported)

	assert.ErrorIs(t, e.Delete(ctx, models.Entry{Name: "ghost.txt"}), backend.ErrMissingID)
	_, err = e.Download(ctx, models.Entry{Name: "ghost.txt"}, t.TempDir())
	assert.ErrorIs(t, err, backend.ErrMissingID)

	assert.Error(t, e.Rename(ctx, models.Entry{Name: "notes.txt", ID: "n1"}, "a/b"))

	assert.Len(t, fc.callLog(), before, "rejected operations must not reach the backend")
}

func TestDownloadRoutesFolders(t *testing.T) {
	fc := newFakeCloud()
	e := openCloud(t, fc)
	ctx := context.Background()

	msg, err := e.Download(ctx, models.Entry{Name: "Projects", ID: "p1", IsDir: true}, t.TempDir())
	<-fc.started
	require.NoError(t, err)
	assert.Equal(t, "Downloaded folder 'Projects'", msg)
	assert.Contains(t, fc.callLog(), "download-folder p1")
}

func TestFilterCurrentListing(t *testing.T) {
	fc := newFakeCloud()
	fc.folders[backend.RootFolderID] = []models.Entry{
		{Name: "Readme.txt", ID: "1"},
		{Name: "report.PDF", ID: "2"},
		{Name: "image.png", ID: "3"},
	}
	e := openCloud(t, fc)

	assert.Equal(t, []string{"Readme.txt", "report.PDF"}, names(e.Filter("re")))
	assert.Equal(t, []string{"image.png"}, names(e.Filter("*.PNG")))
	assert.Len(t, e.Filter(""), 3)
}

func TestRemoteChangedEvents(t *testing.T) {
	bus := events.NewEventBus(16)
	defer bus.Close()
	ch := bus.Subscribe(events.EventRemoteChanged)

	fc := newFakeCloud()
	e := NewCloud(fc, bus)
	require.NoError(t, e.Open(context.Background()))

	first := (<-ch).(*events.RemoteChangedEvent)
	assert.True(t, first.Loading)
	last := (<-ch).(*events.RemoteChangedEvent)
	assert.False(t, last.Loading)
	assert.Equal(t, models.ConnectionCloud, last.Kind)
	assert.Equal(t, "/", last.Location)
	assert.Equal(t, 2, last.Entries)
}

// --- FTP fake ---

type fakeFTP struct {
	mu    sync.Mutex
	cwd   string
	dirs  map[string][]models.Entry
	files map[string]string
	calls []string

	// gates hold LIST of a directory until closed
	gates   map[string]chan struct{}
	listing chan string
}

func newFakeFTP() *fakeFTP {
	f := &fakeFTP{
		cwd:     "/home/alice",
		dirs:    map[string][]models.Entry{},
		files:   map[string]string{},
		gates:   map[string]chan struct{}{},
		listing: make(chan string, 32),
	}
	f.addDir("/")
	f.addDir("/home")
	f.addDir("/home/alice")
	f.addDir("/home/alice/pub")
	f.files["/home/alice/hello.txt"] = "hello"
	return f
}

func (f *fakeFTP) addDir(p string) {
	f.dirs[p] = nil
}

func (f *fakeFTP) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeFTP) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFTP) List(ctx context.Context, dir string) ([]models.Entry, error) {
	f.mu.Lock()
	f.record("LIST " + dir)
	gate := f.gates[dir]
	f.mu.Unlock()
	f.listing <- dir
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.dirs[dir]; !ok {
		return nil, errors.New("550 no such directory")
	}
	var out []models.Entry
	for d := range f.dirs {
		if d != dir && d != "/" && path.Dir(d) == dir {
			out = append(out, models.Entry{Name: path.Base(d), Path: d, IsDir: true})
		}
	}
	for p, data := range f.files {
		if path.Dir(p) == dir {
			out = append(out, models.Entry{Name: path.Base(p), Path: p, Size: models.SizePtr(uint64(len(data)))})
		}
	}
	models.SortEntries(out)
	return out, nil
}

func (f *fakeFTP) CurrentDir(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PWD")
	return f.cwd, nil
}

func (f *fakeFTP) ChangeDir(ctx context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CWD " + dir)
	if _, ok := f.dirs[dir]; !ok {
		return errors.New("550 no such directory")
	}
	f.cwd = dir
	return nil
}

func (f *fakeFTP) ChangeDirUp(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CDUP")
	f.cwd = path.Dir(f.cwd)
	return nil
}

func (f *fakeFTP) Download(ctx context.Context, remotePath, localDir string) (string, error) {
	f.mu.Lock()
	data, ok := f.files[remotePath]
	f.record("RETR " + remotePath)
	f.mu.Unlock()
	if !ok {
		return "", errors.New("550 not found")
	}
	if err := os.WriteFile(filepath.Join(localDir, path.Base(remotePath)), []byte(data), 0644); err != nil {
		return "", err
	}
	return "Downloaded " + path.Base(remotePath), nil
}

func (f *fakeFTP) DownloadFolder(ctx context.Context, remoteDir, localDir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MIRROR " + remoteDir)
	return "Downloaded folder '" + path.Base(remoteDir) + "' (0 bytes)", nil
}

func (f *fakeFTP) Upload(ctx context.Context, localPath, remoteDir string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	dest := path.Join(remoteDir, filepath.Base(localPath))
	f.record("STOR " + dest)
	f.files[dest] = string(data)
	return "Uploaded " + filepath.Base(localPath), nil
}

func (f *fakeFTP) Delete(ctx context.Context, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DELE " + remotePath)
	delete(f.files, remotePath)
	return nil
}

func (f *fakeFTP) RemoveDir(ctx context.Context, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RMD " + remotePath)
	delete(f.dirs, remotePath)
	return nil
}

func (f *fakeFTP) Rename(ctx context.Context, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RNFR " + from + " RNTO " + to)
	f.files[to] = f.files[from]
	delete(f.files, from)
	return nil
}

func (f *fakeFTP) MakeDir(ctx context.Context, remotePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MKD " + remotePath)
	f.dirs[remotePath] = nil
	return nil
}

func (f *fakeFTP) Close() error { return nil }

func TestFTPOpenUsesServerDirectory(t *testing.T) {
	ff := newFakeFTP()
	e := NewFTP(ff, nil)
	require.NoError(t, e.Open(context.Background()))

	assert.Equal(t, "/home/alice", e.Location())
	assert.Equal(t, "/home/alice", e.DisplayPath())
	assert.Equal(t, []string{"pub", "hello.txt"}, names(e.Entries()))
	assert.Equal(t, []string{"PWD", "LIST /home/alice"}, ff.callLog())
}

func TestFTPNavigateAndGoUp(t *testing.T) {
	ff := newFakeFTP()
	e := NewFTP(ff, nil)
	ctx := context.Background()
	require.NoError(t, e.Open(ctx))

	require.NoError(t, e.NavigateInto(ctx, models.Entry{Name: "pub", IsDir: true}))
	assert.Equal(t, "/home/alice/pub", e.Location())
	assert.Empty(t, e.Entries())

	require.NoError(t, e.GoUp(ctx))
	require.NoError(t, e.GoUp(ctx))
	assert.Equal(t, "/home", e.Location())
	assert.Equal(t, []Crumb{{ID: "/", Name: "/"}, {ID: "/home", Name: "home"}}, e.Breadcrumbs())
	assert.Contains(t, ff.callLog(), "CDUP")
}

func TestFTPFailedNavigationRestoresDirectory(t *testing.T) {
	ff := newFakeFTP()
	e := NewFTP(ff, nil)
	ctx := context.Background()
	require.NoError(t, e.Open(ctx))

	err := e.NavigateInto(ctx, models.Entry{Name: "missing", IsDir: true})
	require.Error(t, err)
	assert.Equal(t, "/home/alice", e.Location())
	assert.NotEmpty(t, e.Err())
	assert.Equal(t, "/home/alice", ff.cwd)
}

func TestFTPGoUpAfterDiscardedNavigation(t *testing.T) {
	ff := newFakeFTP()
	e := NewFTP(ff, nil)
	ctx := context.Background()
	require.NoError(t, e.Open(ctx))
	<-ff.listing

	gate := make(chan struct{})
	ff.mu.Lock()
	ff.gates["/home/alice/pub"] = gate
	ff.mu.Unlock()

	navDone := make(chan error, 1)
	go func() { navDone <- e.NavigateInto(ctx, models.Entry{Name: "pub", IsDir: true}) }()
	require.Equal(t, "/home/alice/pub", <-ff.listing)

	refreshDone := make(chan error, 1)
	go func() { refreshDone <- e.Refresh(ctx) }()
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.gen == 3
	}, time.Second, 5*time.Millisecond, "refresh should supersede the navigation")

	close(gate)
	require.NoError(t, <-navDone)
	require.NoError(t, <-refreshDone)
	assert.Equal(t, "/home/alice", e.Location())

	ff.mu.Lock()
	serverCwd := ff.cwd
	ff.mu.Unlock()
	assert.Equal(t, "/home/alice/pub", serverCwd, "the discarded navigation moved the server")

	require.NoError(t, e.GoUp(ctx))
	assert.Equal(t, "/home", e.Location())
	ff.mu.Lock()
	assert.Equal(t, "/home", ff.cwd)
	ff.mu.Unlock()
	assert.Equal(t, []string{"alice"}, names(e.Entries()))
}

func TestFTPEntryOperations(t *testing.T) {
	ff := newFakeFTP()
	e := NewFTP(ff, nil)
	ctx := context.Background()
	require.NoError(t, e.Open(ctx))
	hello, ok := e.Entry("hello.txt")
	require.True(t, ok)

	require.NoError(t, e.CopyAs(ctx, hello, "hello copy.txt"))
	assert.Equal(t, "hello", ff.files["/home/alice/hello copy.txt"])
	assert.Equal(t, []string{"pub", "hello copy.txt", "hello.txt"}, names(e.Entries()))

	require.NoError(t, e.Rename(ctx, hello, "hi.txt"))
	assert.Contains(t, ff.callLog(), "RNFR /home/alice/hello.txt RNTO /home/alice/hi.txt")

	require.NoError(t, e.Delete(ctx, models.Entry{Name: "pub", Path: "/home/alice/pub", IsDir: true}))
	assert.Contains(t, ff.callLog(), "RMD /home/alice/pub")

	require.NoError(t, e.MakeDir(ctx, "incoming"))
	assert.Contains(t, ff.callLog(), "MKD /home/alice/incoming")
	assert.Equal(t, []string{"incoming", "hello copy.txt", "hi.txt"}, names(e.Entries()))

	msg, err := e.Download(ctx, models.Entry{Name: "hi.txt", Path: "/home/alice/hi.txt"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "Downloaded hi.txt", msg)

	assert.ErrorIs(t, e.CopyAs(ctx, models.Entry{Name: "incoming", IsDir: true}, "x"), backend.ErrNotSupported)
}
