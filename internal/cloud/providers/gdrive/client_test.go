package gdrive

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/models"
)

type fakeDrive struct {
	mu       sync.Mutex
	requests []string
	uploaded map[string]string
	bodies   map[string]map[string]any
}

func newFakeDrive(t *testing.T) (*fakeDrive, *httptest.Server) {
	t.Helper()
	fd := &fakeDrive{uploaded: map[string]string{}, bodies: map[string]map[string]any{}}
	mux := http.NewServeMux()

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("refresh_token") != "refresh-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"fresh","expires_in":3600}`)
	})

	mux.HandleFunc("/api/about", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" && r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"invalid_credentials"}`)
			return
		}
		io.WriteString(w, `{"user":{"emailAddress":"me@example.com"}}`)
	})

	mux.HandleFunc("/api/files", func(w http.ResponseWriter, r *http.Request) {
		fd.record(r)
		if r.Method == http.MethodPost {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			fd.mu.Lock()
			fd.bodies["mkdir"] = body
			fd.mu.Unlock()
			io.WriteString(w, `{"id":"new-folder"}`)
			return
		}
		q := r.URL.Query().Get("q")
		switch {
		case strings.Contains(q, "'root' in parents") && r.URL.Query().Get("pageToken") == "":
			io.WriteString(w, `{"nextPageToken":"p2","files":[
				{"id":"f1","name":"zeta.txt","mimeType":"text/plain","size":"5","modifiedTime":"2024-01-02T03:04:05Z"},
				{"id":"d1","name":"Projects","mimeType":"application/vnd.google-apps.folder"}]}`)
		case strings.Contains(q, "'root' in parents"):
			io.WriteString(w, `{"files":[{"id":"f2","name":"alpha.pdf","mimeType":"application/pdf","size":"7"}]}`)
		case strings.Contains(q, "'d1' in parents"):
			io.WriteString(w, `{"files":[
				{"id":"f3","name":"plan.txt","mimeType":"text/plain","size":"4"},
				{"id":"g1","name":"Notes","mimeType":"application/vnd.google-apps.document"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"error":{"message":"File not found"}}`)
		}
	})

	mux.HandleFunc("/api/files/", func(w http.ResponseWriter, r *http.Request) {
		fd.record(r)
		id := strings.TrimPrefix(r.URL.Path, "/api/files/")
		switch {
		case r.Method == http.MethodGet && r.URL.Query().Get("alt") == "media":
			content := map[string]string{"f1": "hello", "f3": "plan"}[id]
			if content == "" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			io.WriteString(w, content)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPatch:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			fd.mu.Lock()
			fd.bodies["rename"] = body
			fd.mu.Unlock()
			io.WriteString(w, `{"id":"`+id+`"}`)
		case r.Method == http.MethodPost && strings.HasSuffix(id, "/copy"):
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			fd.mu.Lock()
			fd.bodies["copy"] = body
			fd.mu.Unlock()
			io.WriteString(w, `{"id":"copy-1"}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	mux.HandleFunc("/upload/files", func(w http.ResponseWriter, r *http.Request) {
		fd.record(r)
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/related" || r.URL.Query().Get("uploadType") != "multipart" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		var meta struct {
			Name    string   `json:"name"`
			Parents []string `json:"parents"`
		}
		metaPart, err := mr.NextPart()
		if err == nil {
			err = json.NewDecoder(metaPart).Decode(&meta)
		}
		if err != nil || len(meta.Parents) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mediaPart, err := mr.NextPart()
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(mediaPart)

		fd.mu.Lock()
		fd.uploaded[meta.Parents[0]+"/"+meta.Name] = string(data)
		fd.mu.Unlock()
		io.WriteString(w, `{"id":"up-1","name":"`+meta.Name+`"}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fd, srv
}

func (fd *fakeDrive) record(r *http.Request) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.requests = append(fd.requests, r.Method+" "+r.URL.Path)
}

func newTestClient(t *testing.T, desc models.CloudDescriptor) (*Client, *fakeDrive) {
	t.Helper()
	fd, srv := newFakeDrive(t)
	c := New(desc, Options{
		HTTPClient: srv.Client(),
		APIBase:    srv.URL + "/api",
		UploadBase: srv.URL + "/upload",
		TokenURL:   srv.URL + "/token",
	})
	return c, fd
}

func TestAuthenticateWithAccessToken(t *testing.T) {
	c, _ := newTestClient(t, models.CloudDescriptor{Provider: "google", AccessToken: " tok "})
	assert.NoError(t, c.Authenticate(context.Background()))
}

func TestAuthenticateRefreshesMissingToken(t *testing.T) {
	c, _ := newTestClient(t, models.CloudDescriptor{Provider: "google", RefreshToken: "refresh-1"})
	require.NoError(t, c.Authenticate(context.Background()))
	assert.Equal(t, "fresh", c.desc.AccessToken)
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	c, _ := newTestClient(t, models.CloudDescriptor{Provider: "google", AccessToken: "expired"})
	err := c.Authenticate(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	c, _ = newTestClient(t, models.CloudDescriptor{Provider: "google"})
	assert.Error(t, c.Authenticate(context.Background()))
}

func TestListFollowsPagesAndSorts(t *testing.T) {
	c, _ := newTestClient(t, models.CloudDescriptor{AccessToken: "tok"})

	entries, err := c.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "Projects", entries[0].Name)
	assert.True(t, entries[0].IsDir)
	assert.Equal(t, "d1", entries[0].Key())
	assert.Equal(t, "alpha.pdf", entries[1].Name)
	assert.Equal(t, "zeta.txt", entries[2].Name)
	require.NotNil(t, entries[2].Size)
	assert.EqualValues(t, 5, *entries[2].Size)
	assert.Equal(t, 2024, entries[2].Modified.Year())
}

func TestListErrorCarriesStatus(t *testing.T) {
	c, _ := newTestClient(t, models.CloudDescriptor{AccessToken: "tok"})
	_, err := c.List(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, err.Error(), "File not found")
}

func TestDownload(t *testing.T) {
	c, _ := newTestClient(t, models.CloudDescriptor{AccessToken: "tok"})
	dir := t.TempDir()

	msg, err := c.Download(context.Background(), models.Entry{Name: "zeta.txt", ID: "f1", Size: models.SizePtr(5)}, dir)
	require.NoError(t, err)
	assert.Equal(t, "Downloaded zeta.txt", msg)
	data, err := os.ReadFile(filepath.Join(dir, "zeta.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestOperationsWithoutIDMakeNoRequest(t *testing.T) {
	c, fd := newTestClient(t, models.CloudDescriptor{AccessToken: "tok"})
	ctx := context.Background()
	noID := models.Entry{Name: "orphan.txt"}

	_, err := c.Download(ctx, noID, t.TempDir())
	assert.ErrorIs(t, err, backend.ErrMissingID)
	assert.ErrorIs(t, c.Delete(ctx, noID), backend.ErrMissingID)
	assert.ErrorIs(t, c.Rename(ctx, noID, "x"), backend.ErrMissingID)
	assert.ErrorIs(t, c.Copy(ctx, noID, "x"), backend.ErrMissingID)
	assert.Empty(t, fd.requests)
}

func TestDownloadFolderSkipsGoogleDocs(t *testing.T) {
	c, _ := newTestClient(t, models.CloudDescriptor{AccessToken: "tok"})
	dir := t.TempDir()

	msg, err := c.DownloadFolder(context.Background(), models.Entry{Name: "Projects", ID: "d1", IsDir: true}, dir)
	require.NoError(t, err)
	assert.Equal(t, "Downloaded folder 'Projects' (1 files)", msg)

	data, err := os.ReadFile(filepath.Join(dir, "Projects", "plan.txt"))
	require.NoError(t, err)
	assert.Equal(t, "plan", string(data))
	_, err = os.Stat(filepath.Join(dir, "Projects", "Notes"))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadMultipart(t *testing.T) {
	c, fd := newTestClient(t, models.CloudDescriptor{AccessToken: "tok"})
	local := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, os.WriteFile(local, []byte("a,b\n1,2\n"), 0644))

	msg, err := c.Upload(context.Background(), local, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Uploaded report.csv", msg)
	assert.Equal(t, "a,b\n1,2\n", fd.uploaded["d1/report.csv"])
}

func TestEntryOperations(t *testing.T) {
	c, fd := newTestClient(t, models.CloudDescriptor{AccessToken: "tok"})
	ctx := context.Background()
	file := models.Entry{Name: "zeta.txt", ID: "f1"}

	require.NoError(t, c.Rename(ctx, file, "omega.txt"))
	assert.Equal(t, "omega.txt", fd.bodies["rename"]["name"])

	require.NoError(t, c.Copy(ctx, file, "zeta copy.txt"))
	assert.Equal(t, "zeta copy.txt", fd.bodies["copy"]["name"])

	require.NoError(t, c.MakeDir(ctx, "d1", "New Folder"))
	assert.Equal(t, constants.GoogleFolderMimeType, fd.bodies["mkdir"]["mimeType"])
	assert.Equal(t, []any{"d1"}, fd.bodies["mkdir"]["parents"])

	require.NoError(t, c.Delete(ctx, file))
	assert.Contains(t, fd.requests, "DELETE /api/files/f1")

	err := c.Copy(ctx, models.Entry{Name: "Projects", ID: "d1", IsDir: true}, "Projects 2")
	assert.ErrorIs(t, err, backend.ErrNotSupported)
}
