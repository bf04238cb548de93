// Package gdrive implements the Google Drive v3 backend over REST.
package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	nethttp "net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/logging"
	"github.com/rescale/duopane/internal/models"
	"github.com/rescale/duopane/internal/progress"
	"github.com/rescale/duopane/internal/ratelimit"
)

// ProviderName is the descriptor Provider value for Google Drive.
const ProviderName = "google"

// DefaultTokenURL is Google's OAuth token endpoint.
const DefaultTokenURL = "https://oauth2.googleapis.com/token"

const googleAppsPrefix = "application/vnd.google-apps."

var _ backend.Cloud = (*Client)(nil)

// APIError is a non-2xx Drive API response.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: Google Drive API error (status %d): %s", e.Op, e.Status, strings.TrimSpace(e.Body))
}

// Options configures a Client. Empty URLs use Google's endpoints.
type Options struct {
	HTTPClient *nethttp.Client
	Bus        *events.EventBus
	APIBase    string
	UploadBase string
	TokenURL   string
	// Limiter paces API requests; nil uses the Drive per-user quota.
	Limiter *ratelimit.Limiter
}

// Client is one authorized Google Drive account.
type Client struct {
	desc       models.CloudDescriptor
	rc         *resty.Client
	bus        *events.EventBus
	logger     *logging.Logger
	apiBase    string
	uploadBase string
	tokenURL   string
}

type driveFile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	Size         string `json:"size"`
	ModifiedTime string `json:"modifiedTime"`
}

type fileList struct {
	NextPageToken string      `json:"nextPageToken"`
	Files         []driveFile `json:"files"`
}

// New creates a client for desc. Call Authenticate before use.
func New(desc models.CloudDescriptor, opts Options) *Client {
	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	if tok := strings.TrimSpace(desc.AccessToken); tok != "" {
		rc.SetAuthToken(tok)
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewGoogleDrive()
	}
	rc.OnBeforeRequest(limiter.Middleware())

	c := &Client{
		desc:       desc,
		rc:         rc,
		bus:        opts.Bus,
		logger:     logging.NewLogger("gdrive"),
		apiBase:    strings.TrimRight(opts.APIBase, "/"),
		uploadBase: strings.TrimRight(opts.UploadBase, "/"),
		tokenURL:   opts.TokenURL,
	}
	if c.apiBase == "" {
		c.apiBase = constants.GoogleDriveAPIBase
	}
	if c.uploadBase == "" {
		c.uploadBase = constants.GoogleDriveUploadBase
	}
	if c.tokenURL == "" {
		c.tokenURL = DefaultTokenURL
	}
	return c
}

// Authenticate exchanges the refresh token when no access token is set,
// then checks the token against the about endpoint.
func (c *Client) Authenticate(ctx context.Context) error {
	if strings.TrimSpace(c.desc.AccessToken) == "" {
		if c.desc.RefreshToken == "" {
			return fmt.Errorf("google drive: no access or refresh token for %s", c.desc.DisplayName())
		}
		if err := c.refreshAccessToken(ctx); err != nil {
			return err
		}
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParam("fields", "user(emailAddress)").
		Get(c.apiBase + "/about")
	if err != nil {
		return fmt.Errorf("failed to connect to Google Drive: %w", err)
	}
	if resp.StatusCode() != nethttp.StatusOK {
		return apiError("authenticate", resp)
	}
	return nil
}

func (c *Client) refreshAccessToken(ctx context.Context) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": c.desc.RefreshToken,
			"client_id":     c.desc.ClientID,
			"client_secret": c.desc.ClientSecret,
		}).
		Post(c.tokenURL)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}
	if resp.StatusCode() != nethttp.StatusOK {
		return apiError("token refresh", resp)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(resp.Body(), &tok); err != nil {
		return fmt.Errorf("failed to parse token response: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("token refresh returned no access token")
	}

	c.desc.AccessToken = tok.AccessToken
	c.rc.SetAuthToken(tok.AccessToken)
	c.logger.Info().Int("expires_in", tok.ExpiresIn).Msg("refreshed access token")
	return nil
}

// Provider returns "google".
func (c *Client) Provider() string {
	return ProviderName
}

// Capabilities reports full per-entry support.
func (c *Client) Capabilities() backend.Capabilities {
	return backend.Capabilities{Rename: true, Copy: true, Delete: true, MakeDir: true, DownloadFolder: true}
}

// List returns the non-trashed children of folderID, following page tokens.
func (c *Client) List(ctx context.Context, folderID string) ([]models.Entry, error) {
	if folderID == "" {
		folderID = backend.RootFolderID
	}

	var entries []models.Entry
	pageToken := ""
	for {
		req := c.rc.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"q":        fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID)),
				"fields":   "nextPageToken,files(id,name,mimeType,size,modifiedTime)",
				"orderBy":  "folder,name",
				"pageSize": strconv.Itoa(constants.GoogleDrivePageSize),
			})
		if pageToken != "" {
			req.SetQueryParam("pageToken", pageToken)
		}

		resp, err := req.Get(c.apiBase + "/files")
		if err != nil {
			return nil, fmt.Errorf("failed to list folder: %w", err)
		}
		if resp.StatusCode() != nethttp.StatusOK {
			return nil, apiError("list", resp)
		}

		var page fileList
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return nil, fmt.Errorf("failed to parse Google Drive response: %w", err)
		}
		for _, f := range page.Files {
			entries = append(entries, toEntry(f))
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	models.SortEntries(entries)
	return entries, nil
}

func toEntry(f driveFile) models.Entry {
	e := models.Entry{
		Name:     f.Name,
		ID:       f.ID,
		IsDir:    f.MimeType == constants.GoogleFolderMimeType,
		MimeType: f.MimeType,
	}
	if f.Size != "" {
		if n, err := strconv.ParseUint(f.Size, 10, 64); err == nil {
			e.Size = models.SizePtr(n)
		}
	}
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			e.Modified = t
		}
	}
	return e
}

func escapeQuery(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

// Download streams entry's content to localDir/<name>.
func (c *Client) Download(ctx context.Context, entry models.Entry, localDir string) (string, error) {
	if entry.ID == "" {
		return "", fmt.Errorf("download %s: %w", entry.Name, backend.ErrMissingID)
	}
	if _, err := c.download(ctx, entry, filepath.Join(localDir, entry.Name)); err != nil {
		return "", err
	}
	return fmt.Sprintf("Downloaded %s", entry.Name), nil
}

func (c *Client) download(ctx context.Context, entry models.Entry, dest string) (uint64, error) {
	if strings.HasPrefix(entry.MimeType, googleAppsPrefix) {
		return 0, fmt.Errorf("download %s (Google Docs format needs export): %w", entry.Name, backend.ErrNotSupported)
	}

	tracker := progress.NewTracker(c.bus, constants.TransferPrefixDownload, entry.Name, entry.SizeOrZero(), constants.StatusDownloading)
	fail := func(err error) (uint64, error) {
		tracker.Fail()
		return 0, err
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetQueryParam("alt", "media").
		Get(c.apiBase + "/files/" + entry.ID)
	if err != nil {
		return fail(fmt.Errorf("failed to initiate download: %w", err))
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != nethttp.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(body, 4096))
		return fail(&APIError{Op: "download", Status: resp.StatusCode(), Body: string(msg)})
	}

	out, err := os.Create(dest)
	if err != nil {
		return fail(fmt.Errorf("failed to create local file: %w", err))
	}
	buf := make([]byte, constants.CopyBufferSize)
	if _, err := io.CopyBuffer(out, tracker.Reader(body), buf); err != nil {
		out.Close()
		os.Remove(dest)
		return fail(fmt.Errorf("error reading stream: %w", err))
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return fail(err)
	}

	tracker.Complete()
	return tracker.Done(), nil
}

// DownloadFolder recursively downloads a folder into localDir/<name>.
func (c *Client) DownloadFolder(ctx context.Context, entry models.Entry, localDir string) (string, error) {
	if entry.ID == "" {
		return "", fmt.Errorf("download folder %s: %w", entry.Name, backend.ErrMissingID)
	}
	files, err := c.downloadTree(ctx, entry.ID, filepath.Join(localDir, entry.Name))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Downloaded folder '%s' (%d files)", entry.Name, files), nil
}

func (c *Client) downloadTree(ctx context.Context, folderID, dest string) (int, error) {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return 0, fmt.Errorf("failed to create local dir: %w", err)
	}
	children, err := c.List(ctx, folderID)
	if err != nil {
		return 0, err
	}

	files := 0
	for _, child := range children {
		target := filepath.Join(dest, child.Name)
		if child.IsDir {
			n, err := c.downloadTree(ctx, child.ID, target)
			files += n
			if err != nil {
				return files, err
			}
			continue
		}
		if strings.HasPrefix(child.MimeType, googleAppsPrefix) {
			c.logger.Warn().Str("name", child.Name).Str("mime", child.MimeType).Msg("skipping Google Docs file")
			continue
		}
		if _, err := c.download(ctx, child, target); err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

// Upload sends localPath as a multipart/related upload into parentID.
func (c *Client) Upload(ctx context.Context, localPath, parentID string) (string, error) {
	if parentID == "" {
		parentID = backend.RootFolderID
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open local file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to read file metadata: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("upload %s: is a directory", localPath)
	}

	name := filepath.Base(localPath)
	meta, err := json.Marshal(map[string]any{"name": name, "parents": []string{parentID}})
	if err != nil {
		return "", err
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	tracker := progress.NewTracker(c.bus, constants.TransferPrefixUpload, name, uint64(info.Size()), constants.StatusUploading)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeMultipart(mw, meta, contentType, tracker.Reader(progress.ContextReader(ctx, f))))
	}()

	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "multipart/related; boundary="+mw.Boundary()).
		SetQueryParam("uploadType", "multipart").
		SetBody(pr).
		Post(c.uploadBase + "/files")
	pr.Close()
	if err != nil {
		tracker.Fail()
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	if resp.StatusCode() != nethttp.StatusOK {
		tracker.Fail()
		return "", apiError("upload", resp)
	}

	tracker.Complete()
	return fmt.Sprintf("Uploaded %s", name), nil
}

func writeMultipart(mw *multipart.Writer, meta []byte, contentType string, media io.Reader) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return err
	}
	if _, err := part.Write(meta); err != nil {
		return err
	}
	part, err = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {contentType}})
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, media); err != nil {
		return err
	}
	return mw.Close()
}

// Delete permanently deletes entry.
func (c *Client) Delete(ctx context.Context, entry models.Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("delete %s: %w", entry.Name, backend.ErrMissingID)
	}
	resp, err := c.rc.R().SetContext(ctx).Delete(c.apiBase + "/files/" + entry.ID)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	if resp.StatusCode() != nethttp.StatusNoContent && resp.StatusCode() != nethttp.StatusOK {
		return apiError("delete", resp)
	}
	return nil
}

// Rename changes entry's name in place.
func (c *Client) Rename(ctx context.Context, entry models.Entry, newName string) error {
	if entry.ID == "" {
		return fmt.Errorf("rename %s: %w", entry.Name, backend.ErrMissingID)
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"name": newName}).
		Patch(c.apiBase + "/files/" + entry.ID)
	if err != nil {
		return fmt.Errorf("rename request failed: %w", err)
	}
	if resp.StatusCode() != nethttp.StatusOK {
		return apiError("rename", resp)
	}
	return nil
}

// Copy duplicates a file next to the original under newName. Drive cannot
// copy folders.
func (c *Client) Copy(ctx context.Context, entry models.Entry, newName string) error {
	if entry.ID == "" {
		return fmt.Errorf("copy %s: %w", entry.Name, backend.ErrMissingID)
	}
	if entry.IsDir {
		return fmt.Errorf("copy folder %s: %w", entry.Name, backend.ErrNotSupported)
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"name": newName}).
		Post(c.apiBase + "/files/" + entry.ID + "/copy")
	if err != nil {
		return fmt.Errorf("copy request failed: %w", err)
	}
	if resp.StatusCode() != nethttp.StatusOK {
		return apiError("copy", resp)
	}
	return nil
}

// MakeDir creates folder name under parentID.
func (c *Client) MakeDir(ctx context.Context, parentID, name string) error {
	if parentID == "" {
		parentID = backend.RootFolderID
	}
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"name":     name,
			"mimeType": constants.GoogleFolderMimeType,
			"parents":  []string{parentID},
		}).
		Post(c.apiBase + "/files")
	if err != nil {
		return fmt.Errorf("create folder request failed: %w", err)
	}
	if resp.StatusCode() != nethttp.StatusOK {
		return apiError("create folder", resp)
	}
	return nil
}

func apiError(op string, resp *resty.Response) error {
	return &APIError{Op: op, Status: resp.StatusCode(), Body: resp.String()}
}
