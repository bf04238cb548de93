// Package s3 implements the cloud backend for an S3 (or S3-compatible) bucket.
// Folders are key prefixes; folder IDs are the prefixes themselves.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/cloud/storage"
	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/logging"
	"github.com/rescale/duopane/internal/models"
	"github.com/rescale/duopane/internal/progress"
)

// ProviderName is the descriptor Provider value for S3.
const ProviderName = "s3"

var _ backend.Cloud = (*Client)(nil)

// API is the subset of *s3.Client the backend calls.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Options configures a Client.
type Options struct {
	HTTPClient *nethttp.Client
	Bus        *events.EventBus
}

// Client is one bucket.
type Client struct {
	api    API
	bucket string
	bus    *events.EventBus
	logger *logging.Logger
}

// New loads an AWS config for desc and creates the client. AccessToken of the
// form "ACCESS_KEY:SECRET_KEY" selects static credentials; otherwise the
// default credential chain applies.
func New(ctx context.Context, desc models.CloudDescriptor, opts Options) (*Client, error) {
	if desc.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if desc.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(desc.Region))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, config.WithHTTPClient(opts.HTTPClient))
	}
	if key, secret, ok := splitStaticKey(desc.AccessToken); ok {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(key, secret, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if desc.Endpoint != "" {
			o.BaseEndpoint = aws.String(desc.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithAPI(client, desc.Bucket, opts.Bus), nil
}

// NewWithAPI wraps an existing S3 API implementation.
func NewWithAPI(api API, bucket string, bus *events.EventBus) *Client {
	return &Client{api: api, bucket: bucket, bus: bus, logger: logging.NewLogger("s3")}
}

func splitStaticKey(token string) (string, string, bool) {
	key, secret, ok := strings.Cut(strings.TrimSpace(token), ":")
	if !ok || key == "" || secret == "" {
		return "", "", false
	}
	return key, secret, true
}

// Provider returns "s3".
func (c *Client) Provider() string {
	return ProviderName
}

// Capabilities: objects cannot be renamed in place; copies are server side.
func (c *Client) Capabilities() backend.Capabilities {
	return backend.Capabilities{Copy: true, Delete: true, MakeDir: true, DownloadFolder: true}
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// List returns the objects and sub-prefixes directly under folderID.
func (c *Client) List(ctx context.Context, folderID string) ([]models.Entry, error) {
	prefix := storage.Prefix(folderID)
	pager := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var entries []models.Entry
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", c.bucket, prefix, err)
		}
		entries = append(entries, pageEntries(prefix, page)...)
	}
	models.SortEntries(entries)
	return entries, nil
}

func pageEntries(prefix string, page *s3.ListObjectsV2Output) []models.Entry {
	entries := make([]models.Entry, 0, len(page.CommonPrefixes)+len(page.Contents))
	for _, p := range page.CommonPrefixes {
		key := aws.ToString(p.Prefix)
		if key == "" || key == prefix {
			continue
		}
		entries = append(entries, models.Entry{
			Name:  storage.BaseName(key),
			Path:  key,
			ID:    key,
			IsDir: true,
		})
	}
	for _, obj := range page.Contents {
		key := aws.ToString(obj.Key)
		// folder marker objects
		if key == prefix || storage.IsFolderKey(key) {
			continue
		}
		entries = append(entries, objectEntry(key, obj))
	}
	return entries
}

func objectEntry(key string, obj types.Object) models.Entry {
	e := models.Entry{
		Name:  storage.BaseName(key),
		Path:  key,
		ID:    key,
		IsDir: false,
		Size:  models.SizePtr(uint64(aws.ToInt64(obj.Size))),
	}
	if obj.LastModified != nil {
		e.Modified = *obj.LastModified
	}
	return e
}

// Download fetches one object into localDir/<name>.
func (c *Client) Download(ctx context.Context, entry models.Entry, localDir string) (string, error) {
	if entry.ID == "" {
		return "", fmt.Errorf("download %s: %w", entry.Name, backend.ErrMissingID)
	}
	if _, err := c.download(ctx, entry.ID, filepath.Join(localDir, entry.Name), entry.SizeOrZero()); err != nil {
		return "", err
	}
	return fmt.Sprintf("Downloaded %s", entry.Name), nil
}

func (c *Client) download(ctx context.Context, key, dest string, size uint64) (uint64, error) {
	name := storage.BaseName(key)
	tracker := progress.NewTracker(c.bus, constants.TransferPrefixDownload, name, size, constants.StatusDownloading)
	fail := func(err error) (uint64, error) {
		tracker.Fail()
		return 0, fmt.Errorf("download %s failed: %w", name, err)
	}

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fail(err)
	}
	defer out.Body.Close()
	if size == 0 && out.ContentLength != nil {
		tracker.SetTotal(uint64(*out.ContentLength))
	}

	f, err := os.Create(dest)
	if err != nil {
		return fail(err)
	}
	buf := make([]byte, constants.CopyBufferSize)
	if _, err := io.CopyBuffer(f, tracker.Reader(progress.ContextReader(ctx, out.Body)), buf); err != nil {
		f.Close()
		os.Remove(dest)
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return fail(err)
	}
	tracker.Complete()
	return tracker.Done(), nil
}

// DownloadFolder fetches every object under the folder's prefix into
// localDir/<name>, recreating the key hierarchy.
func (c *Client) DownloadFolder(ctx context.Context, entry models.Entry, localDir string) (string, error) {
	if entry.ID == "" {
		return "", fmt.Errorf("download folder %s: %w", entry.Name, backend.ErrMissingID)
	}
	prefix := storage.Prefix(entry.ID)
	root := filepath.Join(localDir, entry.Name)
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("failed to create local dir: %w", err)
	}

	files := 0
	err := c.walk(ctx, prefix, func(obj types.Object) error {
		key := aws.ToString(obj.Key)
		dest := filepath.Join(root, filepath.FromSlash(storage.Relative(prefix, key)))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if _, err := c.download(ctx, key, dest, uint64(aws.ToInt64(obj.Size))); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Downloaded folder '%s' (%d files)", entry.Name, files), nil
}

// walk visits every non-marker object under prefix, recursively.
func (c *Client) walk(ctx context.Context, prefix string, fn func(types.Object) error) error {
	pager := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list s3://%s/%s: %w", c.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if storage.IsFolderKey(aws.ToString(obj.Key)) {
				continue
			}
			if err := fn(obj); err != nil {
				return err
			}
		}
	}
	return nil
}

// Upload puts localPath at parentID/<name>.
func (c *Client) Upload(ctx context.Context, localPath, parentID string) (string, error) {
	name := filepath.Base(localPath)
	key, err := storage.ChildKey(parentID, name)
	if err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open local file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("upload %s: is a directory", localPath)
	}

	tracker := progress.NewTracker(c.bus, constants.TransferPrefixUpload, name, uint64(info.Size()), constants.StatusUploading)
	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          &trackedReadSeeker{rs: f, tracker: tracker},
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		tracker.Fail()
		return "", fmt.Errorf("upload %s failed: %w", name, err)
	}
	tracker.Complete()
	return fmt.Sprintf("Uploaded %s", name), nil
}

// trackedReadSeeker counts bytes read. The SDK seeks back to the start to
// sign or retry the payload, which resets the count.
type trackedReadSeeker struct {
	rs      io.ReadSeeker
	tracker *progress.Tracker
}

func (t *trackedReadSeeker) Read(p []byte) (int, error) {
	n, err := t.rs.Read(p)
	if n > 0 {
		t.tracker.Add(uint64(n))
	}
	return n, err
}

func (t *trackedReadSeeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := t.rs.Seek(offset, whence)
	if err == nil {
		t.tracker.Set(uint64(pos))
	}
	return pos, err
}

// Delete removes an object, or every object under a folder prefix.
func (c *Client) Delete(ctx context.Context, entry models.Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("delete %s: %w", entry.Name, backend.ErrMissingID)
	}
	if !entry.IsDir {
		return c.deleteKey(ctx, entry.ID)
	}

	prefix := storage.Prefix(entry.ID)
	if prefix == "" {
		return fmt.Errorf("refusing to delete the bucket root")
	}
	var keys []string
	pager := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list s3://%s/%s: %w", c.bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	var errs []error
	for _, key := range keys {
		if err := c.deleteKey(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) deleteKey(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s failed: %w", key, err)
	}
	return nil
}

// Rename is not available on S3.
func (c *Client) Rename(ctx context.Context, entry models.Entry, newName string) error {
	return fmt.Errorf("rename %s: %w", entry.Name, backend.ErrNotSupported)
}

// Copy duplicates a single object next to itself under newName.
func (c *Client) Copy(ctx context.Context, entry models.Entry, newName string) error {
	if entry.ID == "" {
		return fmt.Errorf("copy %s: %w", entry.Name, backend.ErrMissingID)
	}
	if entry.IsDir {
		return fmt.Errorf("copy folder %s: %w", entry.Name, backend.ErrNotSupported)
	}
	dest, err := storage.SiblingKey(entry.ID, newName)
	if err != nil {
		return err
	}
	_, err = c.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.bucket),
		CopySource: aws.String(c.bucket + "/" + url.PathEscape(entry.ID)),
		Key:        aws.String(dest),
	})
	if err != nil {
		return fmt.Errorf("copy %s failed: %w", entry.Name, err)
	}
	return nil
}

// MakeDir writes a zero-byte folder marker "<parent>/<name>/".
func (c *Client) MakeDir(ctx context.Context, parentID, name string) error {
	key, err := storage.FolderKey(parentID, name)
	if err != nil {
		return err
	}
	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          strings.NewReader(""),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return fmt.Errorf("create folder %s failed: %w", name, err)
	}
	return nil
}
