// Package azure implements the cloud backend for one Azure Blob Storage
// container, authorized with a SAS token. Virtual folders are "/"-delimited
// blob name prefixes.
package azure

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/cloud/storage"
	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/logging"
	"github.com/rescale/duopane/internal/models"
	"github.com/rescale/duopane/internal/progress"
)

// ProviderName is the descriptor Provider value for Azure Blob Storage.
const ProviderName = "azure"

var _ backend.Cloud = (*Client)(nil)

// Options configures a Client.
type Options struct {
	HTTPClient *nethttp.Client
	Bus        *events.EventBus
}

// Client is one blob container.
type Client struct {
	client    *azblob.Client
	container string
	bus       *events.EventBus
	logger    *logging.Logger
}

// New builds the SAS service URL for desc and creates the client.
func New(desc models.CloudDescriptor, opts Options) (*Client, error) {
	if desc.Bucket == "" {
		return nil, fmt.Errorf("azure: container is required")
	}
	sasURL, err := buildSASURL(desc)
	if err != nil {
		return nil, err
	}

	clientOpts := &azblob.ClientOptions{}
	if opts.HTTPClient != nil {
		clientOpts.ClientOptions = azcore.ClientOptions{Transport: opts.HTTPClient}
	}
	client, err := azblob.NewClientWithNoCredential(sasURL, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	return &Client{
		client:    client,
		container: desc.Bucket,
		bus:       opts.Bus,
		logger:    logging.NewLogger("azure"),
	}, nil
}

// buildSASURL returns the service URL with the SAS query attached. Endpoint
// overrides the public cloud host (sovereign clouds, Azurite).
func buildSASURL(desc models.CloudDescriptor) (string, error) {
	sas := strings.TrimPrefix(strings.TrimSpace(desc.AccessToken), "?")

	if desc.Endpoint != "" {
		base := strings.TrimRight(desc.Endpoint, "/") + "/"
		if sas == "" {
			return base, nil
		}
		return base + "?" + sas, nil
	}

	if desc.AccountName == "" {
		return "", fmt.Errorf("Azure storage account name not set")
	}
	return fmt.Sprintf(constants.AzureBlobEndpointFormat, desc.AccountName, sas), nil
}

// Provider returns "azure".
func (c *Client) Provider() string {
	return ProviderName
}

// Capabilities: blobs cannot be renamed, copied in place or created as empty folders.
func (c *Client) Capabilities() backend.Capabilities {
	return backend.Capabilities{Delete: true, DownloadFolder: true}
}

// List returns the blobs and virtual folders directly under folderID.
func (c *Client) List(ctx context.Context, folderID string) ([]models.Entry, error) {
	prefix := storage.Prefix(folderID)
	pager := c.client.ServiceClient().NewContainerClient(c.container).NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
		Prefix: to.Ptr(prefix),
	})

	var entries []models.Entry
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s/%s: %w", c.container, prefix, err)
		}
		if resp.Segment == nil {
			continue
		}
		entries = append(entries, segmentEntries(prefix, resp.Segment.BlobPrefixes, resp.Segment.BlobItems)...)
	}
	models.SortEntries(entries)
	return entries, nil
}

func segmentEntries(prefix string, prefixes []*container.BlobPrefix, items []*container.BlobItem) []models.Entry {
	entries := make([]models.Entry, 0, len(prefixes)+len(items))
	for _, p := range prefixes {
		if p == nil || p.Name == nil || *p.Name == prefix {
			continue
		}
		entries = append(entries, models.Entry{
			Name:  storage.BaseName(*p.Name),
			Path:  *p.Name,
			ID:    *p.Name,
			IsDir: true,
		})
	}
	for _, item := range items {
		if item == nil || item.Name == nil || storage.IsFolderKey(*item.Name) {
			continue
		}
		entries = append(entries, blobEntry(item))
	}
	return entries
}

func blobEntry(item *container.BlobItem) models.Entry {
	e := models.Entry{
		Name: storage.BaseName(*item.Name),
		Path: *item.Name,
		ID:   *item.Name,
	}
	if props := item.Properties; props != nil {
		if props.ContentLength != nil {
			e.Size = models.SizePtr(uint64(*props.ContentLength))
		}
		if props.LastModified != nil {
			e.Modified = *props.LastModified
		}
		if props.ContentType != nil {
			e.MimeType = *props.ContentType
		}
	}
	if e.Size == nil {
		e.Size = models.SizePtr(0)
	}
	return e
}

// Download fetches one blob into localDir/<name>.
func (c *Client) Download(ctx context.Context, entry models.Entry, localDir string) (string, error) {
	if entry.ID == "" {
		return "", fmt.Errorf("download %s: %w", entry.Name, backend.ErrMissingID)
	}
	if err := c.download(ctx, entry.ID, filepath.Join(localDir, entry.Name), entry.SizeOrZero()); err != nil {
		return "", err
	}
	return fmt.Sprintf("Downloaded %s", entry.Name), nil
}

func (c *Client) download(ctx context.Context, blobName, dest string, size uint64) error {
	name := storage.BaseName(blobName)
	tracker := progress.NewTracker(c.bus, constants.TransferPrefixDownload, name, size, constants.StatusDownloading)

	f, err := os.Create(dest)
	if err != nil {
		tracker.Fail()
		return fmt.Errorf("failed to create local file: %w", err)
	}
	_, err = c.client.DownloadFile(ctx, c.container, blobName, f, &azblob.DownloadFileOptions{
		Progress: func(n int64) { tracker.Set(uint64(n)) },
	})
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		tracker.Fail()
		os.Remove(dest)
		return fmt.Errorf("download %s failed: %w", name, err)
	}
	tracker.Complete()
	return nil
}

// DownloadFolder fetches every blob under the folder's prefix.
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
	err := c.walk(ctx, prefix, func(item *container.BlobItem) error {
		dest := filepath.Join(root, filepath.FromSlash(storage.Relative(prefix, *item.Name)))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := c.download(ctx, *item.Name, dest, blobEntry(item).SizeOrZero()); err != nil {
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

func (c *Client) walk(ctx context.Context, prefix string, fn func(*container.BlobItem) error) error {
	pager := c.client.NewListBlobsFlatPager(c.container, &azblob.ListBlobsFlatOptions{Prefix: to.Ptr(prefix)})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list %s/%s: %w", c.container, prefix, err)
		}
		if resp.Segment == nil {
			continue
		}
		for _, item := range resp.Segment.BlobItems {
			if item == nil || item.Name == nil || storage.IsFolderKey(*item.Name) {
				continue
			}
			if err := fn(item); err != nil {
				return err
			}
		}
	}
	return nil
}

// Upload writes localPath as a block blob at parentID/<name>.
func (c *Client) Upload(ctx context.Context, localPath, parentID string) (string, error) {
	name := filepath.Base(localPath)
	blobName, err := storage.ChildKey(parentID, name)
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
	_, err = c.client.UploadFile(ctx, c.container, blobName, f, &azblob.UploadFileOptions{
		Progress: func(n int64) { tracker.Set(uint64(n)) },
	})
	if err != nil {
		tracker.Fail()
		return "", fmt.Errorf("upload %s failed: %w", name, err)
	}
	tracker.Complete()
	return fmt.Sprintf("Uploaded %s", name), nil
}

// Delete removes a blob, or every blob under a virtual folder.
func (c *Client) Delete(ctx context.Context, entry models.Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("delete %s: %w", entry.Name, backend.ErrMissingID)
	}
	if !entry.IsDir {
		return c.deleteBlob(ctx, entry.ID)
	}

	prefix := storage.Prefix(entry.ID)
	if prefix == "" {
		return fmt.Errorf("refusing to delete the container root")
	}
	var names []string
	if err := c.walk(ctx, prefix, func(item *container.BlobItem) error {
		names = append(names, *item.Name)
		return nil
	}); err != nil {
		return err
	}
	var errs []error
	for _, n := range names {
		if err := c.deleteBlob(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) deleteBlob(ctx context.Context, name string) error {
	if _, err := c.client.DeleteBlob(ctx, c.container, name, nil); err != nil {
		return fmt.Errorf("delete %s failed: %w", name, err)
	}
	return nil
}

// Rename is not available on Blob Storage.
func (c *Client) Rename(ctx context.Context, entry models.Entry, newName string) error {
	return fmt.Errorf("rename %s: %w", entry.Name, backend.ErrNotSupported)
}

// Copy is not available with a container SAS.
func (c *Client) Copy(ctx context.Context, entry models.Entry, newName string) error {
	return fmt.Errorf("copy %s: %w", entry.Name, backend.ErrNotSupported)
}

// MakeDir is not available: virtual folders exist only while they hold blobs.
func (c *Client) MakeDir(ctx context.Context, parentID, name string) error {
	return fmt.Errorf("create folder %s: %w", name, backend.ErrNotSupported)
}
