package constants

import (
	"time"
)

// Application identity
const (
	AppName = "duopane"

	// ConfigDirName is created under the user's ~/.config directory.
	ConfigDirName = "duopane"

	// ConfigFileName holds saved connections and UI settings.
	ConfigFileName = "connections.ini"

	// EnvPrefix is used for viper environment binding (DUOPANE_CONFIG, DUOPANE_VERBOSE, ...).
	EnvPrefix = "DUOPANE"
)

// Event bus sizing
const (
	// EventBusDefaultBuffer - per-subscriber channel capacity
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - upper bound accepted by NewEventBus
	EventBusMaxBuffer = 10000
)

// Transfer bookkeeping
const (
	// TransferRemovalDelay - how long a completed transfer stays in the live map
	TransferRemovalDelay = 5 * time.Second

	// ProgressPublishInterval - minimum spacing between progress events for one transfer
	ProgressPublishInterval = 100 * time.Millisecond

	// CopyBufferSize - buffer used by local copies and streamed downloads (1 MB)
	CopyBufferSize = 1024 * 1024
)

// Transfer status strings carried by pushed progress events
const (
	StatusDownloading = "downloading"
	StatusUploading   = "uploading"
	StatusCopying     = "copying"
	StatusComplete    = "complete"
	StatusError       = "error"
)

// Transfer ID prefixes
const (
	TransferPrefixDownload = "dl"
	TransferPrefixUpload   = "ul"
	TransferPrefixCopy     = "cp"
)

// FTP defaults
const (
	DefaultFTPPort = 21

	// FTPDialTimeout - connect + login timeout
	FTPDialTimeout = 30 * time.Second
)

// HTTP client timeouts
const (
	HTTPDialTimeout           = 30 * time.Second
	HTTPDialKeepAlive         = 30 * time.Second
	HTTPIdleConnTimeout       = 90 * time.Second
	HTTPTLSHandshakeTimeout   = 30 * time.Second
	HTTPExpectContinueTimeout = 1 * time.Second
	HTTPResponseHeaderTimeout = 60 * time.Second

	// HTTPClientTimeout - overall timeout for API (non-transfer) clients
	HTTPClientTimeout = 300 * time.Second

	// DefaultProxyPort is used when a proxy host is configured without a port
	DefaultProxyPort = 8080
)

// Icon lookups
const (
	// IconLookupTimeout bounds one asynchronous icon lookup
	IconLookupTimeout = 5 * time.Second
)

// Google Drive API
const (
	GoogleDriveAPIBase    = "https://www.googleapis.com/drive/v3"
	GoogleDriveUploadBase = "https://www.googleapis.com/upload/drive/v3"
	GoogleFolderMimeType  = "application/vnd.google-apps.folder"

	// GoogleDrivePageSize - max entries per files.list page
	GoogleDrivePageSize = 1000

	// Drive allows about 1000 queries per 100 seconds per user
	GoogleDriveRequestsPerSec = 10.0
	GoogleDriveRequestBurst   = 50.0

	// RateLimitWarnAfter - waits longer than this are logged
	RateLimitWarnAfter = 2 * time.Second
)

// Azure Blob Storage
const (
	// AzureBlobEndpointFormat takes the storage account name and a SAS query string
	AzureBlobEndpointFormat = "https://%s.blob.core.windows.net/?%s"
)
