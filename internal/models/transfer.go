package models

import (
	"fmt"
	"strings"
	"time"
)

// TransferStatus is the lifecycle state of a live transfer record.
type TransferStatus string

const (
	TransferInProgress TransferStatus = "in_progress"
	TransferComplete   TransferStatus = "complete"
	TransferError      TransferStatus = "error"
)

// ParseTransferStatus maps the status strings carried by progress events
// ("downloading", "uploading", "complete", "error", ...) onto a TransferStatus.
// Anything that is not terminal counts as in progress.
func ParseTransferStatus(s string) TransferStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "complete", "completed", "done":
		return TransferComplete
	case "error", "failed":
		return TransferError
	default:
		return TransferInProgress
	}
}

// TransferRecord is the live state of one transfer, keyed by TransferID.
type TransferRecord struct {
	TransferID string
	Filename   string
	BytesDone  uint64
	BytesTotal uint64
	Status     TransferStatus
	UpdatedAt  time.Time
}

// Fraction returns completion in [0,1]; unknown totals report 0 until complete.
func (r TransferRecord) Fraction() float64 {
	if r.Status == TransferComplete {
		return 1
	}
	if r.BytesTotal == 0 {
		return 0
	}
	f := float64(r.BytesDone) / float64(r.BytesTotal)
	if f > 1 {
		return 1
	}
	return f
}

// Operation names a routed transfer action.
type Operation string

const (
	OpLocalCopy      Operation = "copy"
	OpUploadFTP      Operation = "ftp-upload"
	OpUploadCloud    Operation = "cloud-upload"
	OpDownloadFTP    Operation = "ftp-download"
	OpDownloadCloud  Operation = "cloud-download"
	OpDownloadFolder Operation = "folder-download"
)

// TransferLogEntry is one line of the append-only transfer log.
type TransferLogEntry struct {
	Time      time.Time
	Operation Operation
	Filename  string
	Message   string
	Err       error
}

// Failed reports whether the logged operation failed.
func (e TransferLogEntry) Failed() bool {
	return e.Err != nil
}

func (e TransferLogEntry) String() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s %s failed: %v", e.Time.Format("15:04:05"), e.Operation, e.Filename, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), e.Message)
}
