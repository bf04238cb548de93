package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rescale/duopane/internal/constants"
	"github.com/rescale/duopane/internal/models"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	// Pushed by backends while bytes move
	EventTransferProgress EventType = "transfer_progress"

	// A live transfer record was merged or expired
	EventTransferRecord EventType = "transfer_record"

	// Native OS drop onto one of the panes
	EventFileDrop EventType = "file_drop"

	// State engine notifications
	EventTreeChanged   EventType = "tree_changed"   // local/FTP tree mutated
	EventRemoteChanged EventType = "remote_changed" // remote listing or address changed

	// Orchestration
	EventTransferLogged   EventType = "transfer_logged"   // a line was appended to the transfer log
	EventRefreshRequested EventType = "refresh_requested" // a pane's refresh token was bumped
	EventConnectionState  EventType = "connection_state"  // connection state machine moved

	EventIconResolved EventType = "icon_resolved"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// TransferProgressEvent is the unsolicited progress payload
// {transfer_id, filename, progress, total, status}.
type TransferProgressEvent struct {
	BaseEvent
	TransferID string
	Filename   string
	Progress   uint64
	Total      uint64
	Status     string // "downloading", "uploading", "copying", "complete", "error"
}

// TransferRecordEvent carries a live record after a progress event was
// merged into it. Removed is set once when the record expires.
type TransferRecordEvent struct {
	BaseEvent
	Record  models.TransferRecord
	Removed bool
}

// FileDropEvent carries absolute source paths dropped onto a pane.
type FileDropEvent struct {
	BaseEvent
	Pane  models.Pane
	Paths []string
}

// TreeChangedEvent is published after every tree engine mutation.
type TreeChangedEvent struct {
	BaseEvent
	Source  string // engine name ("local", "ftp")
	Root    string
	NodeID  string // node that changed; equals Root for root-level changes
	Loading bool
	Error   string
}

// RemoteChangedEvent is published after every remote listing change.
type RemoteChangedEvent struct {
	BaseEvent
	Kind     models.ConnectionKind
	Location string
	Entries  int
	Loading  bool
	Error    string
}

// TransferLoggedEvent mirrors one appended transfer log line.
type TransferLoggedEvent struct {
	BaseEvent
	Entry models.TransferLogEntry
}

// RefreshRequestedEvent reports a bumped pane refresh token.
type RefreshRequestedEvent struct {
	BaseEvent
	Pane  models.Pane
	Token uint64
}

// ConnectionStateEvent reports a connection state transition.
type ConnectionStateEvent struct {
	BaseEvent
	Kind  models.ConnectionKind
	From  models.ConnectionState
	To    models.ConnectionState
	Error string
}

// IconResolvedEvent reports that an extension's icon is now cached.
type IconResolvedEvent struct {
	BaseEvent
	Extension string
	Icon      string
	Failed    bool
}

// NewTransferProgressEvent builds a progress event stamped now.
func NewTransferProgressEvent(id, filename string, progress, total uint64, status string) *TransferProgressEvent {
	return &TransferProgressEvent{
		BaseEvent:  BaseEvent{EventType: EventTransferProgress, Time: time.Now()},
		TransferID: id,
		Filename:   filename,
		Progress:   progress,
		Total:      total,
		Status:     status,
	}
}

// NewFileDropEvent builds a drop event stamped now.
func NewFileDropEvent(pane models.Pane, paths []string) *FileDropEvent {
	return &FileDropEvent{
		BaseEvent: BaseEvent{EventType: EventFileDrop, Time: time.Now()},
		Pane:      pane,
		Paths:     append([]string(nil), paths...),
	}
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type.
// Subscribing to a closed bus returns an already-closed channel.
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// Publish sends an event to all subscribers without blocking.
// A nil bus is a no-op so components can run without one.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// PublishTransferProgress is a convenience wrapper used by backends.
func (eb *EventBus) PublishTransferProgress(id, filename string, progress, total uint64, status string) {
	eb.Publish(NewTransferProgressEvent(id, filename, progress, total, status))
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
}

// Unsubscribe removes a subscription channel from a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
