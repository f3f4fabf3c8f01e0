// Package transport defines the messaging surface the coordinator talks to
// and the inbound event model that feeds it.
//
// Implementations live in subpackages: telegram for the bot API and
// transporttest for an in-memory recorder.
package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pithecene-io/coalesce/types"
)

// ErrUnauthorized is returned by OwnerGuard for events from anyone but the
// owner.
var ErrUnauthorized = errors.New("unauthorized")

// ErrRejected marks handler errors the user has already been told about.
// The dispatcher logs them at debug level.
var ErrRejected = errors.New("event rejected")

// Button is an inline action attached to a message.
type Button struct {
	Text string
	Data string
}

// SendOptions are the resolved options of a send or edit.
type SendOptions struct {
	Markdown bool
	Buttons  []Button
}

// SendOption configures a send or edit.
type SendOption func(*SendOptions)

// WithMarkdown renders the text as Markdown.
func WithMarkdown() SendOption {
	return func(o *SendOptions) { o.Markdown = true }
}

// WithButtons attaches a single row of inline buttons.
func WithButtons(buttons ...Button) SendOption {
	return func(o *SendOptions) { o.Buttons = append(o.Buttons, buttons...) }
}

// ResolveOptions applies opts to a zero SendOptions.
func ResolveOptions(opts ...SendOption) SendOptions {
	var o SendOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// FileRef identifies an inbound upload on the transport side.
type FileRef struct {
	ID   string
	Name string
	Size int64
}

// Transport sends messages and artifacts and fetches uploads.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string, opts ...SendOption) (types.MessageHandle, error)
	EditText(ctx context.Context, h types.MessageHandle, text string, opts ...SendOption) error
	DeleteMessage(ctx context.Context, h types.MessageHandle) error
	SendArtifact(ctx context.Context, chatID int64, name string, r io.Reader) error
	// Acknowledge answers a button press so the client stops its spinner.
	Acknowledge(ctx context.Context, callbackID, text string) error
	Fetch(ctx context.Context, file FileRef) (io.ReadCloser, error)
}

// EventKind classifies inbound events.
type EventKind string

// Event kinds.
const (
	EventArtifact EventKind = "artifact"
	EventText     EventKind = "text"
	EventTrigger  EventKind = "trigger"
	EventStart    EventKind = "start"
)

// TriggerData is the callback payload of the merge-now button.
const TriggerData = "merge_now"

// Event is one inbound update.
type Event struct {
	Kind   EventKind
	UserID types.UserID
	ChatID int64
	// Message is the inbound message, or for triggers the message carrying
	// the button.
	Message types.MessageHandle
	Text    string
	// File is set for artifact events.
	File *FileRef
	// CallbackID is set for trigger events.
	CallbackID string
	ReceivedAt time.Time
}

// Handler consumes inbound events.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
