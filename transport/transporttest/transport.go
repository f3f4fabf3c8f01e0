// Package transporttest provides an in-memory transport.Transport that
// records every call.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pithecene-io/coalesce/transport"
	"github.com/pithecene-io/coalesce/types"
)

// ErrNoSuchMessage is returned when editing or deleting an unknown message.
var ErrNoSuchMessage = errors.New("message not found")

// Message is a message currently visible in a chat.
type Message struct {
	Handle   types.MessageHandle
	Text     string
	Options  transport.SendOptions
	Edits    []string
	Document bool
}

// Document is a delivered artifact.
type Document struct {
	ChatID  int64
	Name    string
	Content string
}

// Transport is a recording transport. The zero value is not usable; call
// New.
type Transport struct {
	mu       sync.Mutex
	nextID   int
	messages map[types.MessageHandle]*Message
	sent     []Message
	deleted  []types.MessageHandle
	docs     []Document
	acks     []string
	files    map[string]string
	edits    map[types.MessageHandle][]string

	// FailEdits makes every EditText fail.
	FailEdits bool
	// FailDeletes makes every DeleteMessage fail.
	FailDeletes bool
	// FailArtifacts makes every SendArtifact fail.
	FailArtifacts bool
}

var _ transport.Transport = (*Transport)(nil)

// New creates an empty transport.
func New() *Transport {
	return &Transport{
		nextID:   1000,
		messages: make(map[types.MessageHandle]*Message),
		files:    make(map[string]string),
		edits:    make(map[types.MessageHandle][]string),
	}
}

// AddFile registers upload content fetchable by id.
func (t *Transport) AddFile(id, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[id] = content
}

// Seed registers an inbound message so it can later be deleted.
func (t *Transport) Seed(chatID int64, text string) types.MessageHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	h := types.MessageHandle{ChatID: chatID, MessageID: t.nextID}
	t.messages[h] = &Message{Handle: h, Text: text}
	return h
}

// SendText implements transport.Transport.
func (t *Transport) SendText(_ context.Context, chatID int64, text string, opts ...transport.SendOption) (types.MessageHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	h := types.MessageHandle{ChatID: chatID, MessageID: t.nextID}
	m := &Message{Handle: h, Text: text, Options: transport.ResolveOptions(opts...)}
	t.messages[h] = m
	t.sent = append(t.sent, *m)
	return h, nil
}

// EditText implements transport.Transport.
func (t *Transport) EditText(_ context.Context, h types.MessageHandle, text string, _ ...transport.SendOption) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailEdits {
		return errors.New("edit failed")
	}
	m, ok := t.messages[h]
	if !ok {
		return fmt.Errorf("edit %d: %w", h.MessageID, ErrNoSuchMessage)
	}
	m.Text = text
	m.Edits = append(m.Edits, text)
	t.edits[h] = append(t.edits[h], text)
	return nil
}

// DeleteMessage implements transport.Transport.
func (t *Transport) DeleteMessage(_ context.Context, h types.MessageHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailDeletes {
		return errors.New("delete failed")
	}
	if _, ok := t.messages[h]; !ok {
		return fmt.Errorf("delete %d: %w", h.MessageID, ErrNoSuchMessage)
	}
	delete(t.messages, h)
	t.deleted = append(t.deleted, h)
	return nil
}

// SendArtifact implements transport.Transport.
func (t *Transport) SendArtifact(_ context.Context, chatID int64, name string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FailArtifacts {
		return errors.New("upload failed")
	}
	t.docs = append(t.docs, Document{ChatID: chatID, Name: name, Content: string(b)})
	return nil
}

// Acknowledge implements transport.Transport.
func (t *Transport) Acknowledge(_ context.Context, callbackID, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acks = append(t.acks, callbackID)
	return nil
}

// Fetch implements transport.Transport.
func (t *Transport) Fetch(_ context.Context, file transport.FileRef) (io.ReadCloser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	content, ok := t.files[file.ID]
	if !ok {
		return nil, fmt.Errorf("file %s: not found", file.ID)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

// Sent returns every message sent, in order, as first sent.
func (t *Transport) Sent() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.sent...)
}

// SentTexts returns the original text of every sent message.
func (t *Transport) SentTexts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	for i, m := range t.sent {
		out[i] = m.Text
	}
	return out
}

// Visible returns the messages that have not been deleted.
func (t *Transport) Visible() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, 0, len(t.messages))
	for _, m := range t.messages {
		out = append(out, *m)
	}
	return out
}

// Lookup returns the current state of a message.
func (t *Transport) Lookup(h types.MessageHandle) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.messages[h]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// Edits returns every edit applied to h in order, including edits to
// messages since deleted.
func (t *Transport) Edits(h types.MessageHandle) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.edits[h]...)
}

// Deleted returns deleted handles in order.
func (t *Transport) Deleted() []types.MessageHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]types.MessageHandle(nil), t.deleted...)
}

// Documents returns delivered artifacts in order.
func (t *Transport) Documents() []Document {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Document(nil), t.docs...)
}

// Acks returns answered callback ids.
func (t *Transport) Acks() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.acks...)
}
