// Package types defines core domain types shared across coalesce packages.
//
//nolint:revive // types is a common Go package naming convention
package types

import "time"

// UserID identifies the chat principal that owns a session.
// Private chats share the numeric id of the user, so UserID doubles as the
// chat id for outbound messages.
type UserID = int64

// MessageHandle references a message previously sent through the transport.
// Used for edit-in-place and best-effort deletion.
type MessageHandle struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// IsZero reports whether the handle references no message.
func (h MessageHandle) IsZero() bool {
	return h.MessageID == 0
}

// ArtifactRef identifies an uploaded artifact in durable storage.
type ArtifactRef struct {
	// Key is the collision-resistant storage key.
	Key string `json:"key"`
	// Name is the original file name declared by the uploader.
	Name string `json:"name"`
	// Size is the stored size in bytes.
	Size int64 `json:"size"`
	// ReceivedAt is when the artifact was stored.
	ReceivedAt time.Time `json:"received_at"`
}
