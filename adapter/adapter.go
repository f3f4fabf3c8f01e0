// Package adapter publishes merge completion notifications to downstream
// systems.
//
// The coordinator owns adapter lifecycle; operators choose an
// implementation (redis, webhook) in configuration.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// EventType is the type tag of every completion event.
const EventType = "merge_completed"

// Outcomes.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// Encodings understood by Encode.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// MergeCompletedEvent is published once per finished merge job.
type MergeCompletedEvent struct {
	EventID        string `json:"event_id" msgpack:"event_id"`
	EventType      string `json:"event_type" msgpack:"event_type"`
	JobID          string `json:"job_id" msgpack:"job_id"`
	UserID         int64  `json:"user_id" msgpack:"user_id"`
	OutputName     string `json:"output_name" msgpack:"output_name"`
	Outcome        string `json:"outcome" msgpack:"outcome"`
	Error          string `json:"error,omitempty" msgpack:"error,omitempty"`
	Inputs         int    `json:"inputs" msgpack:"inputs"`
	UniqueLines    int    `json:"unique_lines" msgpack:"unique_lines"`
	BytesProcessed int64  `json:"bytes_processed" msgpack:"bytes_processed"`
	StorageBackend string `json:"storage_backend" msgpack:"storage_backend"`
	Timestamp      string `json:"timestamp" msgpack:"timestamp"` // RFC 3339
	DurationMs     int64  `json:"duration_ms" msgpack:"duration_ms"`
}

// NewEvent returns an event with id, type and timestamp filled in.
func NewEvent(jobID string, userID int64, at time.Time) *MergeCompletedEvent {
	return &MergeCompletedEvent{
		EventID:   uuid.NewString(),
		EventType: EventType,
		JobID:     jobID,
		UserID:    userID,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

// Adapter publishes completion events to a downstream system.
type Adapter interface {
	// Publish sends the event. It must respect ctx cancellation.
	Publish(ctx context.Context, event *MergeCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Encode serializes event as JSON or msgpack.
func Encode(event *MergeCompletedEvent, encoding string) ([]byte, error) {
	switch encoding {
	case EncodingJSON, "":
		return json.Marshal(event)
	case EncodingMsgpack:
		return msgpack.Marshal(event)
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

// permanentError stops Retry.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retriable.
func Permanent(err error) error {
	return &permanentError{err: err}
}

// DefaultBackoff is the delay before the first retry; it doubles after
// every failed attempt.
const DefaultBackoff = 500 * time.Millisecond

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early on success, on a Permanent error, or when ctx
// is done.
func Retry(ctx context.Context, retries int, backoff time.Duration, fn func(ctx context.Context) error) error {
	attempts := 1 + retries
	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(time.Duration(1<<uint(i-1)) * backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("non-retriable error: %w", perm.err)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
