// Package storage defines persistence for conversation mappings and
// transcripts. Implementations live in the memory and sqlite subpackages.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation mapping does not exist.
var ErrNotFound = errors.New("not found")

// Direction of a transcript entry relative to the proxy.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// TranscriptEntry is one activity seen on a channel conversation.
type TranscriptEntry struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	Direction      Direction       `json:"direction"`
	ActivityType   string          `json:"activityType"`
	Text           string          `json:"text,omitempty"`
	Activity       json.RawMessage `json:"activity,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// ListOptions pages transcript reads.
type ListOptions struct {
	Limit  int
	Offset int
}

// ConversationStore maps channel conversation ids to backend conversation ids.
type ConversationStore interface {
	SaveConversation(ctx context.Context, channelConversationID, backendConversationID string) error
	// BackendConversation returns ErrNotFound when no mapping exists.
	BackendConversation(ctx context.Context, channelConversationID string) (string, error)
}

// TranscriptStore appends and reads conversation transcripts.
type TranscriptStore interface {
	AppendTranscript(ctx context.Context, entry *TranscriptEntry) error
	// Transcript returns entries oldest first.
	Transcript(ctx context.Context, conversationID string, opts ListOptions) ([]*TranscriptEntry, error)
}

// Store is the full persistence surface used by the proxy.
type Store interface {
	ConversationStore
	TranscriptStore
	Close() error
}

// Page applies opts to n items and returns the slice bounds.
func (o ListOptions) Page(n int) (start, end int) {
	start = o.Offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end = n
	if o.Limit > 0 && start+o.Limit < n {
		end = start + o.Limit
	}
	return start, end
}
