package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/willvelida/m365-sdk-proxy/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is an in-memory implementation of storage.Store
type Store struct {
	mu            sync.RWMutex
	conversations map[string]string
	transcripts   map[string][]*storage.TranscriptEntry
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		conversations: make(map[string]string),
		transcripts:   make(map[string][]*storage.TranscriptEntry),
	}
}

func (s *Store) SaveConversation(ctx context.Context, channelConversationID, backendConversationID string) error {
	if channelConversationID == "" || backendConversationID == "" {
		return fmt.Errorf("conversation ids must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[channelConversationID] = backendConversationID
	return nil
}

func (s *Store) BackendConversation(ctx context.Context, channelConversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.conversations[channelConversationID]
	if !exists {
		return "", fmt.Errorf("conversation %s: %w", channelConversationID, storage.ErrNotFound)
	}
	return id, nil
}

func (s *Store) AppendTranscript(ctx context.Context, entry *storage.TranscriptEntry) error {
	if entry == nil || entry.ConversationID == "" {
		return fmt.Errorf("transcript entry requires a conversation id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	stored := *entry
	s.transcripts[entry.ConversationID] = append(s.transcripts[entry.ConversationID], &stored)
	return nil
}

func (s *Store) Transcript(ctx context.Context, conversationID string, opts storage.ListOptions) ([]*storage.TranscriptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.transcripts[conversationID]
	start, end := opts.Page(len(entries))

	result := make([]*storage.TranscriptEntry, 0, end-start)
	for _, e := range entries[start:end] {
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}

func (s *Store) Close() error {
	return nil
}
