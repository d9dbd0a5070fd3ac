package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/willvelida/m365-sdk-proxy/internal/storage"
)

// Store is a SQLite implementation of storage.Store
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversation_map (
			channel_conversation_id TEXT PRIMARY KEY,
			backend_conversation_id TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transcript_entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			correlation_id TEXT,
			direction TEXT NOT NULL,
			activity_type TEXT NOT NULL,
			text TEXT,
			activity TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_conversation ON transcript_entries(conversation_id, seq)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) SaveConversation(ctx context.Context, channelConversationID, backendConversationID string) error {
	if channelConversationID == "" || backendConversationID == "" {
		return fmt.Errorf("conversation ids must not be empty")
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO conversation_map (channel_conversation_id, backend_conversation_id, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(channel_conversation_id) DO UPDATE SET backend_conversation_id=excluded.backend_conversation_id, updated_at=excluded.updated_at;
	`, channelConversationID, backendConversationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

func (s *Store) BackendConversation(ctx context.Context, channelConversationID string) (string, error) {
	var backendID string
	err := s.db.QueryRowContext(ctx,
		`SELECT backend_conversation_id FROM conversation_map WHERE channel_conversation_id = ?`,
		channelConversationID).Scan(&backendID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("conversation %s: %w", channelConversationID, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get conversation: %w", err)
	}
	return backendID, nil
}

func (s *Store) AppendTranscript(ctx context.Context, entry *storage.TranscriptEntry) error {
	if entry == nil || entry.ConversationID == "" {
		return fmt.Errorf("transcript entry requires a conversation id")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `INSERT INTO transcript_entries
	          (id, conversation_id, correlation_id, direction, activity_type, text, activity, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.ConversationID, entry.CorrelationID, string(entry.Direction),
		entry.ActivityType, entry.Text, string(entry.Activity), entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert transcript entry: %w", err)
	}
	return nil
}

func (s *Store) Transcript(ctx context.Context, conversationID string, opts storage.ListOptions) ([]*storage.TranscriptEntry, error) {
	query := `SELECT id, conversation_id, correlation_id, direction, activity_type, text, activity, created_at
	          FROM transcript_entries WHERE conversation_id = ?
	          ORDER BY seq ASC
	          LIMIT ? OFFSET ?`

	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close()

	entries := []*storage.TranscriptEntry{}
	for rows.Next() {
		var (
			e                   storage.TranscriptEntry
			correlationID, text sql.NullString
			activity            sql.NullString
			direction           string
		)
		if err := rows.Scan(&e.ID, &e.ConversationID, &correlationID, &direction,
			&e.ActivityType, &text, &activity, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript entry: %w", err)
		}
		e.CorrelationID = correlationID.String
		e.Direction = storage.Direction(direction)
		e.Text = text.String
		if activity.String != "" {
			e.Activity = []byte(activity.String)
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
