package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/willvelida/m365-sdk-proxy/internal/correlation"
	"github.com/willvelida/m365-sdk-proxy/internal/domain"
	"github.com/willvelida/m365-sdk-proxy/internal/storage"
)

const persistTimeout = 5 * time.Second

// Recorder appends activities to a transcript store. Recording is best
// effort: failures are logged and never fail the request path.
type Recorder struct {
	store  storage.TranscriptStore
	logger *slog.Logger
}

// NewRecorder creates a recorder. A nil store disables recording.
func NewRecorder(store storage.TranscriptStore, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Record stores act under its channel conversation.
func (r *Recorder) Record(ctx context.Context, dir storage.Direction, act *domain.Activity) {
	if r == nil || r.store == nil || act == nil {
		return
	}
	convID := act.ConversationID()
	if convID == "" {
		return
	}

	// Decouple persistence from the request lifecycle so transcripts survive
	// client disconnects; still enforce a short timeout.
	persistCtx, cancel := buildPersistenceContext(ctx, persistTimeout)
	defer cancel()

	raw, err := json.Marshal(act)
	if err != nil {
		raw = nil
	}

	entry := &storage.TranscriptEntry{
		ID:             "tr_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		ConversationID: convID,
		CorrelationID:  correlation.ID(persistCtx),
		Direction:      dir,
		ActivityType:   string(act.Type),
		Text:           act.Text,
		Activity:       raw,
		CreatedAt:      time.Now(),
	}

	if err := r.store.AppendTranscript(persistCtx, entry); err != nil {
		r.logger.Error("failed to record transcript entry",
			slog.String("conversation_id", convID),
			slog.String("correlation_id", entry.CorrelationID),
			slog.String("direction", string(dir)),
			slog.String("error", err.Error()),
		)
	}
}

func buildPersistenceContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, timeout)
}
