package conversation

import (
	"context"

	"github.com/willvelida/m365-sdk-proxy/internal/copilot"
	"github.com/willvelida/m365-sdk-proxy/internal/domain"
)

// ActivityReader is a single-pass source of backend activities.
// Next returns (nil, nil) for a null activity and io.EOF at the end.
type ActivityReader interface {
	Next() (*domain.Activity, error)
	ConversationID() string
	Close() error
}

// Backend opens activity streams on the conversational backend.
type Backend interface {
	StartConversation(ctx context.Context, emitStartConversationEvent bool) (ActivityReader, error)
	AskQuestion(ctx context.Context, conversationID string, act *domain.Activity) (ActivityReader, error)
}

// CopilotBackend adapts a Copilot Studio client to Backend.
type CopilotBackend struct {
	Client *copilot.Client
}

func (b CopilotBackend) StartConversation(ctx context.Context, emit bool) (ActivityReader, error) {
	s, err := b.Client.StartConversation(ctx, emit)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b CopilotBackend) AskQuestion(ctx context.Context, conversationID string, act *domain.Activity) (ActivityReader, error) {
	s, err := b.Client.AskQuestion(ctx, conversationID, act)
	if err != nil {
		return nil, err
	}
	return s, nil
}
