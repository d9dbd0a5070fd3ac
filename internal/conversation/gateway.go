// Package conversation relays activities to the conversational backend.
// Every backend call runs under the backend resilience pipeline and yields
// a lazy Stream of reply activities.
package conversation

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/willvelida/m365-sdk-proxy/internal/copilot"
	"github.com/willvelida/m365-sdk-proxy/internal/correlation"
	"github.com/willvelida/m365-sdk-proxy/internal/domain"
	"github.com/willvelida/m365-sdk-proxy/internal/resilience"
	"github.com/willvelida/m365-sdk-proxy/internal/storage"
)

// Operation names attached to backend errors.
const (
	OpStartConversation = "StartConversation"
	OpAskQuestion       = "AskQuestion"
)

// Option configures a Gateway.
type Option func(*Gateway)

// WithPipeline runs backend calls under p instead of a fresh backend pipeline.
func WithPipeline(p *resilience.Pipeline) Option {
	return func(g *Gateway) {
		g.pipeline = p
	}
}

// WithConversationStore records channel to backend conversation ids.
func WithConversationStore(store storage.ConversationStore) Option {
	return func(g *Gateway) {
		g.store = store
	}
}

// WithLogger sets the logger for backend call events.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithTracer sets the tracer for backend call spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = tracer
	}
}

// Gateway opens backend conversations and forwards user activities.
type Gateway struct {
	backend  Backend
	pipeline *resilience.Pipeline
	store    storage.ConversationStore
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewGateway creates a gateway over backend.
func NewGateway(backend Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backend: backend,
		logger:  slog.Default(),
		tracer:  otel.Tracer("github.com/willvelida/m365-sdk-proxy/internal/conversation"),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.pipeline == nil {
		g.pipeline = resilience.NewRegistry(resilience.WithLogger(g.logger)).Backend()
	}
	return g
}

// StartConversation opens a backend conversation for ref and streams the
// agent's greeting activities. The backend conversation id is recorded
// against the channel conversation once the backend reports it.
func (g *Gateway) StartConversation(ctx context.Context, ref domain.ConversationReference) *Stream {
	channelID := ref.Conversation.ID
	s := g.newStream(ctx, OpStartConversation, channelID, func(ctx context.Context) (ActivityReader, error) {
		return g.backend.StartConversation(ctx, true)
	})
	s.onConversation = func(backendID string) {
		g.remember(ctx, channelID, backendID)
	}
	return s
}

// SendMessage forwards act into the backend conversation mapped to its
// channel conversation, falling back to the channel conversation id.
func (g *Gateway) SendMessage(ctx context.Context, act *domain.Activity) *Stream {
	channelID := act.ConversationID()
	return g.newStream(ctx, OpAskQuestion, channelID, func(ctx context.Context) (ActivityReader, error) {
		backendID := g.resolve(ctx, channelID)
		out := *act
		if out.Conversation != nil {
			conv := *out.Conversation
			conv.ID = backendID
			out.Conversation = &conv
		}
		return g.backend.AskQuestion(ctx, backendID, &out)
	})
}

func (g *Gateway) resolve(ctx context.Context, channelID string) string {
	if g.store == nil || channelID == "" {
		return channelID
	}
	backendID, err := g.store.BackendConversation(ctx, channelID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			g.logger.Warn("conversation lookup failed",
				slog.String("correlation_id", correlation.ID(ctx)),
				slog.String("conversation_id", channelID),
				slog.String("error", err.Error()),
			)
		}
		return channelID
	}
	return backendID
}

func (g *Gateway) remember(ctx context.Context, channelID, backendID string) {
	if g.store == nil || channelID == "" || backendID == "" {
		return
	}
	if err := g.store.SaveConversation(ctx, channelID, backendID); err != nil {
		g.logger.Warn("failed to record conversation mapping",
			slog.String("correlation_id", correlation.ID(ctx)),
			slog.String("conversation_id", channelID),
			slog.String("backend_conversation_id", backendID),
			slog.String("error", err.Error()),
		)
	}
}

// backendError classifies err as a BackendCommunication failure of op.
// Errors that already carry a domain classification pass through.
func backendError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsError(err); ok {
		return err
	}
	de := domain.NewBackendError("Failed to communicate with Copilot Studio", op).
		WithCorrelationID(correlation.ID(ctx)).
		WithCause(err)
	var apiErr *copilot.APIError
	if errors.As(err, &apiErr) {
		de = de.WithStatusCode(apiErr.StatusCode)
	}
	return de
}
