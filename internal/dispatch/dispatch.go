// Package dispatch routes inbound activities to exactly one handling flow
// and relays the backend's replies to the channel in order.
package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/willvelida/m365-sdk-proxy/internal/conversation"
	"github.com/willvelida/m365-sdk-proxy/internal/correlation"
	"github.com/willvelida/m365-sdk-proxy/internal/domain"
	"github.com/willvelida/m365-sdk-proxy/internal/storage"
)

// Flow identifies the handler selected for an activity.
type Flow int

const (
	FlowNone Flow = iota
	FlowWelcome
	FlowRegular
	FlowEvent
)

func (f Flow) String() string {
	switch f {
	case FlowWelcome:
		return "welcome"
	case FlowRegular:
		return "regular"
	case FlowEvent:
		return "event"
	default:
		return "none"
	}
}

// Operation names attached to errors raised by each flow.
const (
	OpWelcomeMessage = "WelcomeMessage"
	OpProcessMessage = "ProcessMessage"
	OpProcessEvent   = "ProcessEvent"
)

// Channel delivers outbound activities to the chat surface.
type Channel interface {
	SendActivity(ctx context.Context, act *domain.Activity) (*domain.ResourceResponse, error)
}

// SelectFlow picks the flow for act. A membership update only triggers the
// welcome flow when someone other than the proxy itself joined.
func SelectFlow(act *domain.Activity) Flow {
	if act == nil {
		return FlowNone
	}
	switch act.Type {
	case domain.ActivityTypeConversationUpdate:
		if len(newMembers(act)) > 0 {
			return FlowWelcome
		}
		return FlowNone
	case domain.ActivityTypeMessage:
		return FlowRegular
	case domain.ActivityTypeEvent:
		return FlowEvent
	default:
		return FlowNone
	}
}

func newMembers(act *domain.Activity) []domain.ChannelAccount {
	self := act.RecipientID()
	var members []domain.ChannelAccount
	for _, m := range act.MembersAdded {
		if m.ID != self {
			members = append(members, m)
		}
	}
	return members
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder records inbound and outbound activities to a transcript.
func WithRecorder(r *conversation.Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// Dispatcher runs the selected flow for each inbound activity.
type Dispatcher struct {
	gateway  *conversation.Gateway
	recorder *conversation.Recorder
	logger   *slog.Logger
}

// New creates a dispatcher over gateway.
func New(gateway *conversation.Gateway, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		gateway: gateway,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch handles act and sends every reply to ch before returning.
// Activities without a flow are ignored without error.
func (d *Dispatcher) Dispatch(ctx context.Context, act *domain.Activity, ch Channel) error {
	flow := SelectFlow(act)
	start := time.Now()

	d.recorder.Record(ctx, storage.DirectionInbound, act)

	logger := d.logger.With(
		slog.String("correlation_id", correlation.ID(ctx)),
		slog.String("flow", flow.String()),
	)
	if act != nil {
		logger = logger.With(
			slog.String("activity_type", string(act.Type)),
			slog.String("conversation_id", act.ConversationID()),
		)
	}

	var (
		sent int
		err  error
	)
	switch flow {
	case FlowWelcome:
		sent, err = d.welcome(ctx, act, ch)
		err = flowError(ctx, OpWelcomeMessage, "Failed to send welcome message", err)
	case FlowRegular:
		sent, err = d.relay(ctx, d.gateway.SendMessage(ctx, act), act.Reference(), ch)
		err = flowError(ctx, OpProcessMessage, "Failed to process message", err)
	case FlowEvent:
		logger.Info("processing event", slog.String("event_name", act.Name))
		sent, err = d.relay(ctx, d.gateway.SendMessage(ctx, act), act.Reference(), ch)
		err = flowError(ctx, OpProcessEvent, "Failed to process event", err)
	default:
		logger.Debug("no flow for activity")
		return nil
	}

	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		logger.Debug("dispatch cancelled",
			slog.Int("sent_count", sent),
			slog.Duration("duration", time.Since(start)),
		)
		return err
	}
	if err != nil {
		logger.Error("dispatch failed",
			slog.Int("sent_count", sent),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return err
	}

	logger.Info("dispatch completed",
		slog.Int("sent_count", sent),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (d *Dispatcher) welcome(ctx context.Context, act *domain.Activity, ch Channel) (int, error) {
	total := 0
	for _, member := range newMembers(act) {
		ref := act.Reference()
		ref.User = member
		n, err := d.relay(ctx, d.gateway.StartConversation(ctx, ref), ref, ch)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// relay drains stream to ch. Each reply is sent before the next one is
// requested, and a send failure or cancellation stops consumption.
func (d *Dispatcher) relay(ctx context.Context, stream *conversation.Stream, ref domain.ConversationReference, ch Channel) (int, error) {
	defer stream.Close()

	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		reply, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}

		out := reply.ApplyReference(ref)
		if _, err := ch.SendActivity(ctx, out); err != nil {
			return sent, err
		}
		sent++
		d.recorder.Record(ctx, storage.DirectionOutbound, out)
	}
}

// flowError leaves domain errors and caller cancellation untouched and
// classifies anything else as a backend communication failure of op.
func flowError(ctx context.Context, op, message string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := domain.AsError(err); ok {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return err
	}
	return domain.NewBackendError(message, op).
		WithCorrelationID(correlation.ID(ctx)).
		WithCause(err)
}
