package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/willvelida/m365-sdk-proxy/internal/correlation"
	"github.com/willvelida/m365-sdk-proxy/internal/domain"
)

// Stream yields reply activities from one backend call. The call is issued
// on the first Next. A Stream is single pass and not safe for concurrent use.
type Stream struct {
	g         *Gateway
	ctx       context.Context
	op        string
	channelID string
	open      func(context.Context) (ActivityReader, error)

	onConversation func(backendID string)

	started  bool
	finished bool
	err      error
	reader   ActivityReader
	release  func()
	span     trace.Span
	start    time.Time
	count    int
	skipped  int
	reported bool
}

func (g *Gateway) newStream(ctx context.Context, op, channelID string, open func(context.Context) (ActivityReader, error)) *Stream {
	return &Stream{g: g, ctx: ctx, op: op, channelID: channelID, open: open}
}

// Next returns the next non-null activity, or io.EOF once the backend has
// finished. After a failure Next keeps returning the same error.
func (s *Stream) Next() (*domain.Activity, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.finished {
		return nil, io.EOF
	}
	if !s.started {
		if err := s.begin(); err != nil {
			return nil, s.fail(err)
		}
	}

	for {
		act, err := s.reader.Next()
		if errors.Is(err, io.EOF) {
			s.reportConversation()
			s.finish(nil)
			return nil, io.EOF
		}
		if err != nil {
			return nil, s.fail(s.readError(err))
		}
		if act == nil {
			s.skipped++
			s.g.logger.Warn("skipping null activity from backend",
				slog.String("correlation_id", correlation.ID(s.ctx)),
				slog.String("operation", s.op),
			)
			continue
		}
		s.count++
		s.reportConversation()
		return act, nil
	}
}

// Close releases the backend response. It is safe to call more than once
// and before the stream is exhausted.
func (s *Stream) Close() error {
	if !s.started {
		s.started = true
		s.finished = true
		return nil
	}
	s.finish(nil)
	return nil
}

func (s *Stream) begin() error {
	s.started = true
	s.start = time.Now()

	s.ctx, s.span = s.g.tracer.Start(s.ctx, "conversation."+s.op,
		trace.WithAttributes(
			attribute.String("conversation.operation", s.op),
			attribute.String("conversation.channel_id", s.channelID),
		))

	s.g.logger.Info("backend call started",
		slog.String("correlation_id", correlation.ID(s.ctx)),
		slog.String("operation", s.op),
		slog.String("conversation_id", s.channelID),
	)

	var reader ActivityReader
	release, err := s.g.pipeline.Open(s.ctx, func(ctx context.Context) error {
		r, err := s.open(ctx)
		if err != nil {
			return backendError(ctx, s.op, err)
		}
		reader = r
		return nil
	})
	if err != nil {
		if s.cancelled(err) {
			return fmt.Errorf("%s cancelled: %w", s.op, s.ctx.Err())
		}
		return err
	}

	s.reader = reader
	s.release = release
	return nil
}

// readError classifies a failure while consuming the stream. An expired
// attempt deadline under a live caller context is a timeout; a cancelled
// caller context surfaces as that cancellation.
func (s *Stream) readError(err error) error {
	if _, ok := domain.AsError(err); ok {
		return err
	}
	if s.cancelled(err) {
		return fmt.Errorf("%s stream cancelled: %w", s.op, s.ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) && s.ctx.Err() == nil {
		return domain.NewTimeoutError(fmt.Sprintf("%s stream timed out", s.op)).
			WithCorrelationID(correlation.ID(s.ctx)).
			WithOperation(s.op).
			WithCause(err)
	}
	return backendError(s.ctx, s.op, err)
}

// fail records err, guaranteeing the surfaced error carries a domain
// classification unless the caller cancelled, and finishes the stream.
func (s *Stream) fail(err error) error {
	if _, ok := domain.AsError(err); !ok && !s.cancelled(err) {
		err = backendError(s.ctx, s.op, err)
	}
	s.err = err
	s.finish(err)
	return err
}

// cancelled reports whether err followed the caller abandoning the call.
func (s *Stream) cancelled(err error) bool {
	return err != nil && errors.Is(s.ctx.Err(), context.Canceled)
}

func (s *Stream) reportConversation() {
	if s.reported || s.onConversation == nil || s.reader == nil {
		return
	}
	if id := s.reader.ConversationID(); id != "" {
		s.reported = true
		s.onConversation(id)
	}
}

func (s *Stream) finish(err error) {
	if s.finished {
		return
	}
	s.finished = true

	if s.reader != nil {
		s.reader.Close()
	}
	if s.release != nil {
		s.release()
	}

	duration := time.Since(s.start)
	attrs := []any{
		slog.String("correlation_id", correlation.ID(s.ctx)),
		slog.String("operation", s.op),
		slog.String("conversation_id", s.channelID),
		slog.Int("activity_count", s.count),
		slog.Duration("duration", duration),
	}
	if s.skipped > 0 {
		attrs = append(attrs, slog.Int("skipped_count", s.skipped))
	}

	switch {
	case s.cancelled(err):
		s.g.logger.Debug("backend call cancelled", attrs...)
	case err != nil:
		attrs = append(attrs, slog.String("error", err.Error()))
		s.g.logger.Error("backend call failed", attrs...)
	default:
		s.g.logger.Info("backend call completed", attrs...)
	}

	if s.span != nil {
		s.span.SetAttributes(attribute.Int("conversation.activity_count", s.count))
		if err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
		}
		s.span.End()
	}
}
