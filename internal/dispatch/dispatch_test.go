package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willvelida/m365-sdk-proxy/internal/conversation"
	"github.com/willvelida/m365-sdk-proxy/internal/copilot"
	"github.com/willvelida/m365-sdk-proxy/internal/domain"
	"github.com/willvelida/m365-sdk-proxy/internal/resilience"
	"github.com/willvelida/m365-sdk-proxy/internal/storage"
	"github.com/willvelida/m365-sdk-proxy/internal/storage/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedReader struct {
	acts  []*domain.Activity
	pos   int
	reads int
}

func (r *scriptedReader) Next() (*domain.Activity, error) {
	r.reads++
	if r.pos >= len(r.acts) {
		return nil, io.EOF
	}
	act := r.acts[r.pos]
	r.pos++
	return act, nil
}

func (r *scriptedReader) ConversationID() string { return "" }
func (r *scriptedReader) Close() error           { return nil }

type scriptedBackend struct {
	mu      sync.Mutex
	starts  int
	asks    []*domain.Activity
	replies []*domain.Activity
	err     error
	reader  *scriptedReader
}

func (b *scriptedBackend) open() (conversation.ActivityReader, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.reader = &scriptedReader{acts: b.replies}
	return b.reader, nil
}

func (b *scriptedBackend) StartConversation(ctx context.Context, emit bool) (conversation.ActivityReader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	return b.open()
}

func (b *scriptedBackend) AskQuestion(ctx context.Context, conversationID string, act *domain.Activity) (conversation.ActivityReader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.asks = append(b.asks, act)
	return b.open()
}

type recordingChannel struct {
	sent   []*domain.Activity
	failAt int
	err    error
}

func (c *recordingChannel) SendActivity(ctx context.Context, act *domain.Activity) (*domain.ResourceResponse, error) {
	if c.err != nil && len(c.sent)+1 == c.failAt {
		return nil, c.err
	}
	c.sent = append(c.sent, act)
	return &domain.ResourceResponse{ID: act.ID}, nil
}

func newDispatcher(backend conversation.Backend, opts ...Option) *Dispatcher {
	reg := resilience.NewRegistry(
		resilience.WithLogger(quietLogger()),
		resilience.WithWait(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	gw := conversation.NewGateway(backend,
		conversation.WithLogger(quietLogger()),
		conversation.WithPipeline(reg.Backend()),
	)
	return New(gw, append([]Option{WithLogger(quietLogger())}, opts...)...)
}

func inbound(typ domain.ActivityType, text string) *domain.Activity {
	return &domain.Activity{
		Type:         typ,
		ID:           "act-1",
		Text:         text,
		ChannelID:    "msteams",
		ServiceURL:   "https://smba.example.com/",
		From:         &domain.ChannelAccount{ID: "user-1", Name: "User"},
		Recipient:    &domain.ChannelAccount{ID: "bot-1", Name: "Proxy"},
		Conversation: &domain.ConversationAccount{ID: "conv-1"},
	}
}

func reply(text string) *domain.Activity {
	return &domain.Activity{Type: domain.ActivityTypeMessage, Text: text}
}

func TestSelectFlow(t *testing.T) {
	joined := inbound(domain.ActivityTypeConversationUpdate, "")
	joined.MembersAdded = []domain.ChannelAccount{{ID: "bot-1"}, {ID: "user-1"}}

	selfOnly := inbound(domain.ActivityTypeConversationUpdate, "")
	selfOnly.MembersAdded = []domain.ChannelAccount{{ID: "bot-1"}}

	tests := []struct {
		name string
		act  *domain.Activity
		want Flow
	}{
		{"message", inbound(domain.ActivityTypeMessage, "hi"), FlowRegular},
		{"event", inbound(domain.ActivityTypeEvent, ""), FlowEvent},
		{"user joined", joined, FlowWelcome},
		{"only proxy joined", selfOnly, FlowNone},
		{"update without members", inbound(domain.ActivityTypeConversationUpdate, ""), FlowNone},
		{"typing", inbound(domain.ActivityTypeTyping, ""), FlowNone},
		{"unknown", inbound("somethingNew", ""), FlowNone},
		{"nil", nil, FlowNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectFlow(tt.act))
		})
	}
}

func TestDispatch_HelloHiThere(t *testing.T) {
	backend := &scriptedBackend{replies: []*domain.Activity{reply("Hi there")}}
	ch := &recordingChannel{}
	d := newDispatcher(backend)

	err := d.Dispatch(context.Background(), inbound(domain.ActivityTypeMessage, "Hello"), ch)
	require.NoError(t, err)

	require.Len(t, ch.sent, 1)
	out := ch.sent[0]
	assert.Equal(t, "Hi there", out.Text)
	assert.Equal(t, "bot-1", out.FromID())
	assert.Equal(t, "user-1", out.RecipientID())
	assert.Equal(t, "conv-1", out.ConversationID())
	assert.Equal(t, "act-1", out.ReplyToID)

	require.Len(t, backend.asks, 1)
	assert.Equal(t, "Hello", backend.asks[0].Text)
	assert.Equal(t, 0, backend.starts)
}

func TestDispatch_SendsEachActivityInOrder(t *testing.T) {
	backend := &scriptedBackend{replies: []*domain.Activity{
		reply("one"), nil, reply("two"), reply("three"), nil,
	}}
	ch := &recordingChannel{}
	d := newDispatcher(backend)

	require.NoError(t, d.Dispatch(context.Background(), inbound(domain.ActivityTypeMessage, "Hello"), ch))

	var texts []string
	for _, a := range ch.sent {
		texts = append(texts, a.Text)
	}
	assert.Equal(t, []string{"one", "two", "three"}, texts)
}

func TestDispatch_SendFailureStopsConsumption(t *testing.T) {
	sendErr := errors.New("channel unavailable")
	backend := &scriptedBackend{replies: []*domain.Activity{reply("one"), reply("two"), reply("three")}}
	ch := &recordingChannel{failAt: 1, err: sendErr}
	d := newDispatcher(backend)

	err := d.Dispatch(context.Background(), inbound(domain.ActivityTypeMessage, "Hello"), ch)
	require.Error(t, err)
	assert.ErrorIs(t, err, sendErr)

	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindBackendCommunication, de.Kind)
	assert.Equal(t, OpProcessMessage, de.Operation)

	assert.Empty(t, ch.sent)
	assert.Equal(t, 1, backend.reader.reads, "no further activities are requested after a failed send")
}

type cancellingChannel struct {
	cancel context.CancelFunc
	sent   []*domain.Activity
}

func (c *cancellingChannel) SendActivity(ctx context.Context, act *domain.Activity) (*domain.ResourceResponse, error) {
	c.sent = append(c.sent, act)
	c.cancel()
	return &domain.ResourceResponse{ID: act.ID}, nil
}

func TestDispatch_CancellationStopsSends(t *testing.T) {
	backend := &scriptedBackend{replies: []*domain.Activity{reply("one"), reply("two"), reply("three")}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := &cancellingChannel{cancel: cancel}
	d := newDispatcher(backend)

	err := d.Dispatch(ctx, inbound(domain.ActivityTypeMessage, "Hello"), ch)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	_, isDomain := domain.AsError(err)
	assert.False(t, isDomain, "a caller cancellation is not a backend failure")

	require.Len(t, ch.sent, 1, "nothing is sent after cancellation")
	assert.Equal(t, "one", ch.sent[0].Text)
	assert.Equal(t, 1, backend.reader.reads)
	assert.Len(t, backend.asks, 1)
}

func TestDispatch_WelcomeFlow(t *testing.T) {
	backend := &scriptedBackend{replies: []*domain.Activity{reply("Welcome!")}}
	ch := &recordingChannel{}
	d := newDispatcher(backend)

	act := inbound(domain.ActivityTypeConversationUpdate, "")
	act.MembersAdded = []domain.ChannelAccount{{ID: "bot-1"}, {ID: "user-1", Name: "User"}}

	require.NoError(t, d.Dispatch(context.Background(), act, ch))
	assert.Equal(t, 1, backend.starts)
	assert.Empty(t, backend.asks)
	require.Len(t, ch.sent, 1)
	assert.Equal(t, "Welcome!", ch.sent[0].Text)
	assert.Equal(t, "user-1", ch.sent[0].RecipientID())
}

func TestDispatch_ProxyJoiningSendsNothing(t *testing.T) {
	backend := &scriptedBackend{replies: []*domain.Activity{reply("Welcome!")}}
	ch := &recordingChannel{}
	d := newDispatcher(backend)

	act := inbound(domain.ActivityTypeConversationUpdate, "")
	act.MembersAdded = []domain.ChannelAccount{{ID: "bot-1"}}

	require.NoError(t, d.Dispatch(context.Background(), act, ch))
	assert.Equal(t, 0, backend.starts)
	assert.Empty(t, ch.sent)
}

func TestDispatch_EventFlow(t *testing.T) {
	backend := &scriptedBackend{replies: []*domain.Activity{reply("event handled")}}
	ch := &recordingChannel{}
	d := newDispatcher(backend)

	act := inbound(domain.ActivityTypeEvent, "")
	act.Name = "startTimer"

	require.NoError(t, d.Dispatch(context.Background(), act, ch))
	require.Len(t, backend.asks, 1)
	assert.Equal(t, "startTimer", backend.asks[0].Name)
	require.Len(t, ch.sent, 1)
}

func TestDispatch_UnknownTypeIsIgnored(t *testing.T) {
	backend := &scriptedBackend{}
	ch := &recordingChannel{}
	d := newDispatcher(backend)

	require.NoError(t, d.Dispatch(context.Background(), inbound(domain.ActivityTypeTyping, ""), ch))
	assert.Equal(t, 0, backend.starts)
	assert.Empty(t, backend.asks)
	assert.Empty(t, ch.sent)
}

func TestDispatch_DomainErrorsPropagateUntouched(t *testing.T) {
	backend := &scriptedBackend{err: &copilot.APIError{StatusCode: http.StatusBadGateway}}
	d := newDispatcher(backend)

	err := d.Dispatch(context.Background(), inbound(domain.ActivityTypeMessage, "Hello"), &recordingChannel{})
	require.Error(t, err)

	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindBackendCommunication, de.Kind)
	assert.Equal(t, conversation.OpAskQuestion, de.Operation, "the gateway's classification is kept")
	assert.Equal(t, http.StatusBadGateway, de.StatusCode)
	assert.Len(t, backend.asks, 3)
}

func TestDispatch_RecordsTranscript(t *testing.T) {
	store := memory.New()
	backend := &scriptedBackend{replies: []*domain.Activity{reply("Hi there")}}
	d := newDispatcher(backend, WithRecorder(conversation.NewRecorder(store, quietLogger())))

	require.NoError(t, d.Dispatch(context.Background(), inbound(domain.ActivityTypeMessage, "Hello"), &recordingChannel{}))

	entries, err := store.Transcript(context.Background(), "conv-1", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, storage.DirectionInbound, entries[0].Direction)
	assert.Equal(t, "Hello", entries[0].Text)
	assert.Equal(t, storage.DirectionOutbound, entries[1].Direction)
	assert.Equal(t, "Hi there", entries[1].Text)
}
