package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/willvelida/m365-sdk-proxy/internal/channel"
	"github.com/willvelida/m365-sdk-proxy/internal/codec"
	"github.com/willvelida/m365-sdk-proxy/internal/correlation"
	"github.com/willvelida/m365-sdk-proxy/internal/dispatch"
	"github.com/willvelida/m365-sdk-proxy/internal/domain"
	"github.com/willvelida/m365-sdk-proxy/internal/resilience"
	"github.com/willvelida/m365-sdk-proxy/internal/storage"
)

// maxActivityBytes bounds an inbound activity document.
const maxActivityBytes = 1 << 20

const (
	maxTranscriptLimit     = 500
	defaultTranscriptLimit = 100
)

// RootMessage is the body of GET /.
const RootMessage = "M365 Agent Proxy"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Breakers  map[string]string `json:"breakers"`
	Timestamp string            `json:"timestamp"`
}

// TranscriptResponse is the body of GET /api/conversations/{id}/transcript.
type TranscriptResponse struct {
	ConversationID string                     `json:"conversationId"`
	Entries        []*storage.TranscriptEntry `json:"entries"`
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithConnector delivers replies through the channel connector unless the
// inbound activity asks for expectReplies.
func WithConnector(c dispatch.Channel) HandlerOption {
	return func(h *Handler) {
		h.connector = c
	}
}

// WithTranscripts enables the transcript route.
func WithTranscripts(store storage.TranscriptStore) HandlerOption {
	return func(h *Handler) {
		h.transcripts = store
	}
}

// WithRegistry reports the registry's breaker states on /health.
func WithRegistry(reg *resilience.Registry) HandlerOption {
	return func(h *Handler) {
		h.registry = reg
	}
}

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithNow sets the clock used for error and health timestamps.
func WithNow(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = now
	}
}

// Handler serves the proxy's routes.
type Handler struct {
	dispatcher  *dispatch.Dispatcher
	connector   dispatch.Channel
	transcripts storage.TranscriptStore
	registry    *resilience.Registry
	logger      *slog.Logger
	now         func() time.Time
}

// NewHandler creates a handler that relays activities through dispatcher.
func NewHandler(dispatcher *dispatch.Dispatcher, opts ...HandlerOption) *Handler {
	h := &Handler{
		dispatcher: dispatcher,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mount registers the routes. guard wraps the /api routes.
func (h *Handler) Mount(r chi.Router, guard func(http.Handler) http.Handler) {
	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(guard)
		r.Post("/messages", h.handleMessages)
		r.Get("/conversations/{id}/transcript", h.handleTranscript)
	})
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, RootMessage)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Breakers:  map[string]string{},
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	if h.registry != nil {
		for name, state := range h.registry.States() {
			resp.Breakers[name] = state.String()
			if state != resilience.StateClosed {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	act, err := decodeActivity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	AddLogField(ctx, "activity_type", string(act.Type))
	AddLogField(ctx, "conversation_id", act.ConversationID())

	if h.connector != nil && act.DeliveryMode != domain.DeliveryModeExpectReplies {
		if err := h.dispatcher.Dispatch(ctx, act, h.connector); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	collector := channel.NewReplyCollector()
	if err := h.dispatcher.Dispatch(ctx, act, collector); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collector.Replies())
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if h.transcripts == nil {
		http.NotFound(w, r)
		return
	}

	id := chi.URLParam(r, "id")
	opts, err := listOptions(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entries, err := h.transcripts.Transcript(r.Context(), id, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*storage.TranscriptEntry{}
	}
	writeJSON(w, http.StatusOK, TranscriptResponse{ConversationID: id, Entries: entries})
}

func decodeActivity(r *http.Request) (*domain.Activity, error) {
	var act domain.Activity
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxActivityBytes))
	if err := dec.Decode(&act); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.NewValidationError("Invalid activity payload", "request body exceeds 1 MiB").WithCause(err)
		}
		return nil, domain.NewValidationError("Invalid activity payload", "request body must be a JSON activity").WithCause(err)
	}
	if act.Type == "" {
		return nil, domain.NewValidationError("Invalid activity payload", "type is required")
	}
	return &act, nil
}

func listOptions(r *http.Request) (storage.ListOptions, error) {
	opts := storage.ListOptions{Limit: defaultTranscriptLimit}
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTranscriptLimit {
			return opts, domain.NewValidationError("Invalid transcript query", "limit must be between 1 and 500")
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, domain.NewValidationError("Invalid transcript query", "offset must be a non-negative integer")
		}
		opts.Offset = n
	}
	return opts, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	codec.WriteError(w, codec.TranslateError(err, correlation.ID(r.Context()), h.now()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
