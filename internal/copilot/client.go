// Package copilot is an HTTP client for the Copilot Studio conversation API.
// Both operations stream activities back as server-sent events.
package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/willvelida/m365-sdk-proxy/internal/domain"
)

const (
	defaultAPIVersion = "2022-03-01-preview"
	userAgent         = "m365-sdk-proxy/1.0"

	// ConversationIDHeader carries the backend conversation id on responses.
	ConversationIDHeader = "x-ms-conversationid"

	maxErrorBody = 4096
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. The client's transport is where
// authentication and tracing are attached.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIVersion sets the api-version query parameter.
func WithAPIVersion(version string) ClientOption {
	return func(c *Client) {
		if version != "" {
			c.apiVersion = version
		}
	}
}

// Client talks to one Copilot Studio agent.
type Client struct {
	baseURL    string
	apiVersion string
	httpClient *http.Client
}

// NewClient creates a client for the agent at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiVersion: defaultAPIVersion,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("copilot API error (status %d): %s", e.StatusCode, e.Body)
}

type startConversationRequest struct {
	EmitStartConversationEvent bool `json:"emitStartConversationEvent"`
}

type executeTurnRequest struct {
	Activity *domain.Activity `json:"activity"`
}

// StartConversation opens a new backend conversation. When
// emitStartConversationEvent is set the agent sends its greeting activities.
func (c *Client) StartConversation(ctx context.Context, emitStartConversationEvent bool) (*Stream, error) {
	return c.post(ctx, c.endpoint(""), startConversationRequest{
		EmitStartConversationEvent: emitStartConversationEvent,
	})
}

// AskQuestion sends act into an existing backend conversation.
func (c *Client) AskQuestion(ctx context.Context, conversationID string, act *domain.Activity) (*Stream, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	return c.post(ctx, c.endpoint(conversationID), executeTurnRequest{Activity: act})
}

func (c *Client) endpoint(conversationID string) string {
	u := c.baseURL + "/conversations"
	if conversationID != "" {
		u += "/" + url.PathEscape(conversationID)
	}
	return u + "?api-version=" + url.QueryEscape(c.apiVersion)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) (*Stream, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	return newStream(resp.Body, resp.Header.Get(ConversationIDHeader)), nil
}
