package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/willvelida/m365-sdk-proxy/internal/correlation"
	"github.com/willvelida/m365-sdk-proxy/internal/domain"
	"github.com/willvelida/m365-sdk-proxy/internal/resilience"
)

// BotFrameworkScope is the client-credentials scope for connector calls.
const BotFrameworkScope = "https://api.botframework.com/.default"

const maxErrorBody = 4096

// SendError is returned when the connector answers with a non-2xx status.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("connector returned status %d: %s", e.StatusCode, e.Body)
}

// Connector posts activities to {serviceUrl}/v3/conversations/{id}/activities.
// Authentication and tracing are attached by the HTTP client's transport.
type Connector struct {
	client   *http.Client
	pipeline *resilience.Pipeline
	logger   *slog.Logger
}

// NewConnector creates a connector. Calls run under pipeline, normally the
// transport pipeline.
func NewConnector(client *http.Client, pipeline *resilience.Pipeline, logger *slog.Logger) *Connector {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{client: client, pipeline: pipeline, logger: logger}
}

func (c *Connector) SendActivity(ctx context.Context, act *domain.Activity) (*domain.ResourceResponse, error) {
	endpoint, err := activitiesURL(act)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(act)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal activity: %w", err)
	}

	var result domain.ResourceResponse
	send := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(correlation.HeaderName, correlation.ID(ctx))

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return &SendError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		}

		// Some channels answer 200/201 with an empty body
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil && err != io.EOF {
			return fmt.Errorf("failed to decode resource response: %w", err)
		}
		return nil
	}

	if c.pipeline != nil {
		err = c.pipeline.Execute(ctx, send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		c.logger.Warn("connector send failed",
			slog.String("correlation_id", correlation.ID(ctx)),
			slog.String("conversation_id", act.ConversationID()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return &result, nil
}

func activitiesURL(act *domain.Activity) (string, error) {
	if act == nil {
		return "", domain.NewValidationError("Activity is required")
	}
	var missing []string
	if act.ServiceURL == "" {
		missing = append(missing, "serviceUrl is required")
	}
	if act.ConversationID() == "" {
		missing = append(missing, "conversation.id is required")
	}
	if len(missing) > 0 {
		return "", domain.NewValidationError("Activity cannot be delivered to the channel", missing...)
	}

	base, err := url.Parse(act.ServiceURL)
	if err != nil || (base.Scheme != "https" && base.Scheme != "http") || base.Host == "" {
		return "", domain.NewValidationError("Activity cannot be delivered to the channel", "serviceUrl must be an absolute http(s) URL")
	}

	u := strings.TrimSuffix(act.ServiceURL, "/") + "/v3/conversations/" + url.PathEscape(act.ConversationID()) + "/activities"
	if act.ReplyToID != "" {
		u += "/" + url.PathEscape(act.ReplyToID)
	}
	return u, nil
}
