// Package channel delivers outbound activities to the chat surface, either
// buffered into the HTTP response or posted to the channel's connector.
package channel

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/willvelida/m365-sdk-proxy/internal/domain"
)

// ExpectedReplies is the response body for expectReplies delivery.
type ExpectedReplies struct {
	Activities []*domain.Activity `json:"activities"`
}

// ReplyCollector buffers activities so they can be returned in the response
// to the inbound request.
type ReplyCollector struct {
	mu         sync.Mutex
	activities []*domain.Activity
}

// NewReplyCollector returns an empty collector.
func NewReplyCollector() *ReplyCollector {
	return &ReplyCollector{}
}

// SendActivity buffers a copy of act, assigning an id when it has none.
func (c *ReplyCollector) SendActivity(ctx context.Context, act *domain.Activity) (*domain.ResourceResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := *act
	if out.ID == "" {
		out.ID = uuid.NewString()
	}

	c.mu.Lock()
	c.activities = append(c.activities, &out)
	c.mu.Unlock()

	return &domain.ResourceResponse{ID: out.ID}, nil
}

// Replies returns the buffered activities in send order.
func (c *ReplyCollector) Replies() ExpectedReplies {
	c.mu.Lock()
	defer c.mu.Unlock()

	acts := make([]*domain.Activity, len(c.activities))
	copy(acts, c.activities)
	return ExpectedReplies{Activities: acts}
}
