package copilot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/willvelida/m365-sdk-proxy/internal/domain"
)

// Stream reads activities from a server-sent event response. It is single
// pass and not safe for concurrent use.
type Stream struct {
	body           io.ReadCloser
	scanner        *bufio.Scanner
	conversationID string
	event          string
	done           bool
}

func newStream(body io.ReadCloser, conversationID string) *Stream {
	scanner := bufio.NewScanner(body)
	// Increase buffer size for adaptive cards and other large activities
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)

	return &Stream{
		body:           body,
		scanner:        scanner,
		conversationID: conversationID,
	}
}

// ConversationID returns the backend conversation id from the response
// header, or from the first activity that carried one.
func (s *Stream) ConversationID() string {
	return s.conversationID
}

// Next returns the next activity. A null activity in the stream is returned
// as (nil, nil). At the end of the stream Next returns io.EOF.
func (s *Stream) Next() (*domain.Activity, error) {
	if s.done {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			s.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			if s.event == "end" {
				s.done = true
				return nil, io.EOF
			}
			continue
		}

		if !strings.HasPrefix(line, "data:") {
			continue
		}
		if s.event != "" && s.event != "activity" {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "null" {
			return nil, nil
		}

		var act *domain.Activity
		if err := json.Unmarshal([]byte(data), &act); err != nil {
			return nil, fmt.Errorf("failed to decode activity: %w", err)
		}
		if act != nil && s.conversationID == "" {
			s.conversationID = act.ConversationID()
		}
		return act, nil
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read error: %w", err)
	}
	return nil, io.EOF
}

// Close releases the response body.
func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}
