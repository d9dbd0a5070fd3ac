package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "kind and message",
			err:      NewValidationError("text is required"),
			expected: "validation: text is required",
		},
		{
			name:     "with operation",
			err:      NewBackendError("stream failed", "AskQuestion"),
			expected: "backend_communication (AskQuestion): stream failed",
		},
		{
			name:     "with cause",
			err:      NewTimeoutError("timed out").WithCause(context.DeadlineExceeded),
			expected: "timeout: timed out: context deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_UnwrapAndAs(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("wrapped: %w", NewBackendError("send failed", "AskQuestion").WithCause(cause).WithStatusCode(503))

	de, ok := AsError(err)
	if !ok {
		t.Fatal("AsError() = false, want true")
	}
	if de.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", de.StatusCode)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if !IsKind(err, KindBackendCommunication) {
		t.Error("IsKind(backend) = false, want true")
	}
	if IsKind(err, KindTimeout) {
		t.Error("IsKind(timeout) = true, want false")
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := NewTimeoutError("backend pipeline timed out after 45s")

	if !errors.Is(err, &Error{Kind: KindTimeout}) {
		t.Error("errors.Is with kind-only target = false, want true")
	}
	if errors.Is(err, &Error{Kind: KindValidation}) {
		t.Error("errors.Is with other kind = true, want false")
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	kind, ok := KindOf(errors.New("boom"))
	if ok {
		t.Error("KindOf() ok = true, want false")
	}
	if kind != KindGeneric {
		t.Errorf("KindOf() = %v, want %v", kind, KindGeneric)
	}
}

func TestNewAuthenticationError_TenantContext(t *testing.T) {
	err := NewAuthenticationError("token request failed", "tenant-1")

	if got := err.Context["TenantId"]; got != "tenant-1" {
		t.Errorf("Context[TenantId] = %v, want tenant-1", got)
	}

	copied := err.ContextCopy()
	copied["TenantId"] = "changed"
	if err.Context["TenantId"] != "tenant-1" {
		t.Error("ContextCopy() shares the underlying map")
	}
}

func TestActivity_ApplyReference(t *testing.T) {
	inbound := &Activity{
		Type:         ActivityTypeMessage,
		ID:           "act-1",
		ChannelID:    "msteams",
		ServiceURL:   "https://smba.example.com/",
		From:         &ChannelAccount{ID: "user-1"},
		Recipient:    &ChannelAccount{ID: "bot-1"},
		Conversation: &ConversationAccount{ID: "conv-1"},
	}

	reply := Activity{Type: ActivityTypeMessage, Text: "Hi there"}.ApplyReference(inbound.Reference())

	if reply.FromID() != "bot-1" || reply.RecipientID() != "user-1" {
		t.Errorf("reply from/recipient = %q/%q, want bot-1/user-1", reply.FromID(), reply.RecipientID())
	}
	if reply.ConversationID() != "conv-1" {
		t.Errorf("ConversationID() = %q, want conv-1", reply.ConversationID())
	}
	if reply.ReplyToID != "act-1" {
		t.Errorf("ReplyToID = %q, want act-1", reply.ReplyToID)
	}
	if reply.Text != "Hi there" {
		t.Errorf("Text = %q, want %q", reply.Text, "Hi there")
	}
}
