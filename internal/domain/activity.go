package domain

import (
	"encoding/json"
	"time"
)

// ActivityType identifies the kind of an activity.
type ActivityType string

const (
	ActivityTypeMessage            ActivityType = "message"
	ActivityTypeConversationUpdate ActivityType = "conversationUpdate"
	ActivityTypeEvent              ActivityType = "event"
	ActivityTypeTyping             ActivityType = "typing"
	ActivityTypeEndOfConversation  ActivityType = "endOfConversation"
	ActivityTypeInvoke             ActivityType = "invoke"
)

// DeliveryModeExpectReplies asks the proxy to return replies in the HTTP
// response body instead of posting them back to the channel.
const DeliveryModeExpectReplies = "expectReplies"

// ChannelAccount identifies a participant in a conversation.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// ConversationAccount identifies a conversation on a channel.
type ConversationAccount struct {
	ID               string `json:"id"`
	Name             string `json:"name,omitempty"`
	ConversationType string `json:"conversationType,omitempty"`
	TenantID         string `json:"tenantId,omitempty"`
	IsGroup          bool   `json:"isGroup,omitempty"`
}

// ConversationReference points at a conversation so replies can be routed.
type ConversationReference struct {
	ActivityID   string              `json:"activityId,omitempty"`
	User         ChannelAccount      `json:"user"`
	Bot          ChannelAccount      `json:"bot"`
	Conversation ConversationAccount `json:"conversation"`
	ChannelID    string              `json:"channelId,omitempty"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
	Locale       string              `json:"locale,omitempty"`
}

// Attachment is a piece of rich content on an activity.
type Attachment struct {
	ContentType string          `json:"contentType"`
	ContentURL  string          `json:"contentUrl,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Name        string          `json:"name,omitempty"`
}

// CardAction is a clickable action offered to the user.
type CardAction struct {
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
	Value any    `json:"value,omitempty"`
}

// SuggestedActions are quick replies shown with a message.
type SuggestedActions struct {
	To      []string     `json:"to,omitempty"`
	Actions []CardAction `json:"actions"`
}

// Activity is one unit of conversational content exchanged between the
// channel and the backend. Activities are treated as immutable once built.
type Activity struct {
	Type             ActivityType         `json:"type"`
	ID               string               `json:"id,omitempty"`
	Timestamp        *time.Time           `json:"timestamp,omitempty"`
	ChannelID        string               `json:"channelId,omitempty"`
	ServiceURL       string               `json:"serviceUrl,omitempty"`
	From             *ChannelAccount      `json:"from,omitempty"`
	Recipient        *ChannelAccount      `json:"recipient,omitempty"`
	Conversation     *ConversationAccount `json:"conversation,omitempty"`
	MembersAdded     []ChannelAccount     `json:"membersAdded,omitempty"`
	MembersRemoved   []ChannelAccount     `json:"membersRemoved,omitempty"`
	Text             string               `json:"text,omitempty"`
	TextFormat       string               `json:"textFormat,omitempty"`
	Speak            string               `json:"speak,omitempty"`
	InputHint        string               `json:"inputHint,omitempty"`
	Name             string               `json:"name,omitempty"`
	Value            json.RawMessage      `json:"value,omitempty"`
	ReplyToID        string               `json:"replyToId,omitempty"`
	DeliveryMode     string               `json:"deliveryMode,omitempty"`
	Locale           string               `json:"locale,omitempty"`
	ChannelData      json.RawMessage      `json:"channelData,omitempty"`
	Attachments      []Attachment         `json:"attachments,omitempty"`
	SuggestedActions *SuggestedActions    `json:"suggestedActions,omitempty"`
}

// ConversationID returns the channel conversation id, or "" when absent.
func (a *Activity) ConversationID() string {
	if a == nil || a.Conversation == nil {
		return ""
	}
	return a.Conversation.ID
}

// FromID returns the sender id, or "" when absent.
func (a *Activity) FromID() string {
	if a == nil || a.From == nil {
		return ""
	}
	return a.From.ID
}

// RecipientID returns the recipient id, or "" when absent.
func (a *Activity) RecipientID() string {
	if a == nil || a.Recipient == nil {
		return ""
	}
	return a.Recipient.ID
}

// Reference builds a conversation reference from an inbound activity.
func (a *Activity) Reference() ConversationReference {
	ref := ConversationReference{
		ActivityID: a.ID,
		ChannelID:  a.ChannelID,
		ServiceURL: a.ServiceURL,
		Locale:     a.Locale,
	}
	if a.From != nil {
		ref.User = *a.From
	}
	if a.Recipient != nil {
		ref.Bot = *a.Recipient
	}
	if a.Conversation != nil {
		ref.Conversation = *a.Conversation
	}
	return ref
}

// ApplyReference returns a copy of reply addressed back along ref: from the
// bot to the user in the referenced conversation.
func (a Activity) ApplyReference(ref ConversationReference) *Activity {
	bot := ref.Bot
	user := ref.User
	conv := ref.Conversation
	a.From = &bot
	a.Recipient = &user
	a.Conversation = &conv
	a.ChannelID = ref.ChannelID
	a.ServiceURL = ref.ServiceURL
	if a.Locale == "" {
		a.Locale = ref.Locale
	}
	if a.ReplyToID == "" {
		a.ReplyToID = ref.ActivityID
	}
	return &a
}

// ResourceResponse is the channel's acknowledgment of a sent activity.
type ResourceResponse struct {
	ID string `json:"id"`
}
