package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ChatSession is one conversation thread with one phone number inside one
// organization. The phone is stored normalized (E.164, no transport prefix).
type ChatSession struct {
	ID             string    `json:"id" db:"id"`
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	Phone          string    `json:"phone" db:"phone"`
	GuestID        string    `json:"guest_id,omitempty" db:"guest_id"`
	EventID        string    `json:"event_id,omitempty" db:"event_id"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	LastMessageAt  time.Time `json:"last_message_at" db:"last_message_at"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindAudio MessageKind = "audio"
)

type MediaAttachment struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

func (a MediaAttachment) IsAudio() bool {
	return strings.HasPrefix(strings.ToLower(a.ContentType), "audio/")
}

// InboundMessage is raw guest content waiting to be answered. Rows with a nil
// ProcessedAt are the "accumulated unprocessed" input of the next reply.
type InboundMessage struct {
	ID                string            `json:"id" db:"id"`
	SessionID         string            `json:"session_id" db:"session_id"`
	OrganizationID    string            `json:"organization_id" db:"organization_id"`
	ProviderMessageID string            `json:"provider_message_id,omitempty" db:"provider_message_id"`
	Kind              MessageKind       `json:"kind" db:"kind"`
	Body              string            `json:"body,omitempty" db:"body"`
	Media             []MediaAttachment `json:"media,omitempty" db:"media"`
	ReceivedAt        time.Time         `json:"received_at" db:"received_at"`
	ProcessedAt       *time.Time        `json:"processed_at,omitempty" db:"processed_at"`
}

// ToolCall is one executed (or rejected) tool invocation recorded on a ChatLog.
type ToolCall struct {
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input"`
	Result string          `json:"result"`
	Failed bool            `json:"failed"`
}

// ChatLog is an immutable, append-only record of one processed exchange.
type ChatLog struct {
	ID             string     `json:"id" db:"id"`
	SessionID      string     `json:"session_id" db:"session_id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	Inbound        string     `json:"inbound" db:"inbound"`
	Reply          string     `json:"reply" db:"reply"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty" db:"tool_calls"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}
