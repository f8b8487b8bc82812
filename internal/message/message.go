// ABOUTME: Message, Thread and TopicSummary records exchanged with the platform
// ABOUTME: Direction and Type enums mirror the push stream's event vocabulary

package message

import (
	"encoding/json"
	"strings"
	"time"
)

// Direction is the flow of a message relative to the agent workflow.
type Direction string

const (
	DirectionIncoming Direction = "Incoming"
	DirectionOutgoing Direction = "Outgoing"
	// DirectionHandover marks a control signal, not a content message.
	DirectionHandover Direction = "Handover"
)

// Type categorizes the payload of a message.
type Type string

const (
	TypeChat Type = "Chat"
	// TypeData carries metadata only; there is no renderable content.
	TypeData    Type = "Data"
	TypeHandoff Type = "Handoff"
)

// OptimisticPrefix starts every locally synthesized message id.
const OptimisticPrefix = "temp-"

// Message is a single record in a conversation thread.
type Message struct {
	ID            string          `json:"id"`
	ThreadID      string          `json:"threadId"`
	ParticipantID string          `json:"participantId,omitempty"`
	WorkflowID    string          `json:"workflowId,omitempty"`
	WorkflowType  string          `json:"workflowType,omitempty"`
	Direction     Direction       `json:"direction"`
	Type          Type            `json:"messageType"`
	Scope         *string         `json:"scope"` // nil means no topic; "" is a valid topic
	Text          string          `json:"text,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Status        string          `json:"status,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// IsOptimistic reports whether the message was synthesized locally and is
// still waiting for its server echo.
func (m Message) IsOptimistic() bool {
	return IsOptimistic(m.ID)
}

// IsOptimistic reports whether id belongs to the optimistic subspace.
func IsOptimistic(id string) bool {
	return strings.HasPrefix(id, OptimisticPrefix)
}

// IsSystem reports whether the message has no text to render. Such
// messages are shown as system messages by the view.
func (m Message) IsSystem() bool {
	return strings.TrimSpace(m.Text) == ""
}

// ScopeValue returns the scope name and whether one is set.
func (m Message) ScopeValue() (string, bool) {
	if m.Scope == nil {
		return "", false
	}
	return *m.Scope, true
}

// Thread is a conversation between a participant and an agent workflow.
type Thread struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	WorkflowType  string    `json:"workflowType"`
	WorkflowID    string    `json:"workflowId,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TopicSummary describes the messages of one scope inside a thread.
type TopicSummary struct {
	Scope         *string   `json:"scope"`
	MessageCount  int       `json:"messageCount"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// StringPtr returns a pointer to s, for building scoped messages.
func StringPtr(s string) *string {
	return &s
}
