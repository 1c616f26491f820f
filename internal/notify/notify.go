// ABOUTME: Event types for the real-time notification channel
// ABOUTME: Sessions learn about inbound messages and out-of-band record changes here

package notify

import "time"

// EventType identifies what changed.
type EventType string

// Event types
const (
	EventMessageInbound      EventType = "message.inbound"
	EventMessageOutbound     EventType = "message.outbound"
	EventAssignmentChanged   EventType = "assignment.changed"
	EventConversationUpdated EventType = "conversation.updated"
	EventAgentPresence       EventType = "agent.presence"
)

// Event is one notification pushed to subscribed sessions. ConversationID
// is empty for presence events. Origin identifies the publishing instance
// on the cross-instance channel; it is unset for purely local events.
type Event struct {
	ID             string    `json:"id"`
	Origin         string    `json:"origin,omitempty"`
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	AssignmentID   string    `json:"assignment_id,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
	Status         string    `json:"status,omitempty"`
	Preview        string    `json:"preview,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher is anything that can push events toward interested sessions.
type Publisher interface {
	Publish(event *Event)
}

// Fanout publishes each event to every wrapped publisher.
type Fanout []Publisher

// Publish sends the event to all members.
func (f Fanout) Publish(event *Event) {
	for _, p := range f {
		p.Publish(event)
	}
}
