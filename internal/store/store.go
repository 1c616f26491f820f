// ABOUTME: Store interface and data types for inbox-core persistence
// ABOUTME: Defines Conversation, Assignment, Agent, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when creating a conversation whose
// external reference already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateAssignment is returned when opening an assignment for a
// conversation that already has a non-closed one
var ErrDuplicateAssignment = errors.New("open assignment already exists")

// ErrAssignmentClosed is returned when mutating an assignment that has
// reached the closed status
var ErrAssignmentClosed = errors.New("assignment is closed")

// ErrCapacityExceeded is returned when a claim would push an agent past
// max_concurrent_chats
var ErrCapacityExceeded = errors.New("agent at capacity")

// ErrOwnershipConflict is returned when a claim or transfer loses the race
// for a conversation that is already owned
var ErrOwnershipConflict = errors.New("conversation already owned")

// Assignment statuses
const (
	StatusTriage  = "triage"  // newly arrived, unclassified
	StatusPending = "pending" // classified, waiting in queue
	StatusActive  = "active"  // owned by an agent
	StatusWaiting = "waiting" // owned, paused for a contact reply
	StatusClosed  = "closed"  // terminal
)

// Message directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message types
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeDocument = "document"
	MessageTypeAudio    = "audio"
)

// Conversation is the canonical record of one external contact thread.
// One row per phone number or group identifier; never deleted, only archived.
type Conversation struct {
	ID          string
	ExternalRef string // phone number or group identifier
	IsGroup     bool
	DisplayName string
	AvatarURL   string
	ClientID    string // optional link to a known client record
	ProductID   string // optional product association

	LastMessageAt      *time.Time
	LastMessagePreview string
	UnreadCount        int

	Archived   bool
	ArchivedAt *time.Time
	Muted      bool
	Pinned     bool
	PinnedAt   *time.Time
	Favorite   bool
	Blocked    bool

	CreatedAt time.Time
}

// ConversationFlag identifies one of the independent boolean presence flags.
type ConversationFlag string

// Conversation flags
const (
	FlagArchived ConversationFlag = "archived"
	FlagMuted    ConversationFlag = "muted"
	FlagPinned   ConversationFlag = "pinned"
	FlagFavorite ConversationFlag = "favorite"
	FlagBlocked  ConversationFlag = "blocked"
)

// Assignment is one ownership episode of a conversation. At most one
// non-closed row may exist per conversation (enforced by a partial unique
// index).
type Assignment struct {
	ID             string
	ConversationID string
	AgentID        *string // nil means in queue
	DepartmentID   string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ClosedAt       *time.Time
}

// Agent is a human operator who can own conversations.
type Agent struct {
	ID                 string
	UserRef            string
	DisplayName        string
	DepartmentID       string
	MaxConcurrentChats int
	IsOnline           bool
	IsActive           bool
	LastActivityAt     *time.Time
}

// AgentLoad pairs an agent with its current non-closed assignment count,
// used by the distribution policy.
type AgentLoad struct {
	Agent       Agent
	ActiveCount int
}

// Message is immutable once persisted. Ordering within a conversation is by
// sent_at, with insertion order breaking same-timestamp ties.
type Message struct {
	ID             string
	ConversationID string
	Direction      string
	Content        string
	Type           string

	MediaURL      string
	MediaMime     string
	MediaFilename string
	// MediaDuration is seconds of audio, zero for non-audio messages
	MediaDuration int

	SentAt time.Time
}

// Tag is an account-scoped label attachable to assignments.
type Tag struct {
	ID        string
	Name      string
	Color     string
	SortOrder int
}

// Department groups agents for routing and transfer.
type Department struct {
	ID        string
	Name      string
	Color     string
	SortOrder int
}

// ConversationView is the Assignment Ledger joined with the Conversation
// Store, as consumed by the filter engine and list endpoints.
type ConversationView struct {
	ConversationID     string
	ExternalRef        string
	DisplayName        string
	IsGroup            bool
	Archived           bool
	ProductID          string
	UnreadCount        int
	LastMessageAt      *time.Time
	LastMessagePreview string

	AssignmentID string
	Status       string
	AgentID      *string
	DepartmentID string
	TagIDs       []string
}

// Store defines the persistence boundary for the inbox core.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByExternalRef(ctx context.Context, ref string) (*Conversation, error)
	UpdateConversationPreview(ctx context.Context, id, preview string, at time.Time, unreadDelta int) error
	ResetUnread(ctx context.Context, id string) error
	SetConversationFlag(ctx context.Context, id string, flag ConversationFlag, on bool, at time.Time) error

	// Assignments (the ledger). ClaimAssignment and TransferAssignment are
	// atomic compare-and-set operations: the capacity check and the
	// ownership write commit in one transaction.
	OpenAssignment(ctx context.Context, a *Assignment) error
	GetAssignment(ctx context.Context, id string) (*Assignment, error)
	GetOpenAssignment(ctx context.Context, conversationID string) (*Assignment, error)
	ClaimAssignment(ctx context.Context, conversationID, agentID string, maxConcurrent int) (*Assignment, error)
	ReleaseAssignment(ctx context.Context, conversationID string) (*Assignment, error)
	TransferAssignment(ctx context.Context, conversationID, toAgentID, departmentID string, maxConcurrent int) (*Assignment, error)
	SetAssignmentStatus(ctx context.Context, assignmentID, status string) (*Assignment, error)
	CountOpenAssignments(ctx context.Context, agentID string) (int, error)
	ListConversationViews(ctx context.Context) ([]*ConversationView, error)

	// Agents
	CreateAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context, departmentID string) ([]*Agent, error)
	ListAgentLoads(ctx context.Context, departmentID string) ([]*AgentLoad, error)
	SetAgentPresence(ctx context.Context, id string, online bool, at time.Time) error
	TouchAgent(ctx context.Context, id string, at time.Time) error

	// Messages (append-only)
	AppendMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Tags and departments
	CreateTag(ctx context.Context, t *Tag) error
	ListTags(ctx context.Context) ([]*Tag, error)
	TagAssignment(ctx context.Context, assignmentID, tagID string) error
	UntagAssignment(ctx context.Context, assignmentID, tagID string) error
	CreateDepartment(ctx context.Context, d *Department) error
	ListDepartments(ctx context.Context) ([]*Department, error)

	// Close releases any resources held by the store
	Close() error
}
