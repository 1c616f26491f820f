// ABOUTME: Predicate composition over the joined assignment/conversation view
// ABOUTME: Pure functions; conjunction of filters, archived always excluded

package filter

import (
	"slices"
	"sort"
	"strings"

	"github.com/relaydesk/inbox-core/internal/store"
)

// Scope is the top-level view selector.
type Scope string

// Scopes
const (
	// ScopeMine restricts to conversations owned by the current agent
	ScopeMine Scope = "mine"
	// ScopeQueue shows all non-closed assignments
	ScopeQueue Scope = "queue"
)

// StatusTriage is the special status filter meaning "no agent assigned,
// regardless of the status field" — queue membership.
const StatusTriage = "triage"

// Filter is the conjunction of per-item predicates. Zero values mean
// "no restriction".
type Filter struct {
	// Text matches contact name or phone, case-insensitive substring
	Text string
	// Status matches the assignment status; "triage" means unassigned
	Status string
	// UnreadOnly keeps conversations with unread messages
	UnreadOnly bool
	// GroupOnly keeps group conversations
	GroupOnly bool
	// ProductID matches the conversation's product association
	ProductID string
	// TagID requires the assignment to carry the tag
	TagID string
	// AgentID matches the owning agent
	AgentID string
}

// Apply evaluates the scope and filter over the joined view and returns
// matches sorted by last_message_at descending (stable). Archived
// conversations are always excluded.
func Apply(views []*store.ConversationView, scope Scope, currentAgentID string, f Filter) []*store.ConversationView {
	var out []*store.ConversationView
	for _, v := range views {
		if v.Archived {
			continue
		}
		if !inScope(v, scope, currentAgentID) {
			continue
		}
		if !matches(v, f) {
			continue
		}
		out = append(out, v)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return lastMessageAfter(out[i], out[j])
	})
	return out
}

// inScope applies the mine-vs-queue view selector
func inScope(v *store.ConversationView, scope Scope, currentAgentID string) bool {
	switch scope {
	case ScopeMine:
		return v.AgentID != nil && *v.AgentID == currentAgentID
	default:
		return true
	}
}

// matches evaluates the filter conjunction against one view row
func matches(v *store.ConversationView, f Filter) bool {
	if f.Text != "" {
		needle := strings.ToLower(f.Text)
		name := strings.ToLower(v.DisplayName)
		ref := strings.ToLower(v.ExternalRef)
		if !strings.Contains(name, needle) && !strings.Contains(ref, needle) {
			return false
		}
	}

	if f.Status != "" {
		if f.Status == StatusTriage {
			// Queue membership: unassigned regardless of status field
			if v.AgentID != nil {
				return false
			}
		} else if v.Status != f.Status {
			return false
		}
	}

	if f.UnreadOnly && v.UnreadCount == 0 {
		return false
	}
	if f.GroupOnly && !v.IsGroup {
		return false
	}
	if f.ProductID != "" && v.ProductID != f.ProductID {
		return false
	}
	if f.TagID != "" && !slices.Contains(v.TagIDs, f.TagID) {
		return false
	}
	if f.AgentID != "" && (v.AgentID == nil || *v.AgentID != f.AgentID) {
		return false
	}

	return true
}

// lastMessageAfter orders by last_message_at descending; rows without a
// last message sort to the end
func lastMessageAfter(a, b *store.ConversationView) bool {
	switch {
	case a.LastMessageAt == nil:
		return false
	case b.LastMessageAt == nil:
		return true
	default:
		return a.LastMessageAt.After(*b.LastMessageAt)
	}
}
