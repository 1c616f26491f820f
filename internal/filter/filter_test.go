// ABOUTME: Tests for filter predicate composition and ordering
// ABOUTME: Table-driven over an in-memory joined view

package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relaydesk/inbox-core/internal/store"
)

func agentPtr(id string) *string { return &id }

func tm(offsetMinutes int) *time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offsetMinutes) * time.Minute)
	return &t
}

func testViews() []*store.ConversationView {
	return []*store.ConversationView{
		{
			ConversationID: "c1", ExternalRef: "+5511999000001", DisplayName: "Ana Souza",
			Status: store.StatusActive, AgentID: agentPtr("alice"), UnreadCount: 2,
			LastMessageAt: tm(30), TagIDs: []string{"vip"}, ProductID: "plan-pro",
		},
		{
			ConversationID: "c2", ExternalRef: "+5511999000002", DisplayName: "Bruno Lima",
			Status: store.StatusPending, AgentID: nil, UnreadCount: 0,
			LastMessageAt: tm(10),
		},
		{
			ConversationID: "c3", ExternalRef: "+5511999000003", DisplayName: "Equipe Vendas",
			IsGroup: true, Status: store.StatusTriage, AgentID: nil, UnreadCount: 5,
			LastMessageAt: tm(20),
		},
		{
			ConversationID: "c4", ExternalRef: "+5511999000004", DisplayName: "Carla Dias",
			Status: store.StatusWaiting, AgentID: agentPtr("bob"), UnreadCount: 1,
			LastMessageAt: tm(40), Archived: true,
		},
	}
}

func ids(views []*store.ConversationView) []string {
	var out []string
	for _, v := range views {
		out = append(out, v.ConversationID)
	}
	return out
}

func TestApply_ArchivedAlwaysExcluded(t *testing.T) {
	got := Apply(testViews(), ScopeQueue, "bob", Filter{})
	assert.NotContains(t, ids(got), "c4", "archived conversations never appear")

	// Even when explicitly filtered for
	got = Apply(testViews(), ScopeQueue, "bob", Filter{AgentID: "bob"})
	assert.Empty(t, got)
}

func TestApply_SortedByLastMessageDescending(t *testing.T) {
	got := Apply(testViews(), ScopeQueue, "", Filter{})
	assert.Equal(t, []string{"c1", "c3", "c2"}, ids(got))
}

func TestApply_ScopeMine(t *testing.T) {
	got := Apply(testViews(), ScopeMine, "alice", Filter{})
	assert.Equal(t, []string{"c1"}, ids(got))

	got = Apply(testViews(), ScopeMine, "nobody", Filter{})
	assert.Empty(t, got)
}

func TestApply_TextMatchesNameAndPhone(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{"name substring, case-insensitive", "ana", []string{"c1"}},
		{"phone substring", "999000002", []string{"c2"}},
		{"no match", "zzz", nil},
		{"empty matches all", "", []string{"c1", "c3", "c2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Apply(testViews(), ScopeQueue, "", Filter{Text: tc.text})
			assert.Equal(t, tc.want, ids(got))
		})
	}
}

func TestApply_TriageMeansUnassigned(t *testing.T) {
	// c2 is pending and c3 is triage; both are unassigned, so both match
	got := Apply(testViews(), ScopeQueue, "", Filter{Status: StatusTriage})
	assert.ElementsMatch(t, []string{"c2", "c3"}, ids(got))
}

func TestApply_ExplicitStatus(t *testing.T) {
	got := Apply(testViews(), ScopeQueue, "", Filter{Status: store.StatusActive})
	assert.Equal(t, []string{"c1"}, ids(got))
}

func TestApply_UnreadAndGroupOnly(t *testing.T) {
	got := Apply(testViews(), ScopeQueue, "", Filter{UnreadOnly: true})
	assert.ElementsMatch(t, []string{"c1", "c3"}, ids(got))

	got = Apply(testViews(), ScopeQueue, "", Filter{GroupOnly: true})
	assert.Equal(t, []string{"c3"}, ids(got))
}

func TestApply_TagProductAgent(t *testing.T) {
	got := Apply(testViews(), ScopeQueue, "", Filter{TagID: "vip"})
	assert.Equal(t, []string{"c1"}, ids(got))

	got = Apply(testViews(), ScopeQueue, "", Filter{ProductID: "plan-pro"})
	assert.Equal(t, []string{"c1"}, ids(got))

	got = Apply(testViews(), ScopeQueue, "", Filter{AgentID: "alice"})
	assert.Equal(t, []string{"c1"}, ids(got))
}

func TestApply_ConjunctionOfPredicates(t *testing.T) {
	// unread AND group: only the group with unread messages
	got := Apply(testViews(), ScopeQueue, "", Filter{UnreadOnly: true, GroupOnly: true})
	assert.Equal(t, []string{"c3"}, ids(got))

	// unread AND tag AND wrong agent: nothing
	got = Apply(testViews(), ScopeQueue, "", Filter{UnreadOnly: true, TagID: "vip", AgentID: "bob"})
	assert.Empty(t, got)
}

func TestApply_NilLastMessageSortsLast(t *testing.T) {
	views := append(testViews(), &store.ConversationView{
		ConversationID: "c5", DisplayName: "Fresh", Status: store.StatusPending,
	})
	got := Apply(views, ScopeQueue, "", Filter{})
	assert.Equal(t, "c5", got[len(got)-1].ConversationID)
}
