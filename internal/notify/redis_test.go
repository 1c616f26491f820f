// ABOUTME: Tests for the cross-instance redis event mirror
// ABOUTME: Verifies self-originated events are not redelivered locally

package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisher_SkipsOwnEvents(t *testing.T) {
	p := NewRedisPublisher(nil, "inbox-events", nil)
	local := NewBroadcaster(nil)
	defer local.Close()

	ch, _ := local.Subscribe(context.Background())

	// An event this instance published comes back off the channel with its
	// own origin stamp; the broadcaster already delivered it once.
	own, err := json.Marshal(&Event{ID: "e1", Origin: p.origin, Type: EventMessageInbound})
	require.NoError(t, err)
	assert.False(t, p.forwardRemote(own, local), "own event must not be redelivered")

	foreign, err := json.Marshal(&Event{ID: "e2", Origin: "other-instance", Type: EventMessageInbound})
	require.NoError(t, err)
	assert.True(t, p.forwardRemote(foreign, local))

	select {
	case got := <-ch:
		assert.Equal(t, "e2", got.ID, "only the foreign event reaches local subscribers")
	case <-time.After(time.Second):
		t.Fatal("foreign event was not forwarded")
	}
	assert.Empty(t, ch, "exactly one local delivery")
}

func TestRedisPublisher_IgnoresMalformedPayload(t *testing.T) {
	p := NewRedisPublisher(nil, "inbox-events", nil)
	local := NewBroadcaster(nil)
	defer local.Close()

	assert.False(t, p.forwardRemote([]byte("{not json"), local))
}

func TestRedisPublisher_OriginsAreUnique(t *testing.T) {
	a := NewRedisPublisher(nil, "inbox-events", nil)
	b := NewRedisPublisher(nil, "inbox-events", nil)
	assert.NotEqual(t, a.origin, b.origin)
}
