package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuepilot/cuepilot/internal/bus"
)

func TestRegistrySubscribeUpdatesExisting(t *testing.T) {
	var r Registry
	now := time.Now()

	added := r.Subscribe(SubscriberInfo{Address: "a:1", Kinds: bus.MsgTransportData}, now)
	assert.True(t, added)
	added = r.Subscribe(SubscriberInfo{Address: "a:1", Kinds: bus.MsgCueData}, now)
	assert.False(t, added, "re-subscription must update, not add")
	assert.Equal(t, 1, r.Len())

	recips := r.Recipients(bus.MsgCueData, nil)
	assert.Len(t, recips, 1)
	recips = r.Recipients(bus.MsgTransportData, nil)
	assert.Empty(t, recips, "old mask must be replaced")
}

func TestRegistryCap(t *testing.T) {
	var r Registry
	now := time.Now()
	for i := 0; i < maxSubscribers+5; i++ {
		r.Subscribe(SubscriberInfo{Address: addrN(i), Kinds: bus.AllMessages}, now)
	}
	assert.Equal(t, maxSubscribers, r.Len())
}

func addrN(i int) string {
	return "10.0.0.1:" + string(rune('0'+i%10)) + string(rune('0'+i/10%10)) + "00"
}

// A subscriber silent for 16 minutes is pruned before the next outbound
// notification reaches it.
func TestRegistryPrunesStaleSubscribers(t *testing.T) {
	var r Registry
	now := time.Now()

	r.Subscribe(SubscriberInfo{Address: "fresh:1", Kinds: bus.AllMessages}, now.Add(-time.Minute))
	r.Subscribe(SubscriberInfo{Address: "stale:1", Kinds: bus.AllMessages}, now.Add(-16*time.Minute))

	removed := r.Prune(now)
	assert.True(t, removed)
	assert.Equal(t, 1, r.Len())

	recips := r.Recipients(bus.MsgTransportData, nil)
	assert.Len(t, recips, 1)
	assert.Equal(t, "fresh:1", recips[0].Address)
}

func TestRegistryTouchKeepsAlive(t *testing.T) {
	var r Registry
	base := time.Now()

	r.Subscribe(SubscriberInfo{Address: "a:1", Kinds: bus.AllMessages}, base)

	// 14 minutes later the subscriber pings; at +20 it is still live
	// because the timeout counts from last contact.
	r.Touch("a:1", base.Add(14*time.Minute))
	removed := r.Prune(base.Add(20 * time.Minute))
	assert.False(t, removed)
	assert.Equal(t, 1, r.Len())

	removed = r.Prune(base.Add(30 * time.Minute))
	assert.True(t, removed)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryUnsubscribe(t *testing.T) {
	var r Registry
	now := time.Now()
	r.Subscribe(SubscriberInfo{Address: "a:1"}, now)
	r.Subscribe(SubscriberInfo{Address: "b:1"}, now)

	assert.True(t, r.Unsubscribe("a:1"))
	assert.False(t, r.Unsubscribe("a:1"))
	assert.Equal(t, 1, r.Len())

	snap := r.Snapshot()
	assert.Len(t, snap.Subscribers, 1)
	assert.Equal(t, "b:1", snap.Subscribers[0].Address)
}
