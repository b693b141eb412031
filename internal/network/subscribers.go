package network

import (
	"time"

	"github.com/cuepilot/cuepilot/internal/bus"
)

// maxSubscribers caps the registry; further subscriptions are refused.
const maxSubscribers = 32

// Registry tracks the subscribers of one endpoint. It is owned by the
// network goroutine and never shared with the realtime plane.
type Registry struct {
	subs []SubscriberInfo
}

// Touch refreshes the last-contact time of the subscriber at addr.
func (r *Registry) Touch(addr string, now time.Time) {
	for i := range r.subs {
		if r.subs[i].Address == addr {
			r.subs[i].LastContact = now
		}
	}
}

// Subscribe adds a subscriber or refreshes an existing registration's
// message mask. It reports whether the set changed in membership.
func (r *Registry) Subscribe(info SubscriberInfo, now time.Time) (added bool) {
	for i := range r.subs {
		if r.subs[i].Address == info.Address {
			r.subs[i].Kinds = info.Kinds
			r.subs[i].Identifier = info.Identifier
			r.subs[i].LastContact = now
			return false
		}
	}
	if len(r.subs) >= maxSubscribers {
		return false
	}
	info.LastContact = now
	r.subs = append(r.subs, info)
	return true
}

// Unsubscribe removes the subscriber at addr, reporting whether it existed.
func (r *Registry) Unsubscribe(addr string) bool {
	for i := range r.subs {
		if r.subs[i].Address == addr {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Prune drops subscribers that have been silent past the timeout,
// reporting whether any were removed. Called before every outbound send.
func (r *Registry) Prune(now time.Time) bool {
	kept := r.subs[:0]
	removed := false
	for _, sub := range r.subs {
		if sub.Stale(now) {
			removed = true
			continue
		}
		kept = append(kept, sub)
	}
	r.subs = kept
	return removed
}

// Recipients returns copies of the subscribers accepting message type t,
// appended to into[:0] so the caller's backing array is reused.
func (r *Registry) Recipients(t bus.MessageType, into []SubscriberInfo) []SubscriberInfo {
	into = into[:0]
	for _, sub := range r.subs {
		if sub.Kinds&t != 0 {
			into = append(into, sub)
		}
	}
	return into
}

// Len returns the subscriber count.
func (r *Registry) Len() int { return len(r.subs) }

// Snapshot builds the NetworkChanged payload.
func (r *Registry) Snapshot() *bus.NetworkState {
	st := &bus.NetworkState{}
	for _, sub := range r.subs {
		st.Subscribers = append(st.Subscribers, bus.SubscriberSnapshot{
			Address:    sub.Address,
			Identifier: sub.Identifier,
			Kinds:      sub.Kinds,
		})
	}
	return st
}
