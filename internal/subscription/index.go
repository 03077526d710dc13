package subscription

import (
	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
	"github.com/VayuDev/nioev-mqtt/internal/topic"
)

// Index is the broker's subscription table: one exact-match multimap,
// one list of wildcard filters, and one list of bare "#" filters.
// Three tiers rather than a trie because the broker's subscriber count
// is small enough that a flat scan of the wildcard/omni lists is
// cheaper than trie upkeep, and exact matches — the overwhelming
// majority in practice — stay O(1) (§4.2).
//
// Index has no internal lock: every mutation and every Match call runs
// on the broker's single writer goroutine, so Index itself never needs
// to serialize its own access.
type Index struct {
	simple   map[string][]*Subscription
	wildcard []*Subscription
	omni     []*Subscription
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{simple: make(map[string][]*Subscription)}
}

// Insert adds sub, replacing any existing subscription from the same
// Subscriber on the same topic filter (a re-SUBSCRIBE updates the
// granted QoS in place rather than creating a duplicate entry).
// Insert reports whether an existing entry was replaced.
func (idx *Index) Insert(sub *Subscription) bool {
	switch sub.Type {
	case topic.Simple:
		list := idx.simple[sub.Topic]
		for i, existing := range list {
			if existing.Subscriber.ID() == sub.Subscriber.ID() {
				list[i] = sub
				return true
			}
		}
		idx.simple[sub.Topic] = append(list, sub)
		return false
	case topic.Omni:
		for i, existing := range idx.omni {
			if existing.Subscriber.ID() == sub.Subscriber.ID() {
				idx.omni[i] = sub
				return true
			}
		}
		idx.omni = append(idx.omni, sub)
		return false
	default: // topic.Wildcard
		for i, existing := range idx.wildcard {
			if existing.Subscriber.ID() == sub.Subscriber.ID() && existing.Topic == sub.Topic {
				idx.wildcard[i] = sub
				return true
			}
		}
		idx.wildcard = append(idx.wildcard, sub)
		return false
	}
}

// Delete removes the (subscriberID, filter) subscription, routing
// directly to the tier filter classifies into. It reports whether an
// entry was found and removed.
func (idx *Index) Delete(subscriberID, filter string) bool {
	switch topic.Classify(filter) {
	case topic.Simple:
		list := idx.simple[filter]
		for i, existing := range list {
			if existing.Subscriber.ID() == subscriberID {
				idx.simple[filter] = append(list[:i], list[i+1:]...)
				if len(idx.simple[filter]) == 0 {
					delete(idx.simple, filter)
				}
				return true
			}
		}
		return false
	case topic.Omni:
		for i, existing := range idx.omni {
			if existing.Subscriber.ID() == subscriberID {
				idx.omni = append(idx.omni[:i], idx.omni[i+1:]...)
				return true
			}
		}
		return false
	default:
		for i, existing := range idx.wildcard {
			if existing.Subscriber.ID() == subscriberID && existing.Topic == filter {
				idx.wildcard = append(idx.wildcard[:i], idx.wildcard[i+1:]...)
				return true
			}
		}
		return false
	}
}

// DeleteAll removes every subscription belonging to subscriberID
// across all three tiers, used on disconnect or script removal when
// the caller doesn't know which filters were registered (§4.2).
func (idx *Index) DeleteAll(subscriberID string) {
	for filter, list := range idx.simple {
		filtered := filterOut(list, subscriberID)
		if len(filtered) == 0 {
			delete(idx.simple, filter)
		} else {
			idx.simple[filter] = filtered
		}
	}
	idx.wildcard = filterOut(idx.wildcard, subscriberID)
	idx.omni = filterOut(idx.omni, subscriberID)
}

func filterOut(list []*Subscription, subscriberID string) []*Subscription {
	out := list[:0]
	for _, sub := range list {
		if sub.Subscriber.ID() != subscriberID {
			out = append(out, sub)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Match returns every subscription whose filter matches the published
// topic: exact matches, then segment-matched wildcard filters, then
// (unless topic is a $-prefixed system topic) the omni subscribers.
// Every script subscriber is ordered before every connection
// subscriber, whichever tier matched it, so a Sync script's
// AbortPublish can veto delivery before any connection sees the
// message (§4.6).
func (idx *Index) Match(publishTopic string) []*Subscription {
	var matches []*Subscription

	matches = append(matches, idx.simple[publishTopic]...)

	if len(idx.wildcard) > 0 {
		segments := topic.Split(publishTopic)
		for _, sub := range idx.wildcard {
			if topic.Matches(sub.Segments, segments) {
				matches = append(matches, sub)
			}
		}
	}

	if !topic.IsSystemTopic(publishTopic) {
		matches = append(matches, idx.omni...)
	}

	return orderScriptsFirst(matches)
}

// orderScriptsFirst reorders a match set so every script subscriber
// precedes every connection subscriber, preserving each kind's
// relative tier order (exact, then wildcard, then omni) — so a Sync
// script's AbortPublish is always decided before any connection sees
// the message, regardless of which tier matched it (§4.2, §4.6).
func orderScriptsFirst(matches []*Subscription) []*Subscription {
	ordered := make([]*Subscription, 0, len(matches))
	for _, sub := range matches {
		if sub.Subscriber.Kind() == KindScript {
			ordered = append(ordered, sub)
		}
	}
	for _, sub := range matches {
		if sub.Subscriber.Kind() == KindConnection {
			ordered = append(ordered, sub)
		}
	}
	return ordered
}

// QoS is re-exported for callers that only need the subscription
// package and don't want to import internal/mqtt directly for the
// handful of call sites that just need the type name in scope.
type QoS = mqtt.QoS
