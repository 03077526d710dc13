// Package retained implements the broker's retained-message store: the
// last retained PUBLISH seen on each topic, replayed to new
// subscribers whose filter matches it.
package retained

import (
	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
	"github.com/VayuDev/nioev-mqtt/internal/topic"
)

// Message is one stored retained publish.
type Message struct {
	Topic   string
	Payload []byte
	QoS     mqtt.QoS
}

// Store holds at most one retained message per topic. Like
// subscription.Index, Store carries no lock of its own — every access
// runs on the broker's single writer goroutine.
type Store struct {
	byTopic map[string]*Message
}

// New returns an empty Store.
func New() *Store {
	return &Store{byTopic: make(map[string]*Message)}
}

// Set stores a retained message for topic, or — per §4.3, PUBLISH with
// RETAIN=1 and a zero-length payload — deletes whatever was retained
// there. It reports whether a message now exists for the topic.
func (s *Store) Set(publishTopic string, payload []byte, qos mqtt.QoS) bool {
	if len(payload) == 0 {
		delete(s.byTopic, publishTopic)
		return false
	}
	s.byTopic[publishTopic] = &Message{Topic: publishTopic, Payload: payload, QoS: qos}
	return true
}

// Get returns the retained message on topic, if any.
func (s *Store) Get(publishTopic string) (*Message, bool) {
	m, ok := s.byTopic[publishTopic]
	return m, ok
}

// Match returns every retained message whose topic matches filter,
// for replay to a client that just subscribed to it (§4.2 Insert).
// Matching uses the same exact/wildcard/omni semantics as live publish
// matching (internal/subscription.Index.Match): a bare "#" never
// matches a $-prefixed system topic, but a wildcard filter like "+/foo"
// is unrestricted, same as on the live dispatch path.
func (s *Store) Match(filter string) []*Message {
	switch topic.Classify(filter) {
	case topic.Simple:
		if m, ok := s.byTopic[filter]; ok {
			return []*Message{m}
		}
		return nil
	case topic.Omni:
		var matches []*Message
		for t, m := range s.byTopic {
			if !topic.IsSystemTopic(t) {
				matches = append(matches, m)
			}
		}
		return matches
	default:
		filterSegments := topic.Split(filter)
		var matches []*Message
		for t, m := range s.byTopic {
			if topic.Matches(filterSegments, topic.Split(t)) {
				matches = append(matches, m)
			}
		}
		return matches
	}
}
