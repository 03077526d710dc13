// Package subscription implements the broker's three-tier subscription
// index: exact-match, wildcard, and omni ("#") filters, each matched
// against published topics independently of who the subscriber is.
package subscription

import "github.com/VayuDev/nioev-mqtt/internal/mqtt"

// Kind distinguishes the two subscriber variants so the index can
// order match results scripts-first-then-connections (§4.6 dispatch).
type Kind int

const (
	KindScript Kind = iota
	KindConnection
)

// Subscriber is implemented by whatever owns a subscription: a
// connection or a script. The subscription package never imports
// internal/connection or internal/script directly — those packages
// implement Subscriber instead, so a publish fan-out never needs to
// know which kind of subscriber it is delivering to.
type Subscriber interface {
	// ID returns a value stable for the lifetime of one subscription
	// set, used to find and remove a subscriber's own entries.
	ID() string
	// Kind reports whether this subscriber is a script or a connection,
	// used to order Match's results.
	Kind() Kind
	// Deliver hands a matched publish to the subscriber. qos is the
	// already-downgraded effective QoS for this particular
	// subscription; retained reports whether this delivery is a
	// retained-message replay rather than a live publish.
	Deliver(topic string, payload []byte, qos mqtt.QoS, retained bool) error
}
