package subscription

import (
	"fmt"

	"github.com/VayuDev/nioev-mqtt/internal/mqtt"
	"github.com/VayuDev/nioev-mqtt/internal/topic"
)

// Subscription binds one Subscriber to one topic filter at a granted
// QoS. QoS is nil for a script subscribed without a QoS ceiling — such
// a subscription receives every publish at the publish's own QoS,
// never downgraded (§3 Subscriber).
type Subscription struct {
	Subscriber Subscriber
	Topic      string
	Segments   []string
	Type       topic.Type
	QoS        *mqtt.QoS
}

// New validates filter and builds a Subscription, pre-splitting and
// classifying it so Index.Match never repeats that work on the hot
// path.
func New(subscriber Subscriber, filter string, qos *mqtt.QoS) (*Subscription, error) {
	if !topic.IsValidFilter(filter) {
		return nil, fmt.Errorf("invalid topic filter %q", filter)
	}
	t := topic.Classify(filter)
	var segments []string
	if t != topic.Simple {
		segments = topic.Split(filter)
	}
	return &Subscription{
		Subscriber: subscriber,
		Topic:      filter,
		Segments:   segments,
		Type:       t,
		QoS:        qos,
	}, nil
}

// EffectiveQoS downgrades a publish's QoS to this subscription's
// granted ceiling. A subscription with no ceiling (script, QoS==nil)
// passes the publish QoS through unchanged (§4.4).
func (s *Subscription) EffectiveQoS(publishQoS mqtt.QoS) mqtt.QoS {
	if s.QoS == nil {
		return publishQoS
	}
	return mqtt.Min(publishQoS, *s.QoS)
}
