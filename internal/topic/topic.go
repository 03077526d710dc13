// Package topic implements MQTT topic-filter classification and
// segment-wise matching: the `+`/`#` wildcard semantics shared by every
// tier of the subscription index.
package topic

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Type classifies a topic filter the way the broker's subscription
// index needs to route it: SIMPLE goes in the exact-match tier,
// WILDCARD in the segment-matched tier, OMNI (the bare "#" filter) in
// its own tier since it never needs segment comparison.
type Type int

const (
	Simple Type = iota
	Wildcard
	Omni
)

func (t Type) String() string {
	switch t {
	case Simple:
		return "SIMPLE"
	case Wildcard:
		return "WILDCARD"
	case Omni:
		return "OMNI"
	default:
		return "UNKNOWN"
	}
}

// Classify determines a subscription filter's Type. SIMPLE iff the
// filter has no `+` or `#`; OMNI iff the filter is exactly "#";
// WILDCARD otherwise.
func Classify(filter string) Type {
	if filter == "#" {
		return Omni
	}
	if strings.ContainsAny(filter, "+#") {
		return Wildcard
	}
	return Simple
}

// splitCache memoizes the segment split of a topic/filter string. The
// split of a given string never changes, so entries never need
// invalidation — only eviction under memory pressure, which the LRU
// gives us for free.
var splitCache, _ = lru.New[string, []string](4096)

// Split divides a topic or topic filter into its `/`-separated
// segments, memoizing the result since Match is called once per
// (publish, candidate subscription) pair on the broker's hot path.
func Split(s string) []string {
	if cached, ok := splitCache.Get(s); ok {
		return cached
	}
	segments := strings.Split(s, "/")
	splitCache.Add(s, segments)
	return segments
}

// IsValidTopicName reports whether s is legal as a PUBLISH topic: it
// must be non-empty and must not contain the wildcard characters,
// which are filter-only per §6.
func IsValidTopicName(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, "+#")
}

// IsValidFilter reports whether s is legal as a SUBSCRIBE/UNSUBSCRIBE
// topic filter: non-empty, `+` and `#` each occupy a whole segment,
// and a `#` (if present) is the filter's last segment.
func IsValidFilter(s string) bool {
	if s == "" {
		return false
	}
	segments := strings.Split(s, "/")
	for i, seg := range segments {
		switch {
		case seg == "+", seg == "#":
			if seg == "#" && i != len(segments)-1 {
				return false
			}
		case strings.ContainsAny(seg, "+#"):
			// + or # present but not occupying the whole segment
			return false
		}
	}
	return true
}

// IsSystemTopic reports whether topic begins with the reserved `$`
// prefix. The bare "#" filter never matches a system topic (§4.2, §6);
// wildcard filters go through Matches, which applies no "$" check, so
// a filter such as "+/load" does match "$SYS/load".
func IsSystemTopic(topic string) bool {
	return strings.HasPrefix(topic, "$")
}

// Matches reports whether filterSegments (the split form of a WILDCARD
// subscription's filter) matches topicSegments (the split form of a
// published topic). `+` consumes exactly one segment; a terminal `#`
// consumes zero or more of the remaining segments.
func Matches(filterSegments, topicSegments []string) bool {
	i := 0
	for i < len(filterSegments) {
		f := filterSegments[i]
		if f == "#" {
			// '#' is only legal as the last filter segment (enforced by
			// IsValidFilter at subscribe time); it matches everything
			// remaining, including zero segments.
			return true
		}
		if i >= len(topicSegments) {
			return false
		}
		if f != "+" && f != topicSegments[i] {
			return false
		}
		i++
	}
	return i == len(topicSegments)
}
