package trigger

import (
	"strings"

	"doorcam/internal/pipeline"
)

// Sink accepts normalized triggers. *pipeline.Pipeline implements it.
type Sink interface {
	Handle(tr pipeline.Trigger) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(tr pipeline.Trigger) error

func (f SinkFunc) Handle(tr pipeline.Trigger) error { return f(tr) }

// DefaultEvents are the event types forwarded when none are configured.
var DefaultEvents = []string{"motion", "ding"}

var inactivePayloads = map[string]bool{
	"":         true,
	"idle":     true,
	"off":      true,
	"false":    true,
	"0":        true,
	"clear":    true,
	"inactive": true,
	"none":     true,
}

// IsActive reports whether a state payload marks the start of an event.
// It is a small allow-list of known "nothing happening" values, not an
// exhaustive edge detector; anything unrecognized counts as active.
func IsActive(payload []byte) bool {
	return !inactivePayloads[strings.ToLower(strings.TrimSpace(string(payload)))]
}

// Topic is a parsed trigger topic.
type Topic struct {
	CameraID  string
	EventType string
	// Location is set for ring-mqtt device topics.
	Location string
}

// ParseTopic accepts two shapes:
//
//	<prefix>/<camera>/<event>
//	<prefix>/<location>/camera/<camera>/<event>[/state]
func ParseTopic(prefix, topic string) (Topic, bool) {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) < 3 || parts[0] != prefix {
		return Topic{}, false
	}

	var t Topic
	switch {
	case len(parts) >= 5 && parts[2] == "camera":
		if len(parts) > 6 || (len(parts) == 6 && parts[5] != "state") {
			return Topic{}, false
		}
		t = Topic{Location: parts[1], CameraID: parts[3], EventType: parts[4]}
	case len(parts) == 3:
		t = Topic{CameraID: parts[1], EventType: parts[2]}
	default:
		return Topic{}, false
	}

	if t.CameraID == "" || t.EventType == "" {
		return Topic{}, false
	}
	return t, true
}

func eventSet(events []string) map[string]bool {
	if len(events) == 0 {
		events = DefaultEvents
	}
	set := make(map[string]bool, len(events))
	for _, e := range events {
		set[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return set
}
