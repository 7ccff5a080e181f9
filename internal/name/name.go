// Package name parses event names of the form "<topic><sep><event>".
//
// A name without the separator addresses an event in the default topic.
// A name with the separator is split on its first occurrence only:
//
//	"click"          -> default topic, event "click"
//	"ui.click"       -> topic "ui", event "click"
//	"ui.button.down" -> topic "ui", event "button.down"
//	".click"         -> topic "", event "click"
package name

import "strings"

// DefaultSeparator is used when no separator is configured.
const DefaultSeparator = "."

// Ref is a parsed event name.
type Ref struct {
	// Topic is the topic part. Only meaningful when Scoped is true.
	Topic string

	// Event is the event part.
	Event string

	// Scoped is true if the raw name contained the separator.
	Scoped bool
}

// Parse splits raw on the first occurrence of sep.
// An empty sep is treated as DefaultSeparator.
func Parse(raw, sep string) Ref {
	sep = Separator(sep)
	topic, event, found := strings.Cut(raw, sep)
	if !found {
		return Ref{Event: raw}
	}
	return Ref{Topic: topic, Event: event, Scoped: true}
}

// Join builds a scoped name from a topic and an event.
//
// Example: Join("fs", "create", ".") -> "fs.create"
func Join(topic, event, sep string) string {
	return topic + Separator(sep) + event
}

// Separator returns sep, or DefaultSeparator if sep is empty.
func Separator(sep string) string {
	if sep == "" {
		return DefaultSeparator
	}
	return sep
}

// Depth returns the number of separator-delimited segments in raw.
// Names deeper than two segments are still routed on the first separator.
func Depth(raw, sep string) int {
	if raw == "" {
		return 0
	}
	return strings.Count(raw, Separator(sep)) + 1
}
