// Package policy implements the source-selection policies that drive a
// switching element, grounded on policy.h/policy.cc and
// failover_policy.cc/.h.
package policy

import (
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/tag"
)

// DrivenElement is the subset of a switching element a policy drives:
// source selection plus the media listing it picks from.
type DrivenElement interface {
	graph.Switchable
}

// Policy decides, over time, which upstream media a switching element
// plays. NotifyTag/NotifyEos are called by the driven element as tags flow
// and as the current source ends; both report whether the policy is still
// viable (false signals the driving element should stop, e.g. an exhausted
// non-looping playlist).
type Policy interface {
	ClassName() string
	Name() string
	Initialize() bool
	Reset()
	NotifyTag(t *tag.Tag, timestampMs int64) bool
	NotifyEos() bool
	// Close releases any held resources (RPC registration, alarms). It is
	// called once, when the switching element destroys the policy.
	Close()
}

// Commandable is implemented by policies that accept out-of-band commands
// (playlist jumps, queued media) beyond their automatic sequencing.
type Commandable interface {
	GoToNext() bool
	GoToPrev() bool
	AddToPlay(media string) bool
}
