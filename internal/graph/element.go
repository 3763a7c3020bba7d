package graph

import "github.com/cpopescu/streamgraph/internal/tag"

// DoneCallback is invoked exactly once, on the loop, when Close completes.
type DoneCallback func()

// DescribeCallback delivers a MediaInfo asynchronously to DescribeMedia's
// caller; info is nil if description failed.
type DescribeCallback func(info *tag.MediaInfo)

// Element is the public contract every node in the streaming graph
// implements. Modeled as an interface rather than a class hierarchy so
// elements compose without a shared base type.
type Element interface {
	// ClassName is the element kind's stable name (e.g. "dropping").
	ClassName() string
	// Name is this instance's identifier, used as its mapper registry key.
	Name() string

	Initialize() bool

	// AddRequest registers req against path, invoking callback with every
	// tag subsequently routed to it. path is the remainder after this
	// element's own name has been consumed by the mapper.
	AddRequest(path string, req *Request, callback ProcessingCallback) bool
	// RemoveRequest tears down a previously added request. It must be safe
	// to call reentrantly while the element is iterating its request table.
	RemoveRequest(req *Request)

	HasMedia(path string) bool
	ListMedia(dir string) []string
	DescribeMedia(path string, cb DescribeCallback) bool

	// Close asynchronously drains every live request with an EOS tag and
	// invokes done exactly once, on the loop, when the request table is
	// empty.
	Close(done DoneCallback)
}

// Switchable is the additional contract of a policy-driven element.
type Switchable interface {
	Element
	SwitchCurrentMedia(path string, info *Info, force bool) bool
	CurrentMedia() string
}
