package graph

import "github.com/cpopescu/streamgraph/internal/tag"

// Info carries per-request context: seek position, auth, and origin.
type Info struct {
	SeekMs  int64
	Auth    string
	Query   string
	Address string
}

// Request is a handle representing one client consuming a stream. The
// mapper and elements treat the pointer as identity; fields are mutable by
// the request's owner only, with no synchronization beyond the
// single-threaded cooperative loop.
type Request struct {
	ID   string
	Caps tag.Capabilities
	Info Info
}

// NewRequest builds a request with a stable id, used as the statistics and
// state-keeper key.
func NewRequest(id string, caps tag.Capabilities, info Info) *Request {
	return &Request{ID: id, Caps: caps, Info: info}
}

// ProcessingCallback is invoked once per tag delivered to a request. Model
// as a function value rather than a permanent-callback-holding-`this`
// closure: the call site supplies whatever state it needs via closure
// capture of Go values, not a raw receiver pointer that could outlive its
// owner.
type ProcessingCallback func(t *tag.Tag, timestampMs int64)
