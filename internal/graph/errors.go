package graph

import "errors"

// Sentinel errors — the core never panics on a data-path or
// registration failure; every failure is a bool/error return or an
// out-of-band EOS tag.
var (
	// ErrCloseInProgress describes why AddRequest returns false on an
	// element that is already closing; new requests are refused immediately.
	ErrCloseInProgress = errors.New("element is closing")
	// ErrRegistrationFailure means downstream refused AddRequest; the
	// caller should try the next candidate or emit EOS downstream.
	ErrRegistrationFailure = errors.New("downstream registration failed")
	// ErrNoSuchElement means a path's head segment names no registered element.
	ErrNoSuchElement = errors.New("no such element")
	// ErrUnknownMedia means the element recognized the path shape but has
	// no media behind it.
	ErrUnknownMedia = errors.New("unknown media")
)
