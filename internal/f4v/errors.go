package f4v

import "errors"

// ErrNoData signals that the decoder needs more bytes before it can make
// progress; the caller must buffer and retry with the same bytes intact.
// It is never fatal.
var ErrNoData = errors.New("f4v: not enough data")

// DecodeError wraps a fatal inconsistency in the byte stream (a bad size
// field, an atom overlapping mdat, ...). It is fatal for the current atom
// only; the decoder may resynchronize at the next atom boundary.
type DecodeError struct {
	Atom string
	Msg  string
}

func (e *DecodeError) Error() string {
	if e.Atom == "" {
		return "f4v: decode error: " + e.Msg
	}
	return "f4v: decode error in " + e.Atom + ": " + e.Msg
}

func newDecodeError(atomType, msg string) error {
	return &DecodeError{Atom: atomType, Msg: msg}
}
