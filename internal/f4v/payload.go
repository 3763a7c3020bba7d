package f4v

import "github.com/cpopescu/streamgraph/internal/tag"

// AtomPayload carries a decoded container/structural atom (ftyp, moov,
// free, ...) that is not itself a media sample. splitting's
// KindContainerAtom tags carry this.
type AtomPayload struct {
	Atom *Atom
}

func (p *AtomPayload) Clone() tag.Payload {
	clone := *p.Atom
	clone.Body = append([]byte(nil), p.Atom.Body...)
	return &AtomPayload{Atom: &clone}
}

// FramePayload carries one decoded media sample. It satisfies
// f4vflv.F4VFramePayload (tag.Payload + IsKeyframe) by structure, without
// this package importing f4vflv.
type FramePayload struct {
	Frame Frame
}

func (p *FramePayload) Clone() tag.Payload {
	clone := p.Frame
	clone.Payload = append([]byte(nil), p.Frame.Payload...)
	return &FramePayload{Frame: clone}
}

func (p *FramePayload) IsKeyframe() bool { return p.Frame.Header.IsKeyframe }

// RawFramePayload carries an opaque byte range from mdat that could not be
// matched to an index entry: an offset/size mismatch, or frames read
// before any moov was seen. It is the decoder's synthetic raw frame
// fallback.
type RawFramePayload struct {
	Data []byte
}

func (p *RawFramePayload) Clone() tag.Payload {
	return &RawFramePayload{Data: append([]byte(nil), p.Data...)}
}

// CuePointPayload carries GenerateCuePointTableTag's (timestamp -> file
// offset) map.
type CuePointPayload struct {
	Offsets map[int64]int64 // timestamp_ms -> file offset
}

func (p *CuePointPayload) Clone() tag.Payload {
	clone := make(map[int64]int64, len(p.Offsets))
	for k, v := range p.Offsets {
		clone[k] = v
	}
	return &CuePointPayload{Offsets: clone}
}
