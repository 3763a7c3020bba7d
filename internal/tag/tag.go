// Package tag defines the atomic unit of streaming: the Tag, its flavour
// mask, and the capability/compatibility rules used to route it.
package tag

import (
	"io"

	"github.com/google/uuid"
)

// Kind enumerates the recognized tag kinds flowing through the graph.
type Kind int

const (
	KindSourceStarted Kind = iota
	KindSourceEnded
	KindEOS
	KindComposed
	KindMediaInfo
	KindAudioFrame
	KindVideoFrame
	KindCuePoint
	KindContainerAtom
	KindRawFrame
	KindBootstrapHeader
	KindFlush
)

func (k Kind) String() string {
	switch k {
	case KindSourceStarted:
		return "source-started"
	case KindSourceEnded:
		return "source-ended"
	case KindEOS:
		return "eos"
	case KindComposed:
		return "composed"
	case KindMediaInfo:
		return "media-info"
	case KindAudioFrame:
		return "audio-frame"
	case KindVideoFrame:
		return "video-frame"
	case KindCuePoint:
		return "cue-point"
	case KindContainerAtom:
		return "container-atom"
	case KindRawFrame:
		return "raw-frame"
	case KindBootstrapHeader:
		return "bootstrap-header"
	case KindFlush:
		return "flush"
	default:
		return "unknown"
	}
}

// Attr is a bitfield of boolean tag attributes.
type Attr uint8

const (
	AttrCanResync Attr = 1 << iota // safe splice point
	AttrDroppable
	AttrIsMetadata
)

// Flavour is a bit position in the 32-bit flavour mask; up to 32 lanes.
type Flavour uint

const MaxFlavours = 32

// Mask is a 32-bit bitmap of quality/variant lanes a tag belongs to.
type Mask uint32

// Contains reports whether flavour f is set in the mask.
func (m Mask) Contains(f Flavour) bool {
	if f >= MaxFlavours {
		return false
	}
	return m&(1<<f) != 0
}

// IsSubsetOf reports whether every bit of m is also set in other.
func (m Mask) IsSubsetOf(other Mask) bool {
	return m&^other == 0
}

// Intersect returns the bitwise intersection of two masks.
func (m Mask) Intersect(other Mask) Mask {
	return m & other
}

// Empty reports whether the mask carries no flavours.
func (m Mask) Empty() bool {
	return m == 0
}

// RightmostFlavour returns the lowest set bit's flavour id and the mask with
// that bit cleared. ok is false when the mask is empty. This is the
// "rightmost-set-bit primitive" mask iteration uses throughout the graph.
func RightmostFlavour(m Mask) (f Flavour, rest Mask, ok bool) {
	if m == 0 {
		return 0, 0, false
	}
	lsb := m & (-m)
	id := 0
	for lsb > 1 {
		lsb >>= 1
		id++
	}
	return Flavour(id), m &^ (1 << uint(id)), true
}

// Each calls fn once per flavour set in m, in rightmost-first order.
func Each(m Mask, fn func(Flavour)) {
	for {
		f, rest, ok := RightmostFlavour(m)
		if !ok {
			return
		}
		fn(f)
		m = rest
	}
}

// Capabilities is a (tag kind, flavour mask) pair advertised by a producer
// or requested by a consumer.
type Capabilities struct {
	Kind       Kind
	AnyKind    bool
	FlavourMask Mask
}

// IsCompatible returns true when the two capability sets' kinds overlap (or
// either declares AnyKind) and their flavour masks intersect.
func IsCompatible(a, b Capabilities) bool {
	kindOK := a.AnyKind || b.AnyKind || a.Kind == b.Kind
	if !kindOK {
		return false
	}
	return a.FlavourMask.Intersect(b.FlavourMask) != 0
}

// Tag is the atomic streamed event. Tags are immutable once published; a
// consumer that needs to change a tag must Clone first.
type Tag struct {
	ID          uuid.UUID
	Kind        Kind
	Attrs       Attr
	FlavourMask Mask
	TimestampMs int64
	DurationMs  int64
	Payload     Payload
}

// Payload is the codec-specific body of a tag. Concrete payload types live
// in the element packages that produce them (f4v frames, FLV tag bytes,
// media-info structs, ...); the tag model only needs to carry and clone them.
type Payload interface {
	Clone() Payload
}

// New creates a tag with a freshly minted ID.
func New(kind Kind, attrs Attr, mask Mask, tsMs, durMs int64, payload Payload) *Tag {
	return &Tag{
		ID:          uuid.New(),
		Kind:        kind,
		Attrs:       attrs,
		FlavourMask: mask,
		TimestampMs: tsMs,
		DurationMs:  durMs,
		Payload:     payload,
	}
}

// CanResync reports whether the tag is a safe splice point (resync tag):
// a video keyframe or an audio frame boundary.
func (t *Tag) CanResync() bool { return t.Attrs&AttrCanResync != 0 }

// IsDroppable reports whether the tag may be silently discarded under load.
func (t *Tag) IsDroppable() bool { return t.Attrs&AttrDroppable != 0 }

// IsMetadata reports whether the tag carries non-media metadata.
func (t *Tag) IsMetadata() bool { return t.Attrs&AttrIsMetadata != 0 }

// IsVideo reports whether this is a video-bearing tag (frame or keyframe).
func (t *Tag) IsVideo() bool { return t.Kind == KindVideoFrame }

// IsAudio reports whether this is an audio-bearing tag.
func (t *Tag) IsAudio() bool { return t.Kind == KindAudioFrame }

// Clone returns a deep copy of the tag with a new ID and cloned payload.
// Use Clone before narrowing a tag's flavour mask for one consumer: the
// original, already-published tag must never be mutated in place.
func (t *Tag) Clone() *Tag {
	clone := *t
	clone.ID = uuid.New()
	if t.Payload != nil {
		clone.Payload = t.Payload.Clone()
	}
	return &clone
}

// WithFlavourMask returns a copy of the tag narrowed to mask, cloning only
// if the mask actually differs from the original (the common no-op case
// when a request's flavour set already covers the whole tag).
func (t *Tag) WithFlavourMask(mask Mask) *Tag {
	if mask == t.FlavourMask {
		return t
	}
	clone := t.Clone()
	clone.FlavourMask = mask
	return clone
}

// Serializer is a black-box wire serializer for tags, modeled as this
// minimal interface: initialize against a writer once, then serialize
// each tag in turn.
type Serializer interface {
	Initialize(w io.Writer) error
	Serialize(t *Tag, w io.Writer) error
}
