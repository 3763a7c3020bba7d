package f4v

import (
	"sort"

	"github.com/cpopescu/streamgraph/internal/tag"
	"github.com/cpopescu/streamgraph/pkg/logging"
)

// rawFrameChunkSize bounds how many bytes a fallback raw frame covers
// when no frame index is available (moov not yet seen, or the index and
// the actual bytes disagree), keeping any one synthetic tag bounded.
const rawFrameChunkSize = 64 * 1024

// maxFrameCacheSize mirrors Decoder::kMaxFrameCacheSize: frames decoded
// out of presentation order are bounded to this many pending entries
// before the decoder falls back to offset order only (we never actually
// reorder here — frames are emitted in the order IO delivers them, which
// is offset order; this constant documents the original's bound for a
// reader comparing the two designs, but our streaming decoder has no
// reorder buffer to size).
const maxFrameCacheSize = 64

// Decoder incrementally demuxes an F4V byte stream into Atom and Frame
// tags, alternating between atom mode and frame mode. It implements
// splitting.Splitter.
type Decoder struct {
	logger logging.Logger

	buf         []byte
	absolutePos int64

	moov      *Atom
	mediaInfo *tag.MediaInfo

	inMdat      bool
	mdatBegin   int64
	mdatEnd     int64
	mdatRemain  int64

	frames       []FrameHeader // composition-order, for seek
	offsetFrames []FrameHeader // offset-order, for sequential IO read
	frameCursor  int

	splitRawFrames bool
	cuePointNumber int64
}

// NewDecoder constructs a decoder starting in atom mode.
func NewDecoder(logger logging.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// SetSplitRawFrames mirrors Decoder::set_split_raw_frames: when true, mdat
// bytes are always emitted as fixed-size raw frames without consulting
// the moov-built index, useful when mdat precedes moov in the stream.
func (d *Decoder) SetSplitRawFrames(v bool) { d.splitRawFrames = v }

// Frames returns the composition-ordered frame index of the mdat being
// read; it is empty outside frame mode.
func (d *Decoder) Frames() []FrameHeader { return d.frames }

// MediaInfo returns the media info extracted from the last decoded moov,
// or nil if none has been seen yet.
func (d *Decoder) MediaInfo() *tag.MediaInfo { return d.mediaInfo }

// Split appends data to the decoder's buffer and returns every tag that
// can now be produced, implementing splitting.Splitter.
func (d *Decoder) Split(data []byte, timestampMs int64) ([]*tag.Tag, error) {
	d.buf = append(d.buf, data...)
	var out []*tag.Tag
	for {
		tags, err := d.decodeOnce()
		if err == ErrNoData {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, tags...)
	}
}

func (d *Decoder) consume(n int) []byte {
	b := d.buf[:n]
	d.buf = d.buf[n:]
	d.absolutePos += int64(n)
	return b
}

func (d *Decoder) decodeOnce() ([]*tag.Tag, error) {
	if d.inMdat {
		return d.decodeFrameOnce()
	}
	return d.decodeAtomOnce()
}

func (d *Decoder) decodeAtomOnce() ([]*tag.Tag, error) {
	a, hlen, err := decodeAtomHeader(d.buf)
	if err != nil {
		return nil, err
	}

	if a.Type == "mdat" {
		if a.Size == 0 {
			return nil, newDecodeError("mdat", "open-ended mdat unsupported in streaming mode")
		}
		d.consume(hlen)
		bodySize := int64(a.Size) - int64(hlen)
		d.mdatBegin = d.absolutePos
		d.mdatEnd = d.mdatBegin + bodySize
		d.mdatRemain = bodySize
		d.inMdat = true
		d.startFrameMode()
		return nil, nil
	}

	if a.Size == 0 {
		return nil, newDecodeError(a.Type, "open-ended atoms unsupported in streaming mode")
	}
	total := int(a.Size)
	if len(d.buf) < total {
		return nil, ErrNoData
	}
	body := append([]byte(nil), d.buf[hlen:total]...)
	d.consume(total)
	a.Body = body

	if a.Type == "moov" {
		d.moov = a
		d.mediaInfo = ExtractMediaInfo(a)
		d.frames = nil
		d.offsetFrames = nil
		return []*tag.Tag{
			tag.New(tag.KindContainerAtom, tag.AttrIsMetadata, ^tag.Mask(0), 0, 0, &AtomPayload{Atom: a}),
			tag.New(tag.KindMediaInfo, tag.AttrIsMetadata, ^tag.Mask(0), 0, 0, &tag.MediaInfoPayload{Info: d.mediaInfo}),
		}, nil
	}
	return []*tag.Tag{tag.New(tag.KindContainerAtom, tag.AttrIsMetadata, ^tag.Mask(0), 0, 0, &AtomPayload{Atom: a})}, nil
}

// startFrameMode builds the frame index from the last-seen moov, if any
// and if split_raw_frames isn't forcing raw mode.
func (d *Decoder) startFrameMode() {
	d.frames = nil
	d.offsetFrames = nil
	d.frameCursor = 0
	if d.splitRawFrames || d.moov == nil {
		return
	}
	frames, err := BuildFrameIndex(d.moov)
	if err != nil {
		if d.logger != nil {
			d.logger.WithError(err).Warn("f4v: cannot build frame index, falling back to raw frames")
		}
		return
	}
	d.frames = frames
	d.offsetFrames = SortByOffset(frames)
}

func (d *Decoder) decodeFrameOnce() ([]*tag.Tag, error) {
	if d.mdatRemain <= 0 {
		d.inMdat = false
		d.frames = nil
		d.offsetFrames = nil
		d.frameCursor = 0
		return nil, nil
	}

	if d.offsetFrames != nil && d.frameCursor < len(d.offsetFrames) {
		fh := d.offsetFrames[d.frameCursor]
		if int64(fh.Size) > d.mdatRemain || fh.Offset != d.absolutePos {
			if d.logger != nil {
				d.logger.WithField("frame", fh.SampleIndex).Warn("f4v: frame index does not match mdat bytes, falling back to raw frames")
			}
			d.offsetFrames = nil
			return nil, nil
		}
		need := int(fh.Size)
		if len(d.buf) < need {
			return nil, ErrNoData
		}
		payload := append([]byte(nil), d.consume(need)...)
		d.mdatRemain -= int64(need)
		d.frameCursor++

		kind := tag.KindAudioFrame
		var attrs tag.Attr
		if fh.IsVideo {
			kind = tag.KindVideoFrame
			if fh.IsKeyframe {
				attrs |= tag.AttrCanResync
			} else {
				attrs |= tag.AttrDroppable
			}
		} else {
			attrs |= tag.AttrCanResync
		}
		frame := Frame{Header: fh, Payload: payload}
		t := tag.New(kind, attrs, ^tag.Mask(0), fh.CompositionMs, fh.DurationMs, &FramePayload{Frame: frame})
		return []*tag.Tag{t}, nil
	}

	chunk := rawFrameChunkSize
	if int64(chunk) > d.mdatRemain {
		chunk = int(d.mdatRemain)
	}
	if len(d.buf) < chunk {
		return nil, ErrNoData
	}
	payload := append([]byte(nil), d.consume(chunk)...)
	d.mdatRemain -= int64(chunk)
	t := tag.New(tag.KindRawFrame, tag.AttrDroppable, ^tag.Mask(0), 0, 0, &RawFramePayload{Data: payload})
	return []*tag.Tag{t}, nil
}

// SeekToFrame resolves frame index i (walking backward to the nearest
// keyframe when toKeyframe is set) to a byte offset, resetting the
// decoder's frame cursor and discarding any buffered bytes — the caller
// must reposition its upstream byte source to the returned offset and
// resume feeding Split.
func (d *Decoder) SeekToFrame(i int, toKeyframe bool) (frameIndex int, offset int64, ok bool) {
	if i < 0 || i >= len(d.frames) {
		return 0, 0, false
	}
	if toKeyframe {
		for i >= 0 && !d.frames[i].IsKeyframe {
			i--
		}
		if i < 0 {
			return 0, 0, false
		}
	}
	off := d.frames[i].Offset
	d.resetForSeek(off)
	return i, off, true
}

// SeekToTime resolves a presentation timestamp to the last frame whose
// timestamp is <= ms, per the same keyframe-walk rule as SeekToFrame.
func (d *Decoder) SeekToTime(ms int64, toKeyframe bool) (frameIndex int, offset int64, ok bool) {
	if len(d.frames) == 0 {
		return 0, 0, false
	}
	i := sort.Search(len(d.frames), func(i int) bool { return d.frames[i].CompositionMs > ms }) - 1
	if i < 0 {
		i = 0
	}
	return d.SeekToFrame(i, toKeyframe)
}

func (d *Decoder) resetForSeek(targetOffset int64) {
	d.buf = nil
	d.absolutePos = targetOffset
	d.inMdat = true
	d.mdatRemain = d.mdatEnd - targetOffset
	if d.offsetFrames != nil {
		idx := sort.Search(len(d.offsetFrames), func(i int) bool { return d.offsetFrames[i].Offset >= targetOffset })
		d.frameCursor = idx
	}
}

// GenerateCuePointTableTag returns a metadata tag carrying a
// (timestamp_ms -> file_offset) map built from every video keyframe in
// the last decoded moov's frame index, or nil if no moov has been decoded
// yet (or its frame index cannot be built).
func (d *Decoder) GenerateCuePointTableTag() *tag.Tag {
	if d.moov == nil {
		return nil
	}
	frames := d.frames
	if len(frames) == 0 {
		var err error
		if frames, err = BuildFrameIndex(d.moov); err != nil {
			return nil
		}
	}
	offsets := make(map[int64]int64)
	for _, fh := range frames {
		if fh.IsVideo && fh.IsKeyframe {
			offsets[fh.CompositionMs] = fh.Offset
		}
	}
	return tag.New(tag.KindCuePoint, tag.AttrIsMetadata, ^tag.Mask(0), 0, 0, &CuePointPayload{Offsets: offsets})
}

// Clear resets the decoder to its initial, atom-mode state.
func (d *Decoder) Clear() {
	*d = Decoder{logger: d.logger, splitRawFrames: d.splitRawFrames}
}
