package f4v

import (
	"bytes"
	"io"

	"github.com/cpopescu/streamgraph/internal/elements/f4vflv"
	"github.com/cpopescu/streamgraph/internal/tag"
)

// flvFileHeader is "FLV", version 1, audio+video present, header size 9,
// followed by the mandatory leading PreviousTagSize0 (always zero).
var flvFileHeader = []byte{'F', 'L', 'V', 0x01, 0x05, 0, 0, 0, 9, 0, 0, 0, 0}

// FlvSerializer implements tag.Serializer for a stream of f4vflv-produced
// FLV tags (http_poster and the saving element both write through a
// tag.Serializer, grounded on HttpPosterElement::CreateSerializer).
type FlvSerializer struct{}

func NewFlvSerializer() *FlvSerializer { return &FlvSerializer{} }

func (s *FlvSerializer) Initialize(w io.Writer) error {
	_, err := w.Write(flvFileHeader)
	return err
}

func (s *FlvSerializer) Serialize(t *tag.Tag, w io.Writer) error {
	switch p := t.Payload.(type) {
	case *f4vflv.FlvPayload:
		_, err := w.Write(p.Data)
		return err
	case *CuePointPayload:
		// A cue point that reached the serializer without having gone
		// through the converter (e.g. GenerateCuePointTableTag prepended
		// directly to a rewritten file) is encoded as a minimal onCuePoint
		// table, keyed by timestamp.
		return s.writeCuePointTable(w, p)
	default:
		return nil
	}
}

// writeCuePointTable encodes the (timestamp -> offset) map as a sequence
// of onCuePoint script-data tags, one per cue point. Converter.CreateCuePoint
// handles the common per-frame case during live playback; this path only
// fires when a decoder's full table is serialized directly (e.g. into a
// rewritten/repaired file, rather than a live stream).
func (s *FlvSerializer) writeCuePointTable(w io.Writer, p *CuePointPayload) error {
	for ts, off := range p.Offsets {
		var amf bytes.Buffer
		writeAMF0String(&amf, "onCuePoint")
		writeAMF0EcmaArray(&amf, map[string]amfValue{
			"time":   {kind: amfNumber, num: float64(ts) / 1000.0},
			"offset": {kind: amfNumber, num: float64(off)},
		})
		if _, err := w.Write(buildFlvTag(flvTagScript, ts, amf.Bytes())); err != nil {
			return err
		}
	}
	return nil
}

var _ tag.Serializer = (*FlvSerializer)(nil)
